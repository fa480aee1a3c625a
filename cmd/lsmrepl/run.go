package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"

	apihttp "lsmrepl/internal/http"
	"lsmrepl/pkg/cluster"
	"lsmrepl/pkg/config"
	"lsmrepl/pkg/metrics"
	"lsmrepl/pkg/replication"
	"lsmrepl/pkg/rpc"
	"lsmrepl/pkg/store"
	"lsmrepl/pkg/types"
)

// runNode starts the store, the HTTP server and, on a slave, the
// replication stage and the heartbeat. It returns when ctx is canceled.
func runNode(ctx context.Context, cfg config.Config) error {
	rc := cfg.Replication
	slog.Info("lsmrepl starting", "role", rc.Role, "address", rc.Address, "base_dir", cfg.DB.BaseDir)

	m := metrics.NewRegistry()

	st, err := store.Open(cfg.DB, !rc.IsMaster())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	var zkDir *cluster.ZKDirectory
	if rc.ZooKeeper.Enabled() {
		zkDir, err = cluster.NewZKDirectory(rc.ZooKeeper.Servers, rc.ZooKeeper.Root, rc.Address, rc.ZooKeeper.SessionTimeout)
		if err != nil {
			return err
		}
		defer zkDir.Close()

		if err := zkDir.RegisterParticipant(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	var srv *apihttp.Server
	if rc.IsMaster() {
		slaves, err := otherParticipants(rc)
		if err != nil {
			return err
		}
		states, err := replication.NewParticipantsStates(slaves, rc.StaleTimeout)
		if err != nil {
			return err
		}
		ops := replication.NewOperations(st, states.Instrument(m), rc.ChunkSize, rc.MaxBatchEntries, m)
		srv = apihttp.NewServer(st, ops, cfg.Server, m)

		if zkDir != nil {
			if err := zkDir.RegisterMaster(); err != nil {
				return err
			}
		}
	} else {
		var resolver replication.MasterResolver = replication.StaticMaster(rc.Master)
		if zkDir != nil {
			resolver = zkDir
		}

		stage, pacemaker, err := newSlave(st, resolver, rc, cfg.DB.BaseDir, m)
		if err != nil {
			return err
		}
		ops := replication.NewOperations(st, nil, rc.ChunkSize, rc.MaxBatchEntries, m)
		srv = apihttp.NewServer(st, ops, cfg.Server, m)
		srv.SetMaster(resolver)
		srv.SetStage(stage)

		g.Go(func() error { return stage.Run(ctx) })
		g.Go(func() error { return pacemaker.Run(ctx) })
		if zkDir != nil {
			g.Go(func() error {
				zkDir.RunWatch(ctx, func(string) { stage.Notify() })
				return nil
			})
		}
	}

	if err := srv.Start(); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return srv.Stop()
	})

	err = g.Wait()
	slog.Info("lsmrepl stopped")
	return err
}

func newSlave(st *store.Store, master replication.MasterResolver, rc config.ReplicationConfig, baseDir string, m *metrics.Registry) (*replication.Stage, *replication.Pacemaker, error) {
	_, portStr, err := net.SplitHostPort(rc.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("replication.address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, nil, fmt.Errorf("replication.address port: %w", err)
	}

	factory := rpc.NewFactory(rc.RequestTimeout)
	view, err := replication.NewSlaveView(master, rc.Address, rc.Participants, factory, rc.StaleTimeout, rc.RequestTimeout)
	if err != nil {
		return nil, nil, err
	}

	stage := replication.NewStage(st, view, replication.StageConfigFrom(rc, baseDir), m)
	pacemaker := replication.NewPacemaker(st, view, port, rc.HeartbeatInterval, m).
		OnMasterState(func(lsn types.LSN) {
			if stage.Status().LastInserted.Less(lsn) {
				stage.Notify()
			}
		})
	return stage, pacemaker, nil
}

// otherParticipants lists the configured participants except the local one.
func otherParticipants(rc config.ReplicationConfig) ([]string, error) {
	self, err := replication.NormalizeAddress(rc.Address)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range rc.Participants {
		addr, err := replication.NormalizeAddress(p)
		if err != nil {
			return nil, err
		}
		if addr != self {
			out = append(out, addr)
		}
	}
	return out, nil
}
