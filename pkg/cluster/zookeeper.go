package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

const (
	masterNode       = "master"
	participantsNode = "participants"
)

// ErrMasterTaken is returned when another participant holds the master node.
var ErrMasterTaken = errors.New("another participant is registered as master")

type zkConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	Children(path string) ([]string, *zk.Stat, error)
	State() zk.State
	Close()
}

// ZKDirectory publishes the master address and the live participants in
// ZooKeeper. Both are ephemeral nodes and vanish with the session.
type ZKDirectory struct {
	conn     zkConn
	rootPath string
	local    string // node addr

	mu     sync.RWMutex
	master string
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZKDirectory(servers []string, rootPath, localAddr string, sessionTimeout time.Duration) (*ZKDirectory, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	d := newZKDirectory(conn, rootPath, localAddr)
	if err := d.waitConnected(2 * sessionTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func newZKDirectory(conn zkConn, rootPath, localAddr string) *ZKDirectory {
	return &ZKDirectory{
		conn:     conn,
		rootPath: strings.TrimRight(rootPath, "/"),
		local:    localAddr,
	}
}

func (d *ZKDirectory) Close() error {
	d.conn.Close()
	return nil
}

func (d *ZKDirectory) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := d.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = d.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

// RegisterMaster claims the master node for the local address.
func (d *ZKDirectory) RegisterMaster() error {
	if err := d.ensurePath(d.rootPath); err != nil {
		return fmt.Errorf("ensure root path: %w", err)
	}

	path := d.rootPath + "/" + masterNode
	_, err := d.conn.Create(path, []byte(d.local), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		holder, _, err := d.conn.Get(path)
		if err != nil {
			return fmt.Errorf("read master node: %w", err)
		}
		if string(holder) != d.local {
			return fmt.Errorf("%w: %s", ErrMasterTaken, holder)
		}
	} else if err != nil {
		return fmt.Errorf("create master node: %w", err)
	}

	d.setMaster(d.local)
	slog.Info("registered as master", "path", path, "addr", d.local)
	return nil
}

// RegisterParticipant creates the ephemeral node of the local participant.
func (d *ZKDirectory) RegisterParticipant() error {
	if err := d.ensurePath(d.rootPath + "/" + participantsNode); err != nil {
		return fmt.Errorf("ensure participants path: %w", err)
	}

	nodePath := fmt.Sprintf("%s/%s/%s", d.rootPath, participantsNode, d.local)
	_, err := d.conn.Create(nodePath, nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	slog.Info("registered participant", "path", nodePath)
	return nil
}

// Participants lists the live participants in address order.
func (d *ZKDirectory) Participants() ([]string, error) {
	children, _, err := d.conn.Children(d.rootPath + "/" + participantsNode)
	if err != nil {
		return nil, fmt.Errorf("zk children: %w", err)
	}
	slices.Sort(children)
	return children, nil
}

// MasterAddr returns the registered master. Without a running watch it
// reads the node directly.
func (d *ZKDirectory) MasterAddr() (string, error) {
	d.mu.RLock()
	master := d.master
	d.mu.RUnlock()
	if master != "" {
		return master, nil
	}

	data, _, err := d.conn.Get(d.rootPath + "/" + masterNode)
	if err != nil {
		return "", fmt.Errorf("read master node: %w", err)
	}
	return string(data), nil
}

func (d *ZKDirectory) setMaster(addr string) {
	d.mu.Lock()
	d.master = addr
	d.mu.Unlock()
}

// RunWatch follows the master node until ctx is done and calls onChange
// with every new address; an empty address means no master is registered.
func (d *ZKDirectory) RunWatch(ctx context.Context, onChange func(addr string)) {
	path := d.rootPath + "/" + masterNode
	for {
		data, _, ch, err := d.conn.GetW(path)
		if errors.Is(err, zk.ErrNoNode) {
			var exists bool
			exists, _, ch, err = d.conn.ExistsW(path)
			if err == nil && exists {
				continue
			}
			data = nil
		}
		if err != nil {
			slog.Warn("master watch failed", "path", path, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		addr := string(data)
		d.mu.Lock()
		changed := addr != d.master
		d.master = addr
		d.mu.Unlock()
		if changed {
			slog.Info("master changed", "addr", addr)
			if onChange != nil {
				onChange(addr)
			}
		}

		select {
		case ev := <-ch:
			slog.Debug("zk event", "type", ev.Type.String(), "path", ev.Path)
		case <-ctx.Done():
			slog.Debug("zk watch stopped")
			return
		}
	}
}

func (d *ZKDirectory) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := d.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
