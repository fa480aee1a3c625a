package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config - корневая структура конфигурации приложения
// yaml и validate теги для парсинга и валидации

type Config struct {
	Logger      LoggerConfig      `yaml:"logger" validate:"required"`
	Server      ServerConfig      `yaml:"http-server" validate:"required"`
	DB          DB                `yaml:"db" validate:"required"`
	Replication ReplicationConfig `yaml:"replication" validate:"required"`
}

type ServerConfig struct {
	Port              int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"required"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"required"`
}

type DB struct {
	BaseDir      string `yaml:"base_dir" validate:"required"`
	LogDir       string `yaml:"log_dir" validate:"required"`
	RegistryFile string `yaml:"registry_file" validate:"required,excludesall=/\\"`
	SyncWrites   bool   `yaml:"sync_writes"`

	ApplyQueueSize    int    `yaml:"apply_queue_size" validate:"required,min=1"`
	MaxEntryBytes     int    `yaml:"max_entry_bytes" validate:"min=0"`
	LogRetentionViews uint32 `yaml:"log_retention_views" validate:"required,min=1"`

	// SnapshotCompression applies to snapshots written at checkpoints; reading
	// detects the codec from the file itself.
	SnapshotCompression string `yaml:"snapshot_compression" validate:"omitempty,oneof=none gzip zstd"`
}

type ReplicationConfig struct {
	Role string `yaml:"role" validate:"required,oneof=master slave"`
	// Address is how the other participants reach this node.
	Address      string   `yaml:"address" validate:"required,hostname_port"`
	Master       string   `yaml:"master" validate:"omitempty,hostname_port"`
	Participants []string `yaml:"participants" validate:"dive,hostname_port"`

	ChunkSize         int64         `yaml:"chunk_size" validate:"required,min=1"`
	MaxBatchEntries   int           `yaml:"max_batch_entries" validate:"required,min=1"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"required"`
	StaleTimeout      time.Duration `yaml:"stale_timeout" validate:"required"`
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"required"`
	PollInterval      time.Duration `yaml:"poll_interval" validate:"required"`
	StagingDir        string        `yaml:"staging_dir"`

	Backoff   BackoffConfig   `yaml:"backoff" validate:"required"`
	ZooKeeper ZooKeeperConfig `yaml:"zookeeper"`
}

type BackoffConfig struct {
	Initial     time.Duration `yaml:"initial" validate:"required"`
	Max         time.Duration `yaml:"max" validate:"required,gtefield=Initial"`
	Coefficient int           `yaml:"coefficient" validate:"required,min=1"`
}

type ZooKeeperConfig struct {
	Servers        []string      `yaml:"servers" validate:"dive,hostname_port"`
	Root           string        `yaml:"root" validate:"required_with=Servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

func (c ReplicationConfig) IsMaster() bool {
	return c.Role == "master"
}

func (c ZooKeeperConfig) Enabled() bool {
	return len(c.Servers) > 0
}

var validate = validator.New()

// Validate checks struct tags and the rules spanning several sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	r := c.Replication
	if !r.IsMaster() && r.Master == "" && !r.ZooKeeper.Enabled() {
		return errors.New("invalid config: a slave needs replication.master or replication.zookeeper")
	}
	if r.StaleTimeout < r.HeartbeatInterval {
		return errors.New("invalid config: replication.stale_timeout must not be shorter than the heartbeat interval")
	}
	return nil
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		DB: DB{
			BaseDir:             "./data",
			LogDir:              "./data/log",
			RegistryFile:        "config.db",
			SyncWrites:          true,
			ApplyQueueSize:      1024,
			MaxEntryBytes:       16 << 20,
			LogRetentionViews:   4,
			SnapshotCompression: "zstd",
		},
		Replication: ReplicationConfig{
			Role:              "master",
			Address:           "127.0.0.1:8080",
			ChunkSize:         5 << 20,
			MaxBatchEntries:   4096,
			HeartbeatInterval: time.Second,
			StaleTimeout:      3 * time.Second,
			RequestTimeout:    10 * time.Second,
			PollInterval:      500 * time.Millisecond,
			Backoff: BackoffConfig{
				Initial:     100 * time.Millisecond,
				Max:         10 * time.Second,
				Coefficient: 2,
			},
			ZooKeeper: ZooKeeperConfig{
				Root:           "/lsmrepl",
				SessionTimeout: 10 * time.Second,
			},
		},
	}
}
