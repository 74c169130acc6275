// Package config holds the typed configuration of a connector node.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/supragya/NomadConnector/retry"
	"github.com/supragya/NomadConnector/types"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. NOMAD_UPDATER_INTERVAL.
	EnvPrefix = "NOMAD"

	KindHTTP   = "http"
	KindMemory = "memory"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the top level configuration of a connector node. It is immutable once loaded.
type Config struct {
	BaseConfig `mapstructure:",squash"`

	Home      HomeConfig      `mapstructure:"home"`
	Replicas  []ReplicaConfig `mapstructure:"replicas"`
	Updater   UpdaterConfig   `mapstructure:"updater"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Relayer   RelayerConfig   `mapstructure:"relayer"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Retry     retry.Policy    `mapstructure:"retry"`
	Server    ServerConfig    `mapstructure:"server"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// BaseConfig covers storage and logging.
type BaseConfig struct {
	DBBackend string `mapstructure:"db_backend"`
	DBDir     string `mapstructure:"db_dir"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// ChainConfig says how to reach one chain.
type ChainConfig struct {
	Name   string `mapstructure:"name"`
	Domain uint32 `mapstructure:"domain"`
	// Kind is http for a JSON gateway or memory for an in-process chain.
	Kind string `mapstructure:"kind"`
	RPC  string `mapstructure:"rpc"`
	// RateLimit is requests per second to the gateway, zero for unlimited.
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type HomeConfig struct {
	ChainConfig `mapstructure:",squash"`
}

type ReplicaConfig struct {
	ChainConfig `mapstructure:",squash"`
	// Updater is the trusted updater address for the home this replica follows.
	Updater           string `mapstructure:"updater"`
	OptimisticSeconds uint32 `mapstructure:"optimistic_seconds"`
	// ConnectionManager is the gateway of the replica chain's connection manager. Empty
	// disables watcher unenrollment on this chain.
	ConnectionManager string `mapstructure:"connection_manager"`
}

type UpdaterConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	KeyFile  string        `mapstructure:"keyfile"`
	Interval time.Duration `mapstructure:"interval"`
}

type WatcherConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	KeyFile           string        `mapstructure:"keyfile"`
	Interval          time.Duration `mapstructure:"interval"`
	SubmitFraudProofs bool          `mapstructure:"submit_fraud_proofs"`
	Unenroll          bool          `mapstructure:"unenroll"`
}

type RelayerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type ProcessorConfig struct {
	Cooldown    time.Duration `mapstructure:"cooldown"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	// DeniedSenders are 32 byte identifiers or 20 byte addresses.
	DeniedSenders []string `mapstructure:"denied_senders"`
}

type ServerConfig struct {
	// ListenAddr serves health, metrics and operator endpoints. Empty disables it.
	ListenAddr string `mapstructure:"listen_addr"`
	// GRPCAddr serves the gRPC health service. Empty disables it.
	GRPCAddr  string `mapstructure:"grpc_addr"`
	Namespace string `mapstructure:"namespace"`
}

type MonitorConfig struct {
	// TCPAddr streams alarms as length prefixed protobuf frames. Empty disables it.
	TCPAddr string `mapstructure:"tcp_addr"`
	// LogfmtFile appends alarms as logfmt lines. Empty disables it, "-" is stdout.
	LogfmtFile     string        `mapstructure:"logfmt_file"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseConfig: BaseConfig{
			DBBackend: "goleveldb",
			DBDir:     "data",
			LogLevel:  "info",
			LogFormat: LogFormatText,
		},
		Updater:   UpdaterConfig{Interval: 10 * time.Second},
		Watcher:   WatcherConfig{Interval: 10 * time.Second, SubmitFraudProofs: true},
		Relayer:   RelayerConfig{Interval: 10 * time.Second},
		Processor: ProcessorConfig{Cooldown: 10 * time.Minute, MaxAttempts: 5},
		Retry:     retry.DefaultPolicy(),
		Server:    ServerConfig{Namespace: "nomad"},
		Monitor:   MonitorConfig{ReconnectDelay: 5 * time.Second},
	}
}

// Prepare registers defaults and environment overrides on v. Every scalar key gets a default so
// that NOMAD_ variables are seen by Unmarshal.
func Prepare(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	defaults := map[string]interface{}{
		"db_backend":                  d.DBBackend,
		"db_dir":                      d.DBDir,
		"log_level":                   d.LogLevel,
		"log_format":                  d.LogFormat,
		"updater.enabled":             d.Updater.Enabled,
		"updater.keyfile":             d.Updater.KeyFile,
		"updater.interval":            d.Updater.Interval,
		"watcher.enabled":             d.Watcher.Enabled,
		"watcher.keyfile":             d.Watcher.KeyFile,
		"watcher.interval":            d.Watcher.Interval,
		"watcher.submit_fraud_proofs": d.Watcher.SubmitFraudProofs,
		"watcher.unenroll":            d.Watcher.Unenroll,
		"relayer.enabled":             d.Relayer.Enabled,
		"relayer.interval":            d.Relayer.Interval,
		"processor.cooldown":          d.Processor.Cooldown,
		"processor.max_attempts":      d.Processor.MaxAttempts,
		"retry.max_attempts":          d.Retry.MaxAttempts,
		"retry.initial_delay":         d.Retry.InitialDelay,
		"retry.max_delay":             d.Retry.MaxDelay,
		"retry.multiplier":            d.Retry.Multiplier,
		"server.listen_addr":          d.Server.ListenAddr,
		"server.grpc_addr":            d.Server.GRPCAddr,
		"server.namespace":            d.Server.Namespace,
		"monitor.tcp_addr":            d.Monitor.TCPAddr,
		"monitor.logfmt_file":         d.Monitor.LogfmtFile,
		"monitor.reconnect_delay":     d.Monitor.ReconnectDelay,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Home.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [home] section")
	}
	if len(cfg.Replicas) == 0 {
		return errors.New("at least one replica must be configured")
	}
	seen := map[uint32]string{cfg.Home.Domain: cfg.Home.Name}
	for i, r := range cfg.Replicas {
		if err := r.ValidateBasic(); err != nil {
			return errors.Wrapf(err, "error in [replicas.%d] section", i)
		}
		if other, dup := seen[r.Domain]; dup {
			return errors.Errorf("replica %s reuses domain %d of %s", r.Name, r.Domain, other)
		}
		seen[r.Domain] = r.Name
	}
	for name, d := range map[string]time.Duration{
		"updater.interval": cfg.Updater.Interval,
		"watcher.interval": cfg.Watcher.Interval,
		"relayer.interval": cfg.Relayer.Interval,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if cfg.Updater.Enabled && cfg.Updater.KeyFile == "" {
		return errors.New("updater.keyfile is required when the updater is enabled")
	}
	if cfg.Watcher.Enabled && cfg.Watcher.Unenroll && cfg.Watcher.KeyFile == "" {
		return errors.New("watcher.keyfile is required to sign unenrollment notifications")
	}
	if err := cfg.Processor.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [processor] section")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if cfg.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier can't be less than 1")
	}
	return nil
}

func (cfg BaseConfig) ValidateBasic() error {
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	switch cfg.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return errors.Errorf("unknown log_format %q, expected %s or %s", cfg.LogFormat, LogFormatText, LogFormatJSON)
	}
	if cfg.DBBackend == "" {
		return errors.New("db_backend can't be empty")
	}
	return nil
}

func (cfg ChainConfig) ValidateBasic() error {
	if cfg.Name == "" {
		return errors.New("name can't be empty")
	}
	if cfg.Domain == 0 {
		return errors.Errorf("chain %s has no domain", cfg.Name)
	}
	switch cfg.Kind {
	case KindHTTP:
		if cfg.RPC == "" {
			return errors.Errorf("chain %s needs an rpc address", cfg.Name)
		}
	case KindMemory:
	default:
		return errors.Errorf("chain %s has unknown kind %q", cfg.Name, cfg.Kind)
	}
	if cfg.RateLimit < 0 {
		return errors.New("rate_limit can't be negative")
	}
	return nil
}

func (cfg ReplicaConfig) ValidateBasic() error {
	if err := cfg.ChainConfig.ValidateBasic(); err != nil {
		return err
	}
	if _, err := cfg.TrustedUpdater(); err != nil {
		return err
	}
	return nil
}

// TrustedUpdater parses the configured updater address.
func (cfg ReplicaConfig) TrustedUpdater() (types.Address, error) {
	addr, err := types.HexToAddress(cfg.Updater)
	if err != nil {
		return types.Address{}, errors.Wrapf(err, "replica %s updater", cfg.Name)
	}
	if addr.IsZero() {
		return types.Address{}, errors.Errorf("replica %s has no updater", cfg.Name)
	}
	return addr, nil
}

func (cfg ReplicaConfig) Optimistic() time.Duration {
	return time.Duration(cfg.OptimisticSeconds) * time.Second
}

func (cfg ProcessorConfig) ValidateBasic() error {
	if cfg.Cooldown < 0 {
		return errors.New("cooldown can't be negative")
	}
	if cfg.MaxAttempts < 0 {
		return errors.New("max_attempts can't be negative")
	}
	_, err := cfg.Denied()
	return err
}

// Denied parses the denied senders. Addresses are left padded to identifiers.
func (cfg ProcessorConfig) Denied() ([]types.Hash, error) {
	out := make([]types.Hash, 0, len(cfg.DeniedSenders))
	for _, s := range cfg.DeniedSenders {
		if addr, err := types.HexToAddress(s); err == nil {
			out = append(out, addr.Identifier())
			continue
		}
		h, err := types.HexToHash(s)
		if err != nil {
			return nil, errors.Wrapf(err, "denied sender %q", s)
		}
		out = append(out, h)
	}
	return out, nil
}

// Replica returns the replica configured with the given name or domain.
func (cfg *Config) Replica(nameOrDomain string) (ReplicaConfig, bool) {
	for _, r := range cfg.Replicas {
		if r.Name == nameOrDomain || fmt.Sprint(r.Domain) == nameOrDomain {
			return r, true
		}
	}
	return ReplicaConfig{}, false
}
