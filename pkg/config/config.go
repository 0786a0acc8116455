// Package config loads relayer configuration from environment variables,
// with an optional static YAML file supplying non-secret defaults that
// the environment always overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the relayer process. Field names
// mirror the ROOT_*/CHILD_*/MERKLE_* environment variables named in
// spec.md section 6.
type Config struct {
	// ROOT chain (EVM source chain)
	RootEndpoint       string
	RootStateSender    string
	RootChainManager   string
	RootCreationBlock  uint64
	RootConfirmations  uint64
	RootMaxGasPrice    string // decimal wei, parsed with big.Int at use site
	RootMaxGas         uint64
	RootChainID        int64
	RootRequestTimeout time.Duration

	// Merkle update cadence
	MerkleUpdateInterval     time.Duration
	MerkleEscalationInterval time.Duration
	MerkleWarnDuration       time.Duration

	// CHILD chain (smart-contract-platform chain)
	ChildEndpoint       string
	ChildMaxParallel    int
	ChildMaxBehind      time.Duration
	ChildRequestTimeout time.Duration
	ChildBridgeManager  string
	ChildMaxEnergy      uint64

	// Key material (see pkg/secrets)
	ChildWalletFile   string
	ChildWalletSecret string
	RootSignerKey     string
	RootSignerSecret  string

	// Persistence
	DBConfig string

	// Ambient
	LogLevel       string
	PrometheusBind string

	// Read API (cmd/apiserver only)
	APIListenAddr string
}

const (
	defaultRootConfirmations        = 12
	defaultChildMaxParallel         = 8
	defaultChildMaxBehind           = 5 * time.Minute
	defaultRequestTimeout           = 15 * time.Second
	defaultMerkleUpdateInterval     = 10 * time.Minute
	defaultMerkleEscalationInterval = 20 * time.Minute
	defaultMerkleWarnDuration       = 15 * time.Minute
)

// Load reads configuration from environment variables. If CONFIG_FILE
// names a YAML file, its contents seed defaults first; every environment
// variable listed below still takes precedence when set.
func Load() (*Config, error) {
	cfg := &Config{
		RootConfirmations:        defaultRootConfirmations,
		ChildMaxParallel:         defaultChildMaxParallel,
		ChildMaxBehind:           defaultChildMaxBehind,
		RootRequestTimeout:       defaultRequestTimeout,
		ChildRequestTimeout:      defaultRequestTimeout,
		MerkleUpdateInterval:     defaultMerkleUpdateInterval,
		MerkleEscalationInterval: defaultMerkleEscalationInterval,
		MerkleWarnDuration:       defaultMerkleWarnDuration,
		LogLevel:                 "info",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAMLDefaults(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	cfg.RootEndpoint = envOr("ROOT_ENDPOINT", cfg.RootEndpoint)
	cfg.RootStateSender = envOr("ROOT_STATE_SENDER", cfg.RootStateSender)
	cfg.RootChainManager = envOr("ROOT_ROOT_CHAIN_MANAGER", cfg.RootChainManager)
	cfg.ChildEndpoint = envOr("CHILD_ENDPOINT", cfg.ChildEndpoint)
	cfg.ChildBridgeManager = envOr("CHILD_BRIDGE_MANAGER", cfg.ChildBridgeManager)
	cfg.ChildWalletFile = envOr("CHILD_WALLET_FILE", cfg.ChildWalletFile)
	cfg.ChildWalletSecret = envOr("CHILD_WALLET_SECRET", cfg.ChildWalletSecret)
	cfg.RootSignerKey = envOr("ROOT_SIGNER_KEY", cfg.RootSignerKey)
	cfg.RootSignerSecret = envOr("ROOT_SIGNER_SECRET", cfg.RootSignerSecret)
	cfg.DBConfig = envOr("DB_CONFIG", cfg.DBConfig)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.PrometheusBind = envOr("PROMETHEUS_BIND", cfg.PrometheusBind)
	cfg.APIListenAddr = envOr("API_LISTEN_ADDR", cfg.APIListenAddr)
	cfg.RootMaxGasPrice = envOr("ROOT_MAX_GAS_PRICE", cfg.RootMaxGasPrice)

	var err error
	if cfg.RootCreationBlock, err = envUintOr("ROOT_CREATION_BLOCK", cfg.RootCreationBlock); err != nil {
		return nil, err
	}
	if cfg.RootConfirmations, err = envUintOr("ROOT_CONFIRMATIONS", cfg.RootConfirmations); err != nil {
		return nil, err
	}
	if cfg.RootMaxGas, err = envUintOr("ROOT_MAX_GAS", cfg.RootMaxGas); err != nil {
		return nil, err
	}
	if cfg.ChildMaxEnergy, err = envUintOr("CHILD_MAX_ENERGY", cfg.ChildMaxEnergy); err != nil {
		return nil, err
	}
	if cfg.RootChainID, err = envInt64Or("ROOT_CHAIN_ID", cfg.RootChainID); err != nil {
		return nil, err
	}
	if cfg.ChildMaxParallel, err = envIntOr("CHILD_MAX_PARALLEL", cfg.ChildMaxParallel); err != nil {
		return nil, err
	}
	if cfg.RootRequestTimeout, err = envDurationSecondsOr("ROOT_REQUEST_TIMEOUT", cfg.RootRequestTimeout); err != nil {
		return nil, err
	}
	if cfg.ChildRequestTimeout, err = envDurationSecondsOr("CHILD_REQUEST_TIMEOUT", cfg.ChildRequestTimeout); err != nil {
		return nil, err
	}
	if cfg.ChildMaxBehind, err = envDurationSecondsOr("CHILD_MAX_BEHIND_S", cfg.ChildMaxBehind); err != nil {
		return nil, err
	}
	if cfg.MerkleUpdateInterval, err = envDurationSecondsOr("MERKLE_UPDATE_INTERVAL_S", cfg.MerkleUpdateInterval); err != nil {
		return nil, err
	}
	if cfg.MerkleEscalationInterval, err = envDurationSecondsOr("MERKLE_ESCALATION_INTERVAL_S", cfg.MerkleEscalationInterval); err != nil {
		return nil, err
	}
	if cfg.MerkleWarnDuration, err = envDurationSecondsOr("MERKLE_WARN_DURATION_S", cfg.MerkleWarnDuration); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures required fields for the full relayer process are
// present. cmd/apiserver only requires DBConfig and APIListenAddr and
// validates those itself.
func (c *Config) Validate() error {
	required := map[string]string{
		"ROOT_ENDPOINT":           c.RootEndpoint,
		"ROOT_STATE_SENDER":       c.RootStateSender,
		"ROOT_ROOT_CHAIN_MANAGER": c.RootChainManager,
		"CHILD_ENDPOINT":          c.ChildEndpoint,
		"CHILD_BRIDGE_MANAGER":    c.ChildBridgeManager,
		"DB_CONFIG":               c.DBConfig,
	}
	var missing []string
	for name, val := range required {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.RootChainID == 0 {
		return fmt.Errorf("ROOT_CHAIN_ID must be set")
	}
	if c.ChildWalletFile == "" && c.ChildWalletSecret == "" {
		return fmt.Errorf("one of CHILD_WALLET_FILE or CHILD_WALLET_SECRET must be set")
	}
	if c.RootSignerKey == "" && c.RootSignerSecret == "" {
		return fmt.Errorf("one of ROOT_SIGNER_KEY or ROOT_SIGNER_SECRET must be set")
	}
	return nil
}

func loadYAMLDefaults(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envUintOr(key string, fallback uint64) (uint64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envIntOr(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envInt64Or(key string, fallback int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envDurationSecondsOr(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	secs, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}
