package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"ROOT_ENDPOINT":           "http://root.example",
		"ROOT_STATE_SENDER":       "0x1111111111111111111111111111111111111111",
		"ROOT_ROOT_CHAIN_MANAGER": "0x2222222222222222222222222222222222222222",
		"CHILD_ENDPOINT":          "http://child.example",
		"CHILD_BRIDGE_MANAGER":    "1",
		"DB_CONFIG":               "postgres://localhost/relayer",
		"ROOT_CHAIN_ID":           "1",
		"ROOT_SIGNER_KEY":         "deadbeef",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(defaultRootConfirmations), cfg.RootConfirmations)
	assert.Equal(t, defaultChildMaxParallel, cfg.ChildMaxParallel)
	assert.Equal(t, defaultMerkleUpdateInterval, cfg.MerkleUpdateInterval)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ROOT_CONFIRMATIONS", "64")
	t.Setenv("MERKLE_UPDATE_INTERVAL_S", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(64), cfg.RootConfirmations)
	assert.Equal(t, 120*time.Second, cfg.MerkleUpdateInterval)
}

func TestLoad_InvalidIntegerIsError(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ROOT_CONFIRMATIONS", "not-a-number")
	_, err := Load()
	assert.Error(t, err, "a malformed ROOT_CONFIRMATIONS should fail Load")
}

func TestValidate_MissingRequiredField(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
}

func TestValidate_RequiresOneOfWalletFileOrSecret(t *testing.T) {
	cfg := validConfig()
	cfg.ChildWalletFile = ""
	cfg.ChildWalletSecret = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RequiresOneOfSignerKeyOrSecret(t *testing.T) {
	cfg := validConfig()
	cfg.RootSignerKey = ""
	cfg.RootSignerSecret = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_CompleteConfigPasses(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func validConfig() *Config {
	return &Config{
		RootEndpoint:       "http://root.example",
		RootStateSender:    "0x01",
		RootChainManager:   "0x02",
		ChildEndpoint:      "http://child.example",
		ChildBridgeManager: "1",
		DBConfig:           "postgres://localhost/relayer",
		RootChainID:        1,
		ChildWalletFile:    "/secrets/wallet",
		RootSignerKey:      "deadbeef",
	}
}
