package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/chapool/hot-wallet/internal/config"
)

const (
	testMnemonic = "test test test test test test test test test test test junk"
	// Derivation of testMnemonic at m/44'/60'/0'/0/0.
	testFaucetAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MNEMONIC", testMnemonic)
	t.Setenv("FAUCET_MNEMONIC", testMnemonic)
	t.Setenv("FAUCET_ADDRESS", testFaucetAddress)
	t.Setenv("TREASURY_ADDRESS", "0x7EA0000000000000000000000000000000000001")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("WS_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("BLOCK_OFFSET_FROM_HEAD", "")
	t.Setenv("EXISTENTIAL_DEPOSIT", "")
}

func TestFromEnvDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.EndpointURL)
	assert.Equal(t, "wallet.db", cfg.DatabasePath)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, uint64(20), cfg.ConfirmationOffset)
	assert.Equal(t, "10000000000000000", cfg.ExistentialDeposit.String())
	assert.Equal(t, testFaucetAddress, cfg.FaucetAddress.Hex())
}

func TestFromEnvPrefersWebSocket(t *testing.T) {
	setValidEnv(t)
	t.Setenv("WS_URL", "ws://localhost:8546")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8546", cfg.EndpointURL)
}

func TestFromEnvRequiresEndpoint(t *testing.T) {
	setValidEnv(t)
	t.Setenv("RPC_URL", "")

	_, err := config.FromEnv()
	assert.Error(t, err)
}

func TestFromEnvRejectsBadMnemonic(t *testing.T) {
	setValidEnv(t)
	t.Setenv("MNEMONIC", "one two three")

	_, err := config.FromEnv()
	assert.Error(t, err)
}

func TestFromEnvRejectsFaucetAddressMismatch(t *testing.T) {
	setValidEnv(t)
	t.Setenv("FAUCET_ADDRESS", "0x7EA0000000000000000000000000000000000001")

	_, err := config.FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestFromEnvRejectsBadExistentialDeposit(t *testing.T) {
	setValidEnv(t)
	t.Setenv("EXISTENTIAL_DEPOSIT", "lots")

	_, err := config.FromEnv()
	assert.Error(t, err)
}
