package config

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github/chapool/hot-wallet/internal/wallet/hd"
)

// Config is the validated runtime configuration, read from the environment.
type Config struct {
	Mnemonic       string
	FaucetMnemonic string
	FaucetAddress  common.Address
	Treasury       common.Address

	// EndpointURL is the chain endpoint. A ws:// or wss:// URL selects the
	// streaming transport.
	EndpointURL string

	DatabasePath string
	Port         int

	PollInterval       time.Duration
	ConfirmationOffset uint64
	ExistentialDeposit *big.Int
}

// FromEnv loads and validates configuration. A local .env file is honored in
// development; real environment variables win. All validation failures are
// fatal at startup.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("DATABASE_URL", "wallet.db")
	v.SetDefault("PORT", 3000)
	v.SetDefault("POLL_INTERVAL", 10)
	v.SetDefault("BLOCK_OFFSET_FROM_HEAD", 20)
	v.SetDefault("EXISTENTIAL_DEPOSIT", "10000000000000000") // 0.01 native

	cfg := &Config{
		Mnemonic:           v.GetString("MNEMONIC"),
		FaucetMnemonic:     v.GetString("FAUCET_MNEMONIC"),
		DatabasePath:       v.GetString("DATABASE_URL"),
		Port:               v.GetInt("PORT"),
		PollInterval:       time.Duration(v.GetInt("POLL_INTERVAL")) * time.Second,
		ConfirmationOffset: v.GetUint64("BLOCK_OFFSET_FROM_HEAD"),
	}

	if err := hd.ValidateMnemonic(cfg.Mnemonic); err != nil {
		return nil, errors.Wrap(err, "MNEMONIC")
	}
	if err := hd.ValidateMnemonic(cfg.FaucetMnemonic); err != nil {
		return nil, errors.Wrap(err, "FAUCET_MNEMONIC")
	}

	// WS is preferred when both endpoints are configured.
	if ws := v.GetString("WS_URL"); ws != "" {
		cfg.EndpointURL = ws
	} else if rpc := v.GetString("RPC_URL"); rpc != "" {
		cfg.EndpointURL = rpc
	} else {
		return nil, errors.New("either RPC_URL or WS_URL must be set")
	}

	treasury := v.GetString("TREASURY_ADDRESS")
	if !common.IsHexAddress(treasury) {
		return nil, errors.Errorf("TREASURY_ADDRESS %q is not a valid address", treasury)
	}
	cfg.Treasury = common.HexToAddress(treasury)

	faucetAddress := v.GetString("FAUCET_ADDRESS")
	if !common.IsHexAddress(faucetAddress) {
		return nil, errors.Errorf("FAUCET_ADDRESS %q is not a valid address", faucetAddress)
	}
	cfg.FaucetAddress = common.HexToAddress(faucetAddress)

	// The configured faucet address must match the faucet mnemonic at
	// index 0; a mismatch would let faucet fundings be recorded as user
	// deposits.
	derived, err := hd.DeriveAddress(cfg.FaucetMnemonic, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive faucet address")
	}
	if derived != cfg.FaucetAddress {
		return nil, errors.Errorf(
			"FAUCET_ADDRESS %s does not match faucet mnemonic derivation %s",
			cfg.FaucetAddress.Hex(), derived.Hex())
	}

	deposit := strings.TrimSpace(v.GetString("EXISTENTIAL_DEPOSIT"))
	amount, ok := new(big.Int).SetString(deposit, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, errors.Errorf("EXISTENTIAL_DEPOSIT %q is not a positive integer", deposit)
	}
	cfg.ExistentialDeposit = amount

	return cfg, nil
}
