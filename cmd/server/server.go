package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/chapool/hot-wallet/internal/api"
	"github/chapool/hot-wallet/internal/chain"
	"github/chapool/hot-wallet/internal/config"
	"github/chapool/hot-wallet/internal/faucet"
	"github/chapool/hot-wallet/internal/monitor"
	"github/chapool/hot-wallet/internal/notify"
	"github/chapool/hot-wallet/internal/registry"
	"github/chapool/hot-wallet/internal/service"
	"github/chapool/hot-wallet/internal/store"
	"github/chapool/hot-wallet/internal/sweeper"
)

const shutdownTimeout = 10 * time.Second

// New returns the server subcommand.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the custody service",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run()
		},
	}
}

func run() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to open store")
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	accounts, err := st.ListAccounts()
	if err != nil {
		log.Error().Err(err).Msg("Failed to enumerate managed addresses")
		return err
	}
	log.Info().Int("managed_addresses", len(accounts)).Msg("Store opened")

	client, err := chain.Dial(ctx, cfg.EndpointURL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to chain endpoint")
		return err
	}
	defer client.Close()

	fct, err := faucet.New(client, cfg.FaucetMnemonic, cfg.ExistentialDeposit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize faucet")
		return err
	}

	dispatcher := notify.NewDispatcher(st)
	sweepWake := make(chan struct{}, 1)

	mon := monitor.New(st, client, dispatcher, cfg.FaucetAddress, cfg.ConfirmationOffset, cfg.PollInterval, sweepWake)
	swp := sweeper.New(st, client, dispatcher, cfg.Mnemonic, cfg.Treasury, cfg.PollInterval, sweepWake)
	reg := registry.NewService(st, cfg.Mnemonic, fct)
	apiServer := api.NewServer(reg, cfg.Port)

	supervisor := service.NewSupervisor(
		service.Task{Name: "monitor", Run: mon.Run},
		service.Task{Name: "sweeper", Run: swp.Run},
		service.Task{Name: "notifier", Run: dispatcher.Run},
	)

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- apiServer.Start()
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- supervisor.Run(ctx)
	}()

	var firstErr error
	select {
	case firstErr = <-runErr:
	case firstErr = <-apiErr:
		stop()
		<-runErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API shutdown failed")
	}

	if firstErr != nil {
		log.Error().Err(firstErr).Msg("Service terminated with error")
		return firstErr
	}

	log.Info().Msg("Service stopped")
	return nil
}
