package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/api"
	"github.com/DevEngageLab/mtpush-sdk/internal/core/auth"
	"github.com/DevEngageLab/mtpush-sdk/internal/core/config"
	"github.com/DevEngageLab/mtpush-sdk/internal/core/server"
	"github.com/DevEngageLab/mtpush-sdk/internal/store"
)

const Version = "0.1.0"

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Start the gRPC collector service",
	RunE:  runCollector,
}

func init() {
	rootCmd.AddCommand(collectorCmd)
	collectorCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	collectorCmd.Flags().Int("port", 50051, "gRPC server port")
	collectorCmd.Flags().String("data-dir", "./data", "directory for JSONL event logs")
}

func runCollector(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if cmd.Flags().Changed("host") {
		cfg.Collector.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Collector.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Collector.DataDir, _ = cmd.Flags().GetString("data-dir")
	}

	database, queries, err := openCollectorDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	secrets, err := config.HMACSecrets()
	if err != nil {
		return errors.Wrap(err, "failed to load HMAC secrets")
	}
	if len(secrets) == 0 {
		return errors.New("no HMAC secrets configured (set MTMA_HMAC_SECRET environment variable)")
	}

	service, err := api.NewCollectorService(store.NewProfileStore(queries), cfg.Collector, log.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to create service")
	}

	grpcServer, err := server.NewGRPCServer(cfg.Collector, service, auth.NewAuthenticator(secrets, queries))
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		log.Info().
			Str("version", Version).
			Str("host", cfg.Collector.Host).
			Int("port", cfg.Collector.Port).
			Msg("starting collector")
		return grpcServer.Start(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return grpcServer.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
