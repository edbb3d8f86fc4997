package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/heraldbot/herald/dispatch"
	"github.com/heraldbot/herald/identity"
	"github.com/heraldbot/herald/internal/fsstore"
	"github.com/heraldbot/herald/internal/liveness"
	"github.com/heraldbot/herald/internal/logutil"
	"github.com/heraldbot/herald/internal/statepaths"
	"github.com/heraldbot/herald/registry"
	"github.com/heraldbot/herald/router"
	"github.com/heraldbot/herald/session"
	"github.com/heraldbot/herald/transport/adapters/whatsapp"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and serve mention commands",
		RunE:  runServe,
	}

	cmd.Flags().String("pairing-phone", "", "Phone number the pairing code is requested for (digits, country code first).")
	cmd.Flags().String("prefix", "", "Command prefix character.")
	cmd.Flags().StringArray("owner", nil, "Phone number allowed to command the bot in direct chats (repeatable).")
	cmd.Flags().String("server-bind", "", "Liveness server bind address.")
	cmd.Flags().Int("server-port", 0, "Liveness server port.")

	_ = viper.BindPFlag("bot.pairing_phone", cmd.Flags().Lookup("pairing-phone"))
	_ = viper.BindPFlag("bot.prefix", cmd.Flags().Lookup("prefix"))
	_ = viper.BindPFlag("bot.owners", cmd.Flags().Lookup("owner"))
	_ = viper.BindPFlag("server.bind", cmd.Flags().Lookup("server-bind"))
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("server-port"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	authDir := statepaths.AuthDir()
	dataDir := statepaths.DataDir()
	for _, dir := range []string{authDir, dataDir} {
		if err := fsstore.EnsureDir(dir); err != nil {
			return err
		}
	}

	dialer := whatsapp.NewDialer(authDir, logger)
	store := registry.NewFileStore(statepaths.RegistryFile())
	resolver := identity.NewResolver(dialer.AliasStore(), logger)
	engine := dispatch.NewEngine(dispatch.Options{
		BatchSize:  viper.GetInt("dispatch.batch_size"),
		BatchDelay: viper.GetDuration("dispatch.batch_delay"),
		Logger:     logger,
	})
	rt := router.New(router.Config{
		Prefix: viper.GetString("bot.prefix"),
		Owners: viper.GetStringSlice("bot.owners"),
	}, store, resolver, engine, logger)

	manager := session.NewManager(session.Options{
		Config: session.Config{
			PhoneHint:         viper.GetString("bot.pairing_phone"),
			SettleDelay:       viper.GetDuration("session.settle_delay"),
			PairingRetryDelay: viper.GetDuration("session.pairing_retry_delay"),
			RestartDelay:      viper.GetDuration("session.restart_delay"),
			BackoffFloor:      viper.GetDuration("session.backoff_floor"),
			BackoffCeiling:    viper.GetDuration("session.backoff_ceiling"),
			BackoffGrowth:     viper.GetFloat64("session.backoff_growth"),
		},
		Dialer:  dialer,
		Creds:   dialer.CredentialStore(),
		Handler: rt.Handle,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("herald_starting", "auth_dir", authDir, "data_dir", dataDir)
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	var live *liveness.Server
	if viper.GetBool("server.enabled") {
		addr := net.JoinHostPort(viper.GetString("server.bind"), strconv.Itoa(viper.GetInt("server.port")))
		live = liveness.New(addr, func() string { return string(manager.State()) }, logger)
		go func() {
			if err := live.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("liveness_server_failed", "error", err.Error())
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal_received")
	case <-manager.Done():
		// Logged out remotely. Restarting would just loop until the device
		// is paired again, so exit and let the operator re-pair.
		logger.Warn("session_logged_out_exiting")
	}

	if live != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = live.Shutdown(shutdownCtx)
	}
	return nil
}
