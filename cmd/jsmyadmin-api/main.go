package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/auth"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/config"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/logging"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/mysql"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/server"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/statestore"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/workspace"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jsmyadmin-api",
		Short: "jsMyAdmin console backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("mysql-host", defaults.GetString("mysql.host"), "Managed MySQL server host")
	cmd.PersistentFlags().Int("mysql-port", defaults.GetInt("mysql.port"), "Managed MySQL server port")
	cmd.PersistentFlags().String("state-path", defaults.GetString("state.path"), "SQLite state store path")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Int("cache-ttl-minutes", defaults.GetInt("cache.ttl_minutes"), "Metadata cache TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "mysql.host", "mysql-host")
	bindFlag(cmd, "mysql.port", "mysql-port")
	bindFlag(cmd, "state.path", "state-path")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "cache.ttl_minutes", "cache-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := statestore.OpenSQLiteStore(statestore.SQLiteStoreConfig{
		Path:   appConfig.StatePath,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	openClient := func(username, password string) (workspace.DatabaseClient, error) {
		return mysql.Open(mysql.Config{
			Host:     appConfig.MySQLHost,
			Port:     appConfig.MySQLPort,
			Username: username,
			Password: password,
			Logger:   logger,
		})
	}

	verifier, err := auth.NewCredentialVerifier(auth.CredentialVerifierConfig{
		Host: appConfig.MySQLHost,
		Dial: func(ctx context.Context, username, password string) error {
			client, err := mysql.Open(mysql.Config{
				Host:     appConfig.MySQLHost,
				Port:     appConfig.MySQLPort,
				Username: username,
				Password: password,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer client.Close()
			return client.Ping(ctx)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "jsmyadmin-auth",
		Audience:      "jsmyadmin-api",
		TokenTTL:      appConfig.SessionTTL,
	})

	registry, err := workspace.NewRegistry(workspace.RegistryConfig{
		Store:      store,
		OpenClient: openClient,
		Clock:      time.Now,
		CacheTTL:   appConfig.CacheTTL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer registry.Shutdown()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:       verifier,
		TokenManager:   tokenManager,
		Registry:       registry,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
