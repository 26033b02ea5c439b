package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/catalog"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/config"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/database"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/logging"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/notifications"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/objectstore"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/server"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timeentries"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timers"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/users"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fieldtrack-api",
		Short: "Field crew time tracking backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newTokenCommand() *cobra.Command {
	var displayName string
	var email string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a session token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueSessionToken(auth.SessionClaims{
				UserID:          args[0],
				UserEmail:       email,
				UserDisplayName: displayName,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name carried in the token")
	cmd.Flags().StringVar(&email, "email", "", "Email carried in the token")
	return cmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "CORS allowed origins")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("issuer", defaults.GetString("auth.issuer"), "Session token issuer")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("auth.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("storage-root", defaults.GetString("storage.root"), "Directory holding uploaded job files")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("storage.public_base_url"), "Base URL prefixed to stored file links")
	cmd.PersistentFlags().String("timezone", defaults.GetString("app.timezone"), "IANA timezone for entry dates")
	cmd.PersistentFlags().Duration("tick-interval", defaults.GetDuration("timers.tick_interval"), "Timer stream snapshot interval")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "issuer")
	bindFlag(cmd, "auth.cookie_name", "cookie-name")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "storage.root", "storage-root")
	bindFlag(cmd, "storage.public_base_url", "public-base-url")
	bindFlag(cmd, "app.timezone", "timezone")
	bindFlag(cmd, "timers.tick_interval", "tick-interval")
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
		if cfgFile != "" || !errors.As(err, &configNotFound) {
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

	logger, level, err := logging.NewLeveledLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	logging.WatchLevel(viper.GetViper(), level, logger)

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	blobs, err := timers.NewGormBlobStore(db)
	if err != nil {
		return err
	}
	timerStore, err := timers.NewStore(blobs, logger)
	if err != nil {
		return err
	}
	engine, err := timers.NewEngine(timers.EngineConfig{
		Store:   timerStore,
		Workers: userService,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	notificationService, err := notifications.NewService(db, logger)
	if err != nil {
		return err
	}

	bucket, err := objectstore.NewBucket(objectstore.BucketConfig{
		Filesystem:    afero.NewBasePathFs(afero.NewOsFs(), appConfig.StorageRoot),
		Name:          objectstore.JobFilesBucket,
		PublicBaseURL: appConfig.PublicBaseURL,
	})
	if err != nil {
		return err
	}

	entryService, err := timeentries.NewService(timeentries.ServiceConfig{
		Database: db,
		Timers:   engine,
		Workers:  userService,
		Notifier: notificationService,
		Photos:   bucket,
		Location: appConfig.Location,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	catalogService, err := catalog.NewService(db, logger)
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Users:          userService,
		Timers:         engine,
		Entries:        entryService,
		Catalog:        catalogService,
		Notifications:  notificationService,
		Files:          bucket.FileSystem(),
		FilesBucket:    bucket.Name(),
		AllowedOrigins: appConfig.AllowedOrigins,
		TickInterval:   appConfig.TickInterval,
		Location:       appConfig.Location,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	// The timer stream is long lived, so no WriteTimeout.
	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database", appConfig.DatabasePath),
			zap.String("timezone", appConfig.Location.String()))
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
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
