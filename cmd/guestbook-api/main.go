package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/serandev/seran-sjune/internal/auth"
	"github.com/serandev/seran-sjune/internal/config"
	"github.com/serandev/seran-sjune/internal/logging"
	"github.com/serandev/seran-sjune/internal/messages"
	"github.com/serandev/seran-sjune/internal/server"
	"github.com/serandev/seran-sjune/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	sessionIssuer   = "guestbook-auth"
	sessionAudience = "guestbook-api"
	shutdownTimeout = 10 * time.Second
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "guestbook-api",
		Short: "Wedding guestbook backend service",
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Storage backend (sqlite, postgres, firestore)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("firestore-project-id", "", "Firestore project ID")
	cmd.PersistentFlags().String("kakao-api-base-url", defaults.GetString("kakao.api_base_url"), "Kakao API base URL")
	cmd.PersistentFlags().String("kakao-app-key", "", "Kakao REST API key; enables ID token login")
	cmd.PersistentFlags().Duration("session-ttl", defaults.GetDuration("session.ttl"), "Session token lifetime")
	cmd.PersistentFlags().Duration("post-cooldown", defaults.GetDuration("post.cooldown"), "Minimum interval between posts by one author")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for a shared post cooldown")
	cmd.PersistentFlags().String("notify-provider", defaults.GetString("notify.provider"), "Notification provider (disabled, emailjs, smtp)")
	cmd.PersistentFlags().Bool("metrics-enabled", defaults.GetBool("metrics.enabled"), "Expose Prometheus metrics on /metrics")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "firestore.project_id", "firestore-project-id")
	bindFlag(cmd, "kakao.api_base_url", "kakao-api-base-url")
	bindFlag(cmd, "kakao.app_key", "kakao-app-key")
	bindFlag(cmd, "session.ttl", "session-ttl")
	bindFlag(cmd, "post.cooldown", "post-cooldown")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "notify.provider", "notify-provider")
	bindFlag(cmd, "metrics.enabled", "metrics-enabled")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

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

	logger, err := logging.NewLogger("guestbook-api", appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.close(); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}()

	userService, err := users.NewService(users.ServiceConfig{
		Repository: store.users,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	messageService, err := messages.NewService(messages.ServiceConfig{
		Repository: store.messages,
		Authors:    userService,
		Feed:       store.feed,
		Clock:      time.Now,
		IDProvider: messages.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        sessionIssuer,
		Audience:      sessionAudience,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	kakaoClient, err := auth.NewKakaoClient(auth.KakaoClientConfig{
		BaseURL: appConfig.KakaoBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var idTokens server.IDTokenVerifier
	if appConfig.KakaoAppKey != "" {
		idTokens, err = auth.NewKakaoIDTokenVerifier(auth.KakaoIDTokenConfig{
			AppKey:  appConfig.KakaoAppKey,
			JWKSURL: appConfig.KakaoJWKSURL,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
	}

	recorder, metricsHandler := newMetrics(appConfig)

	limiter, stopLimiter := newLimiter(signalCtx, appConfig, logger)
	defer stopLimiter()

	sender, err := newSender(appConfig.Notify)
	if err != nil {
		return err
	}
	dispatcher := newDispatcher(appConfig.Notify, sender, recorder, logger)
	defer dispatcher.Wait()

	realtime := server.NewRealtimeDispatcher()
	detach := realtime.Attach(signalCtx, messageService)
	defer detach()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Kakao:          kakaoClient,
		IDTokens:       idTokens,
		Users:          userService,
		Sessions:       tokenIssuer,
		Messages:       messageService,
		Limiter:        limiter,
		Notifier:       dispatcher,
		Realtime:       realtime,
		Metrics:        recorder,
		MetricsHandler: metricsHandler,
		RequireSession: appConfig.PostRequireSession,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	// Streams run until their request context ends, so shutdown cancels them explicitly.
	requestCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return requestCtx },
	}
	httpServer.RegisterOnShutdown(cancelRequests)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.String("notify_provider", appConfig.Notify.Provider))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
