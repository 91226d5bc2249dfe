package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/serandev/seran-sjune/internal/config"
	"github.com/serandev/seran-sjune/internal/database"
	"github.com/serandev/seran-sjune/internal/firestore"
	"github.com/serandev/seran-sjune/internal/messages"
	"github.com/serandev/seran-sjune/internal/metrics"
	"github.com/serandev/seran-sjune/internal/notify"
	"github.com/serandev/seran-sjune/internal/ratelimit"
	"github.com/serandev/seran-sjune/internal/users"
	"go.uber.org/zap"
)

const redisPingTimeout = 2 * time.Second

type storage struct {
	users    users.Repository
	messages messages.Repository
	// feed is nil for relational stores; the message service then uses its in-process broker.
	feed  messages.ChangeFeed
	close func() error
}

func openStorage(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (storage, error) {
	if appConfig.DatabaseDriver == config.DriverFirestore {
		client, err := firestore.NewClient(ctx, appConfig.FirestoreProjectID, appConfig.FirestoreCredentialsFile)
		if err != nil {
			return storage{}, err
		}
		userRepo, err := firestore.NewUserRepository(client)
		if err != nil {
			_ = client.Close()
			return storage{}, err
		}
		messageRepo, err := firestore.NewMessageRepository(client)
		if err != nil {
			_ = client.Close()
			return storage{}, err
		}
		return storage{
			users:    userRepo,
			messages: messageRepo,
			feed:     firestore.NewChangeFeed(messageRepo, logger),
			close:    client.Close,
		}, nil
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return storage{}, err
	}
	userRepo, err := users.NewGormRepository(db)
	if err != nil {
		_ = database.Close(db)
		return storage{}, err
	}
	messageRepo, err := messages.NewGormRepository(db)
	if err != nil {
		_ = database.Close(db)
		return storage{}, err
	}
	return storage{
		users:    userRepo,
		messages: messageRepo,
		close:    func() error { return database.Close(db) },
	}, nil
}

// newLimiter prefers Redis when configured and reachable so replicas share cooldowns.
func newLimiter(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (ratelimit.Limiter, func()) {
	if appConfig.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logger.Info("post cooldown backed by redis", zap.String("address", appConfig.RedisAddress))
			return ratelimit.NewRedisLimiter(client, appConfig.PostCooldown, logger), func() { _ = client.Close() }
		}
		logger.Warn("redis unavailable, using in-memory post cooldown", zap.Error(err))
		_ = client.Close()
	}
	limiter := ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{Cooldown: appConfig.PostCooldown})
	return limiter, limiter.Stop
}

func newSender(cfg config.NotifyConfig) (notify.Sender, error) {
	switch cfg.Provider {
	case config.NotifyEmailJS:
		return notify.NewEmailJSSender(notify.EmailJSConfig{
			Endpoint:   cfg.EmailJSEndpoint,
			ServiceID:  cfg.EmailJSServiceID,
			TemplateID: cfg.EmailJSTemplateID,
			PublicKey:  cfg.EmailJSPublicKey,
			PrivateKey: cfg.EmailJSPrivateKey,
		})
	case config.NotifySMTP:
		return notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			To:       cfg.SMTPTo,
			UseTLS:   cfg.SMTPUseTLS,
		})
	default:
		return notify.NewDisabledSender("notifications disabled"), nil
	}
}

func newDispatcher(cfg config.NotifyConfig, sender notify.Sender, recorder metrics.Recorder, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(notify.DispatcherConfig{
		Sender:   sender,
		Title:    cfg.Title,
		SiteURL:  cfg.SiteURL,
		Recorder: recorder,
		Logger:   logger,
	})
}

func newMetrics(appConfig config.AppConfig) (metrics.Recorder, http.Handler) {
	if !appConfig.MetricsEnabled {
		return metrics.Nop{}, nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewCollector(registry), metrics.Handler(registry)
}
