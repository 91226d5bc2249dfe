package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/serandev/seran-sjune/internal/auth"
	"github.com/serandev/seran-sjune/internal/content"
	"github.com/serandev/seran-sjune/internal/messages"
	"github.com/serandev/seran-sjune/internal/metrics"
	"github.com/serandev/seran-sjune/internal/notify"
	"github.com/serandev/seran-sjune/internal/ratelimit"
	"github.com/serandev/seran-sjune/internal/users"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 25 * time.Second

var (
	errMissingProfileFetcher = errors.New("kakao profile dependency required")
	errMissingUserDirectory  = errors.New("user directory dependency required")
	errMissingSessionTokens  = errors.New("session token dependency required")
	errMissingMessageStore   = errors.New("message store dependency required")
)

type ProfileFetcher interface {
	FetchProfile(ctx context.Context, accessToken string) (auth.KakaoProfile, error)
}

type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawToken string) (auth.KakaoProfile, error)
}

type UserDirectory interface {
	Upsert(ctx context.Context, externalID, nickname, avatarURL string) (users.User, error)
}

type SessionTokens interface {
	Issue(userID, nickname string) (string, int64, error)
	Validate(token string) (auth.SessionClaims, error)
}

type MessageStore interface {
	Create(ctx context.Context, userID, content, ipAddress string) (messages.MessageWithUser, error)
	List(ctx context.Context) ([]messages.MessageWithUser, error)
	Subscribe(ctx context.Context, callback func([]messages.MessageWithUser)) func()
}

type Notifier interface {
	Notify(notification notify.Notification)
}

type Sanitizer interface {
	Sanitize(raw string) string
}

// Dependencies wires the HTTP boundary. Kakao, Users, Sessions and Messages are required.
type Dependencies struct {
	Kakao ProfileFetcher
	// IDTokens enables login with a Kakao OpenID Connect ID token instead of an access token.
	IDTokens IDTokenVerifier
	Users    UserDirectory
	Sessions SessionTokens
	Messages MessageStore

	Limiter   ratelimit.Limiter
	Notifier  Notifier
	Sanitizer Sanitizer
	Realtime  *RealtimeDispatcher

	Metrics        metrics.Recorder
	MetricsHandler http.Handler

	// RequireSession rejects posts that identify the author only through the request body.
	RequireSession    bool
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Kakao == nil {
		return nil, errMissingProfileFetcher
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionTokens
	}
	if deps.Messages == nil {
		return nil, errMissingMessageStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = content.NewServerSanitizer()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
		realtime.Attach(context.Background(), deps.Messages)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	handler := &httpHandler{
		kakao:          deps.Kakao,
		idTokens:       deps.IDTokens,
		users:          deps.Users,
		sessions:       deps.Sessions,
		messages:       deps.Messages,
		limiter:        deps.Limiter,
		notifier:       deps.Notifier,
		sanitizer:      sanitizer,
		realtime:       realtime,
		metrics:        recorder,
		requireSession: deps.RequireSession,
		heartbeat:      heartbeat,
		logger:         logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	router.POST("/auth-kakao", handler.handleKakaoAuth)
	router.GET("/messages", handler.handleListMessages)
	router.POST("/messages", handler.handleCreateMessage)
	router.GET("/messages/stream", handler.handleMessageStream)

	return router, nil
}

type httpHandler struct {
	kakao          ProfileFetcher
	idTokens       IDTokenVerifier
	users          UserDirectory
	sessions       SessionTokens
	messages       MessageStore
	limiter        ratelimit.Limiter
	notifier       Notifier
	sanitizer      Sanitizer
	realtime       *RealtimeDispatcher
	metrics        metrics.Recorder
	requireSession bool
	heartbeat      time.Duration
	logger         *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request completed", fields...)
			return
		}
		logger.Debug("request completed", fields...)
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// clientIP prefers the first proxy-reported address.
func clientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
		return realIP
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return messages.UnknownIPAddress
}
