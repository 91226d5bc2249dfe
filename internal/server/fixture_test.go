package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/serandev/seran-sjune/internal/auth"
	"github.com/serandev/seran-sjune/internal/messages"
	"github.com/serandev/seran-sjune/internal/metrics"
	"github.com/serandev/seran-sjune/internal/notify"
	"github.com/serandev/seran-sjune/internal/ratelimit"
	"github.com/serandev/seran-sjune/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	kakaoTokenGood        = "kakao-good"
	kakaoTokenSecondGuest = "kakao-second"
	kakaoTokenRejected    = "kakao-rejected"
	kakaoTokenUnavailable = "kakao-down"
)

type serverFixture struct {
	handler  http.Handler
	db       *gorm.DB
	issuer   *auth.TokenIssuer
	users    *users.Service
	messages *messages.Service
	notifier *recordingNotifier
	registry *prometheus.Registry
	realtime *RealtimeDispatcher
}

func newServerFixture(t *testing.T, configure ...func(*Dependencies)) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&users.User{}, &messages.Message{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	userRepo, _ := users.NewGormRepository(db)
	userService, err := users.NewService(users.ServiceConfig{Repository: userRepo})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	messageRepo, _ := messages.NewGormRepository(db)
	messageService, err := messages.NewService(messages.ServiceConfig{Repository: messageRepo, Authors: userService})
	if err != nil {
		t.Fatalf("failed to create message service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "guestbook-auth",
		Audience:      "guestbook-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	limiter := ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{Cooldown: 30 * time.Second})
	t.Cleanup(limiter.Stop)

	registry := prometheus.NewRegistry()
	notifier := &recordingNotifier{}
	realtime := NewRealtimeDispatcher()
	deps := Dependencies{
		Kakao:          stubKakao{},
		Users:          userService,
		Sessions:       issuer,
		Messages:       messageService,
		Limiter:        limiter,
		Notifier:       notifier,
		Realtime:       realtime,
		Metrics:        metrics.NewCollector(registry),
		MetricsHandler: metrics.Handler(registry),
		RequireSession: true,
		Logger:         zap.NewNop(),
	}
	for _, apply := range configure {
		apply(&deps)
	}

	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &serverFixture{
		handler:  handler,
		db:       db,
		issuer:   issuer,
		users:    userService,
		messages: messageService,
		notifier: notifier,
		registry: registry,
		realtime: realtime,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *serverFixture) login(t *testing.T, kakaoToken string) kakaoAuthResponse {
	t.Helper()
	recorder := f.do(t, http.MethodPost, "/auth-kakao", map[string]string{"kakaoToken": kakaoToken}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var response kakaoAuthResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return response
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type stubKakao struct{}

func (stubKakao) FetchProfile(_ context.Context, accessToken string) (auth.KakaoProfile, error) {
	switch accessToken {
	case kakaoTokenGood:
		return auth.KakaoProfile{ExternalID: "1001", Nickname: "신부친구", AvatarURL: "https://k.kakaocdn.net/1001.png"}, nil
	case kakaoTokenSecondGuest:
		return auth.KakaoProfile{ExternalID: "2002", Nickname: "신랑친구", AvatarURL: "https://k.kakaocdn.net/2002.png"}, nil
	case kakaoTokenRejected:
		return auth.KakaoProfile{}, auth.ErrAuthentication
	default:
		return auth.KakaoProfile{}, auth.ErrProviderUnavailable
	}
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []notify.Notification
}

func (n *recordingNotifier) Notify(notification notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notifications)
}

type stubIDTokens struct{}

func (stubIDTokens) VerifyIDToken(_ context.Context, rawToken string) (auth.KakaoProfile, error) {
	if rawToken == "id-token-good" {
		return auth.KakaoProfile{ExternalID: "3003", Nickname: "부모님친구"}, nil
	}
	return auth.KakaoProfile{}, auth.ErrAuthentication
}
