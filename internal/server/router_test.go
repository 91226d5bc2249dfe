package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/serandev/seran-sjune/internal/auth"
	"github.com/serandev/seran-sjune/internal/messages"
	"github.com/serandev/seran-sjune/internal/metrics"
	"github.com/serandev/seran-sjune/internal/users"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestKakaoAuthCreatesUserAndIssuesSession(t *testing.T) {
	fixture := newServerFixture(t)

	response := fixture.login(t, kakaoTokenGood)

	if !response.Success || response.User.ID != "1001" || response.User.Nickname != "신부친구" {
		t.Fatalf("unexpected login response %#v", response)
	}
	if response.ExpiresIn != 3600 {
		t.Fatalf("expected one hour session, got %d", response.ExpiresIn)
	}
	claims, err := fixture.issuer.Validate(response.AccessToken)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.UserID() != "1001" {
		t.Fatalf("unexpected session subject %q", claims.UserID())
	}
	if _, err := fixture.users.Get(t.Context(), "1001"); err != nil {
		t.Fatalf("expected user to be stored: %v", err)
	}
}

func TestKakaoAuthRejections(t *testing.T) {
	fixture := newServerFixture(t)

	testCases := []struct {
		name   string
		body   interface{}
		status int
	}{
		{name: "missing body", body: nil, status: http.StatusBadRequest},
		{name: "malformed body", body: "{", status: http.StatusBadRequest},
		{name: "blank token", body: map[string]string{"kakaoToken": "  "}, status: http.StatusBadRequest},
		{name: "provider rejects token", body: map[string]string{"kakaoToken": kakaoTokenRejected}, status: http.StatusUnauthorized},
		{name: "provider unreachable", body: map[string]string{"kakaoToken": kakaoTokenUnavailable}, status: http.StatusInternalServerError},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := fixture.do(t, http.MethodPost, "/auth-kakao", testCase.body, nil)
			if recorder.Code != testCase.status {
				t.Fatalf("expected status %d, got %d (%s)", testCase.status, recorder.Code, recorder.Body.String())
			}
			var payload map[string]interface{}
			if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
				t.Fatalf("expected json error body: %v", err)
			}
			if _, ok := payload["error"]; !ok {
				t.Fatalf("expected error field, got %v", payload)
			}
		})
	}

	if _, err := fixture.users.Get(t.Context(), "1001"); !errors.Is(err, users.ErrUserNotFound) {
		t.Fatalf("failed logins must not create users, got %v", err)
	}
}

func TestKakaoAuthWithIDToken(t *testing.T) {
	fixture := newServerFixture(t, func(deps *Dependencies) { deps.IDTokens = stubIDTokens{} })

	recorder := fixture.do(t, http.MethodPost, "/auth-kakao", map[string]string{"idToken": "id-token-good"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	var response kakaoAuthResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if response.User.ID != "3003" || response.AccessToken == "" {
		t.Fatalf("unexpected login response %#v", response)
	}

	recorder = fixture.do(t, http.MethodPost, "/auth-kakao", map[string]string{"idToken": "forged"}, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged id token, got %d", recorder.Code)
	}
}

func TestKakaoAuthIDTokenNeedsVerifier(t *testing.T) {
	fixture := newServerFixture(t)

	recorder := fixture.do(t, http.MethodPost, "/auth-kakao", map[string]string{"idToken": "id-token-good"}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without id token support, got %d", recorder.Code)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	fixture := newServerFixture(t)
	session := fixture.login(t, kakaoTokenGood)

	headers := bearer(session.AccessToken)
	headers["X-Forwarded-For"] = "203.0.113.9, 10.0.0.1"
	created := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": "hello"}, headers)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", created.Code, created.Body.String())
	}
	var createdMessage messages.MessageWithUser
	if err := json.Unmarshal(created.Body.Bytes(), &createdMessage); err != nil {
		t.Fatalf("failed to decode created message: %v", err)
	}
	if createdMessage.Content != "hello" || createdMessage.UserID != "1001" || createdMessage.User.Nickname != "신부친구" {
		t.Fatalf("unexpected created message %#v", createdMessage)
	}
	if strings.Contains(created.Body.String(), "203.0.113.9") {
		t.Fatalf("client address must not be exposed: %s", created.Body.String())
	}

	listed := fixture.do(t, http.MethodGet, "/messages", nil, nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listed.Code)
	}
	var list []messages.MessageWithUser
	if err := json.Unmarshal(listed.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != createdMessage.ID || list[0].Content != "hello" {
		t.Fatalf("unexpected list %#v", list)
	}

	var stored messages.Message
	if err := fixture.db.Where("id = ?", createdMessage.ID).Take(&stored).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.IPAddress != "203.0.113.9" {
		t.Fatalf("expected forwarded client address, got %q", stored.IPAddress)
	}
	if fixture.notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", fixture.notifier.count())
	}
	if fixture.notifier.notifications[0].MessageID != createdMessage.ID {
		t.Fatalf("notification does not reference the new message")
	}
}

func TestListMessagesEmptyIsArray(t *testing.T) {
	fixture := newServerFixture(t)

	recorder := fixture.do(t, http.MethodGet, "/messages", nil, nil)
	if recorder.Code != http.StatusOK || strings.TrimSpace(recorder.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %d %q", recorder.Code, recorder.Body.String())
	}
}

func TestCreateMessageIdentityRules(t *testing.T) {
	fixture := newServerFixture(t)
	session := fixture.login(t, kakaoTokenGood)
	fixture.login(t, kakaoTokenSecondGuest)

	testCases := []struct {
		name    string
		body    map[string]string
		headers map[string]string
		status  int
	}{
		{name: "no identity", body: map[string]string{"content": "축하합니다"}, status: http.StatusBadRequest},
		{name: "body identity without session", body: map[string]string{"userId": "1001", "content": "축하합니다"}, status: http.StatusUnauthorized},
		{name: "forged session", body: map[string]string{"content": "축하합니다"}, headers: bearer("not-a-token"), status: http.StatusUnauthorized},
		{name: "session for someone else", body: map[string]string{"userId": "2002", "content": "축하합니다"}, headers: bearer(session.AccessToken), status: http.StatusForbidden},
		{name: "missing content", body: map[string]string{"userId": "1001"}, headers: bearer(session.AccessToken), status: http.StatusBadRequest},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := fixture.do(t, http.MethodPost, "/messages", testCase.body, testCase.headers)
			if recorder.Code != testCase.status {
				t.Fatalf("expected status %d, got %d (%s)", testCase.status, recorder.Code, recorder.Body.String())
			}
		})
	}

	var count int64
	fixture.db.Model(&messages.Message{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected posts must not be stored, found %d", count)
	}
}

func TestCreateMessageLegacyBodyIdentity(t *testing.T) {
	fixture := newServerFixture(t, func(deps *Dependencies) {
		deps.RequireSession = false
	})
	fixture.login(t, kakaoTokenGood)

	unknown := fixture.do(t, http.MethodPost, "/messages", map[string]string{"userId": "ghost", "content": "축하합니다"}, nil)
	if unknown.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown author, got %d (%s)", unknown.Code, unknown.Body.String())
	}

	known := fixture.do(t, http.MethodPost, "/messages", map[string]string{"userId": "1001", "content": "축하합니다"}, nil)
	if known.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", known.Code, known.Body.String())
	}
}

func TestCreateMessageValidation(t *testing.T) {
	fixture := newServerFixture(t)
	session := fixture.login(t, kakaoTokenGood)

	testCases := []struct {
		name    string
		content string
		reason  string
	}{
		{name: "too short", content: "a", reason: "too_short"},
		{name: "too long", content: strings.Repeat("축하", 251), reason: "too_long"},
		{name: "repeated", content: "ㅋㅋㅋㅋㅋㅋㅋㅋㅋㅋ", reason: "repeated_characters"},
		{name: "script", content: "hi <script>alert(1)</script>", reason: "forbidden_content"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": testCase.content}, bearer(session.AccessToken))
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (%s)", recorder.Code, recorder.Body.String())
			}
			var payload map[string]interface{}
			if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if payload["reason"] != testCase.reason {
				t.Fatalf("expected reason %q, got %v", testCase.reason, payload["reason"])
			}
		})
	}
}

func TestCreateMessageSanitizesMarkup(t *testing.T) {
	fixture := newServerFixture(t)
	session := fixture.login(t, kakaoTokenGood)

	recorder := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": "행복하세요 <b>영원히</b> & 늘"}, bearer(session.AccessToken))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	var created messages.MessageWithUser
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if strings.ContainsAny(created.Content, "<>") {
		t.Fatalf("angle brackets must be stripped, got %q", created.Content)
	}
	if !strings.Contains(created.Content, "& 늘") {
		t.Fatalf("plain text must be stored as typed, got %q", created.Content)
	}
}

func TestCreateMessageCooldown(t *testing.T) {
	fixture := newServerFixture(t)
	session := fixture.login(t, kakaoTokenGood)

	first := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": "첫 번째 축하"}, bearer(session.AccessToken))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	second := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": "두 번째 축하"}, bearer(session.AccessToken))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d (%s)", second.Code, second.Body.String())
	}
	if second.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", second.Header().Get("Retry-After"))
	}
	var payload struct {
		RetryAfterSeconds int64 `json:"retryAfterSeconds"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &payload); err != nil || payload.RetryAfterSeconds != 30 {
		t.Fatalf("unexpected cooldown body %s", second.Body.String())
	}

	other := fixture.login(t, kakaoTokenSecondGuest)
	third := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": "다른 하객"}, bearer(other.AccessToken))
	if third.Code != http.StatusCreated {
		t.Fatalf("cooldown must be per author, got %d", third.Code)
	}
}

func TestCreateMessageEmptyAfterSanitizingKeepsCooldownOpen(t *testing.T) {
	fixture := newServerFixture(t)
	session := fixture.login(t, kakaoTokenGood)

	rejected := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": "<>"}, bearer(session.AccessToken))
	if rejected.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rejected.Code, rejected.Body.String())
	}
	if !strings.Contains(rejected.Body.String(), `"reason":"too_short"`) {
		t.Fatalf("expected too_short reason, got %s", rejected.Body.String())
	}

	accepted := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": "다시 축하해요"}, bearer(session.AccessToken))
	if accepted.Code != http.StatusCreated {
		t.Fatalf("a rejected post must not start the cooldown, got %d (%s)", accepted.Code, accepted.Body.String())
	}
}

func TestCreateMessageStoreFailureKeepsCooldownOpen(t *testing.T) {
	fixture := newServerFixture(t)
	session := fixture.login(t, kakaoTokenGood)

	if err := fixture.db.Exec("ALTER TABLE messages RENAME TO messages_offline").Error; err != nil {
		t.Fatalf("failed to take messages table offline: %v", err)
	}
	failed := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": "저장 안 될 축하"}, bearer(session.AccessToken))
	if failed.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d (%s)", failed.Code, failed.Body.String())
	}
	if !strings.Contains(failed.Body.String(), "messages.create.insert_failed") {
		t.Fatalf("expected insert_failed code, got %s", failed.Body.String())
	}
	if err := fixture.db.Exec("ALTER TABLE messages_offline RENAME TO messages").Error; err != nil {
		t.Fatalf("failed to restore messages table: %v", err)
	}

	retried := fixture.do(t, http.MethodPost, "/messages", map[string]string{"content": "다시 보내는 축하"}, bearer(session.AccessToken))
	if retried.Code != http.StatusCreated {
		t.Fatalf("a failed insert must not start the cooldown, got %d (%s)", retried.Code, retried.Body.String())
	}
	if fixture.notifier.count() != 1 {
		t.Fatalf("expected one notification for the stored post, got %d", fixture.notifier.count())
	}
}

func TestCORSPreflightAllowsAnyOrigin(t *testing.T) {
	fixture := newServerFixture(t)

	request := httptest.NewRequest(http.MethodOptions, "/messages", http.NoBody)
	request.Header.Set("Origin", "https://wedding.example")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	allowHeaders := strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers"))
	if !strings.Contains(allowHeaders, "authorization") {
		t.Fatalf("expected Authorization to be allowed, got %q", allowHeaders)
	}
}

func TestWrongMethodReturnsJSON405(t *testing.T) {
	fixture := newServerFixture(t)

	for _, path := range []string{"/messages", "/auth-kakao"} {
		recorder := fixture.do(t, http.MethodDelete, path, nil, nil)
		if recorder.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", path, recorder.Code)
		}
		if !strings.Contains(recorder.Body.String(), "Method not allowed") {
			t.Fatalf("%s: unexpected body %s", path, recorder.Body.String())
		}
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	fixture := newServerFixture(t)
	fixture.login(t, kakaoTokenGood)

	health := fixture.do(t, http.MethodGet, "/healthz", nil, nil)
	if health.Code != http.StatusOK || !strings.Contains(health.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", health.Code, health.Body.String())
	}

	scrape := fixture.do(t, http.MethodGet, "/metrics", nil, nil)
	if scrape.Code != http.StatusOK {
		t.Fatalf("expected metrics to be served, got %d", scrape.Code)
	}
	if !strings.Contains(scrape.Body.String(), `guestbook_logins_total{result="success"} 1`) {
		t.Fatalf("expected login counter in scrape:\n%s", scrape.Body.String())
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingProfileFetcher) {
		t.Fatalf("expected missing kakao dependency, got %v", err)
	}
}

func TestResolveAuthorLogsExpiredSessionAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/messages", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessions{validateErr: auth.ErrExpiredSession},
		metrics:  metrics.Nop{},
		logger:   zap.New(core),
	}

	_, failure := handler.resolveAuthor(ctx, "")
	if failure == nil || failure.status != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized failure, got %#v", failure)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired session, got %s", entries[0].Level)
	}
}

func TestResolveAuthorLogsForgedSessionAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/messages", http.NoBody)
	request.Header.Set("Authorization", "Bearer forged-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessions{validateErr: auth.ErrInvalidSession},
		metrics:  metrics.Nop{},
		logger:   zap.New(core),
	}

	handler.resolveAuthor(ctx, "")

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected a single warn entry, got %v", entries)
	}
	if entries[0].Message != "session validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

type stubSessions struct {
	validateErr error
}

func (s stubSessions) Issue(string, string) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubSessions) Validate(string) (auth.SessionClaims, error) {
	return auth.SessionClaims{}, s.validateErr
}
