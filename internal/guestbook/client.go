package guestbook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/serandev/seran-sjune/internal/content"
	"github.com/serandev/seran-sjune/internal/messages"
	"github.com/serandev/seran-sjune/internal/users"
	"go.uber.org/zap"
)

const (
	// DefaultSessionTTL is how long a stored login stays valid on the client.
	DefaultSessionTTL = 12 * time.Hour
	// DefaultCooldown is the minimum gap between two posts from one client.
	DefaultCooldown = 30 * time.Second

	defaultRequestTimeout = 10 * time.Second
	maxResponseBytes      = 4 << 20
)

// TokenSource yields a social login access token, typically from the provider SDK.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a token obtained out of band.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(t))
	if token == "" {
		return "", fmt.Errorf("%w: empty provider token", ErrAuthentication)
	}
	return token, nil
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      SessionStore
	Tokens     TokenSource
	SessionTTL time.Duration
	Cooldown   time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Client talks to the guestbook API on behalf of one visitor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	streamer   *http.Client
	store      SessionStore
	tokens     TokenSource
	ttl        time.Duration
	cooldown   time.Duration
	clock      func() time.Time
	logger     *zap.Logger

	mu      sync.Mutex
	state   State
	session *Session
}

// New validates cfg. The client starts in AuthLoading until Restore is called.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("guestbook: api url must be absolute: %q", cfg.BaseURL)
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	streamer := &http.Client{Transport: httpClient.Transport, Jar: httpClient.Jar}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		streamer:   streamer,
		store:      store,
		tokens:     cfg.Tokens,
		ttl:        ttl,
		cooldown:   cooldown,
		clock:      clock,
		logger:     logger,
		state:      AuthLoading,
	}, nil
}

// State reports the current login state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns the logged in user.
func (c *Client) User() (users.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != LoggedIn || c.session == nil {
		return users.User{}, false
	}
	return c.session.User, true
}

// Restore loads a stored session. Sessions older than the TTL are discarded.
func (c *Client) Restore() (State, error) {
	stored, err := c.store.Load()
	if err != nil {
		c.setState(LoggedOut, nil)
		return LoggedOut, fmt.Errorf("guestbook: load session: %w", err)
	}
	if stored.Session == nil || stored.Session.AccessToken == "" {
		c.setState(LoggedOut, nil)
		return LoggedOut, nil
	}
	if stored.Session.expired(c.clock(), c.ttl) {
		c.logger.Debug("stored session expired", zap.String("user_id", stored.Session.User.ID))
		stored.Session = nil
		c.setState(LoggedOut, nil)
		return LoggedOut, c.store.Save(stored)
	}
	c.setState(LoggedIn, stored.Session)
	return LoggedIn, nil
}

// Login obtains a provider token and exchanges it for a guestbook session.
func (c *Client) Login(ctx context.Context) (users.User, error) {
	if c.tokens == nil {
		c.setState(LoggedOut, nil)
		return users.User{}, ErrSDKNotLoaded
	}
	c.setState(LoggingIn, nil)

	providerToken, err := c.tokens.Token(ctx)
	if err != nil {
		c.setState(LoggedOut, nil)
		if errors.Is(err, ErrAuthentication) {
			return users.User{}, err
		}
		return users.User{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	var response struct {
		Success     bool       `json:"success"`
		User        users.User `json:"user"`
		AccessToken string     `json:"accessToken"`
		ExpiresIn   int64      `json:"expiresIn"`
	}
	status, err := c.doJSON(ctx, http.MethodPost, "/auth-kakao", "", map[string]string{"kakaoToken": providerToken}, &response)
	if err != nil {
		c.setState(LoggedOut, nil)
		return users.User{}, err
	}
	if status >= http.StatusInternalServerError {
		c.setState(LoggedOut, nil)
		return users.User{}, fmt.Errorf("%w: server returned %d", ErrTransient, status)
	}
	if status != http.StatusOK || !response.Success || response.AccessToken == "" {
		c.setState(LoggedOut, nil)
		return users.User{}, fmt.Errorf("%w: server returned %d", ErrAuthentication, status)
	}

	session := &Session{
		User:        response.User,
		AccessToken: response.AccessToken,
		Timestamp:   c.clock().UnixMilli(),
	}
	stored, err := c.store.Load()
	if err != nil {
		stored = StoredState{}
	}
	stored.Session = session
	if err := c.store.Save(stored); err != nil {
		c.logger.Warn("failed to persist session", zap.Error(err))
	}
	c.setState(LoggedIn, session)
	c.logger.Info("logged in", zap.String("user_id", session.User.ID))
	return session.User, nil
}

// Logout forgets the session and the post cooldown.
func (c *Client) Logout() error {
	c.setState(LoggedOut, nil)
	return c.store.Save(StoredState{})
}

// Post validates, sanitizes and submits a message as the logged in user.
func (c *Client) Post(ctx context.Context, raw string) (messages.MessageWithUser, error) {
	session, err := c.activeSession()
	if err != nil {
		return messages.MessageWithUser{}, err
	}

	stored, err := c.store.Load()
	if err != nil {
		stored = StoredState{Session: session}
	}
	if remaining := c.cooldownRemaining(stored.LastPostAt); remaining > 0 {
		return messages.MessageWithUser{}, &RateLimitError{RemainingSeconds: ceilSeconds(remaining)}
	}

	if err := content.Validate(raw); err != nil {
		return messages.MessageWithUser{}, err
	}
	body := map[string]string{
		"userId":  session.User.ID,
		"content": content.Sanitize(raw),
	}

	var created messages.MessageWithUser
	var failure errorResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/messages", session.AccessToken, body, &created, &failure)
	if err != nil {
		return messages.MessageWithUser{}, err
	}

	switch {
	case status == http.StatusCreated:
		stored.Session = session
		stored.LastPostAt = c.clock().UnixMilli()
		if err := c.store.Save(stored); err != nil {
			c.logger.Warn("failed to persist post time", zap.Error(err))
		}
		return created, nil
	case status == http.StatusTooManyRequests:
		seconds := failure.RetryAfterSeconds
		if seconds < 1 {
			seconds = ceilSeconds(c.cooldown)
		}
		return messages.MessageWithUser{}, &RateLimitError{RemainingSeconds: seconds}
	case status == http.StatusUnauthorized:
		_ = c.Logout()
		return messages.MessageWithUser{}, fmt.Errorf("%w: %s", ErrAuthentication, failure.Error)
	case status == http.StatusBadRequest && failure.Reason != "":
		return messages.MessageWithUser{}, &content.ValidationError{Reason: failure.Reason}
	case status >= http.StatusInternalServerError:
		return messages.MessageWithUser{}, fmt.Errorf("%w: server returned %d", ErrTransient, status)
	default:
		return messages.MessageWithUser{}, &APIError{Status: status, Message: failure.Error}
	}
}

// Messages fetches the current list, newest first.
func (c *Client) Messages(ctx context.Context) ([]messages.MessageWithUser, error) {
	var list []messages.MessageWithUser
	status, err := c.doJSON(ctx, http.MethodGet, "/messages", "", nil, &list)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned %d", ErrTransient, status)
	}
	if list == nil {
		list = []messages.MessageWithUser{}
	}
	return list, nil
}

// CooldownRemaining reports how long until the next post is allowed.
func (c *Client) CooldownRemaining() time.Duration {
	stored, err := c.store.Load()
	if err != nil {
		return 0
	}
	return c.cooldownRemaining(stored.LastPostAt)
}

func (c *Client) cooldownRemaining(lastPostAt int64) time.Duration {
	if lastPostAt <= 0 {
		return 0
	}
	elapsed := c.clock().Sub(time.UnixMilli(lastPostAt))
	if elapsed < 0 {
		elapsed = 0
	}
	return c.cooldown - elapsed
}

func (c *Client) activeSession() (*Session, error) {
	c.mu.Lock()
	session := c.session
	state := c.state
	c.mu.Unlock()

	if state != LoggedIn || session == nil {
		return nil, ErrNotLoggedIn
	}
	if session.expired(c.clock(), c.ttl) {
		_ = c.Logout()
		return nil, ErrNotLoggedIn
	}
	return session, nil
}

func (c *Client) setState(state State, session *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.session = session
}

type errorResponse struct {
	Error             string `json:"error"`
	Reason            string `json:"reason"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// doJSON sends payload and decodes a 2xx body into success, anything else into the optional failure target.
// Transport failures are reported as ErrTransient.
func (c *Client) doJSON(ctx context.Context, method, path, bearer string, payload any, success any, failure ...any) (int, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return response.StatusCode, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	target := success
	if response.StatusCode < 200 || response.StatusCode > 299 {
		target = nil
		if len(failure) > 0 {
			target = failure[0]
		}
	}
	if target != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, target); err != nil && response.StatusCode >= 200 && response.StatusCode <= 299 {
			return response.StatusCode, fmt.Errorf("%w: decode response: %v", ErrTransient, err)
		}
	}
	return response.StatusCode, nil
}

func ceilSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
