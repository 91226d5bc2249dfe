// Package guestbook is the client side of the guestbook: login state, local session
// persistence, posting rules and the live message feed.
package guestbook

import (
	"errors"
	"fmt"
	"time"

	"github.com/serandev/seran-sjune/internal/users"
)

// State is the position of a Client in the login state machine.
type State int

const (
	AuthLoading State = iota
	LoggedOut
	LoggingIn
	LoggedIn
)

func (s State) String() string {
	switch s {
	case AuthLoading:
		return "auth_loading"
	case LoggedOut:
		return "logged_out"
	case LoggingIn:
		return "logging_in"
	case LoggedIn:
		return "logged_in"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrSDKNotLoaded means no social login token source is available yet.
	ErrSDKNotLoaded = errors.New("guestbook: social login sdk not loaded")
	// ErrNotLoggedIn is returned by operations that need a session.
	ErrNotLoggedIn = errors.New("guestbook: not logged in")
	// ErrAuthentication means the provider or the server rejected the credentials.
	ErrAuthentication = errors.New("guestbook: authentication failed")
	// ErrTransient covers network failures and server errors.
	ErrTransient = errors.New("guestbook: temporary failure")
)

// RateLimitError reports a post attempted inside the cooldown window.
type RateLimitError struct {
	RemainingSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("guestbook: please wait %d seconds before posting again", e.RemainingSeconds)
}

// APIError is a non-retryable rejection returned by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("guestbook: server returned %d: %s", e.Status, e.Message)
}

// Session is the persisted login. Timestamp is the login time in epoch milliseconds.
type Session struct {
	User        users.User `json:"user"`
	AccessToken string     `json:"accessToken"`
	Timestamp   int64      `json:"timestamp"`
}

func (s Session) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.UnixMilli(s.Timestamp)) > ttl
}
