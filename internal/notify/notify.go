// Package notify e-mails the couple whenever a guest leaves a message.
package notify

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by senders that are intentionally switched off.
var ErrDisabled = errors.New("notify: sender disabled")

// Notification describes one new guestbook message.
type Notification struct {
	Nickname  string
	UserID    string
	Content   string
	MessageID string
	Title     string
	SiteURL   string
	Timestamp time.Time
}

// Sender delivers a notification through one channel.
type Sender interface {
	Send(ctx context.Context, notification Notification) error
}

// DisabledSender drops every notification.
type DisabledSender struct {
	reason string
}

// NewDisabledSender returns a sender that always reports ErrDisabled.
func NewDisabledSender(reason string) *DisabledSender {
	return &DisabledSender{reason: reason}
}

func (s *DisabledSender) Send(context.Context, Notification) error {
	return ErrDisabled
}

// Reason explains why notifications are off.
func (s *DisabledSender) Reason() string {
	return s.reason
}

var seoul = time.FixedZone("KST", 9*60*60)

// displayTime renders t the way a Korean reader expects it in an e-mail.
func displayTime(t time.Time) string {
	return t.In(seoul).Format("2006. 1. 2. 15:04:05")
}
