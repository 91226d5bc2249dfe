package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/serandev/seran-sjune/internal/metrics"
	"go.uber.org/zap"
)

const defaultSendTimeout = 10 * time.Second

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Sender   Sender
	Title    string
	SiteURL  string
	Timeout  time.Duration
	Clock    func() time.Time
	Recorder metrics.Recorder
	Logger   *zap.Logger
}

// Dispatcher sends notifications in the background. Callers never wait for delivery
// and never see its errors.
type Dispatcher struct {
	sender   Sender
	title    string
	siteURL  string
	timeout  time.Duration
	clock    func() time.Time
	recorder metrics.Recorder
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	sender := cfg.Sender
	if sender == nil {
		sender = NewDisabledSender("no sender configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:   sender,
		title:    cfg.Title,
		siteURL:  cfg.SiteURL,
		timeout:  timeout,
		clock:    clock,
		recorder: recorder,
		logger:   logger,
	}
}

// Notify fills in title, site url and timestamp, then sends asynchronously.
func (d *Dispatcher) Notify(notification Notification) {
	if notification.Title == "" {
		notification.Title = d.title
	}
	if notification.SiteURL == "" {
		notification.SiteURL = d.siteURL
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = d.clock()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := d.sender.Send(ctx, notification)
		switch {
		case err == nil:
			d.recorder.RecordNotification(metrics.ResultSuccess)
			d.logger.Debug("notification sent", zap.String("message_id", notification.MessageID))
		case errors.Is(err, ErrDisabled):
			d.recorder.RecordNotification("skipped")
		default:
			d.recorder.RecordNotification(metrics.ResultFailure)
			d.logger.Warn("notification failed",
				zap.String("message_id", notification.MessageID),
				zap.String("user_id", notification.UserID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every in-flight notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
