// Package metrics exposes guestbook counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultFailure  = "failure"
)

// Recorder is the subset of metrics used by services and handlers.
type Recorder interface {
	RecordLogin(result string)
	RecordMessageCreated()
	RecordMessageRejected(reason string)
	RecordNotification(result string)
	StreamSubscribed()
	StreamUnsubscribed()
}

// Collector records guestbook metrics in a Prometheus registry.
type Collector struct {
	logins        *prometheus.CounterVec
	created       prometheus.Counter
	rejections    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	subscribers   prometheus.Gauge
}

// NewCollector registers every guestbook metric on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestbook_logins_total",
			Help: "Social login attempts by result.",
		}, []string{"result"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guestbook_messages_created_total",
			Help: "Messages stored.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestbook_message_rejections_total",
			Help: "Message posts refused before storage, by reason.",
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestbook_notifications_total",
			Help: "Notification e-mails by result.",
		}, []string{"result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guestbook_stream_subscribers",
			Help: "Open live message streams.",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.created,
		c.rejections,
		c.notifications,
		c.subscribers,
	)

	return c
}

func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

func (c *Collector) RecordMessageCreated() {
	c.created.Inc()
}

func (c *Collector) RecordMessageRejected(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordNotification(result string) {
	c.notifications.WithLabelValues(result).Inc()
}

func (c *Collector) StreamSubscribed() {
	c.subscribers.Inc()
}

func (c *Collector) StreamUnsubscribed() {
	c.subscribers.Dec()
}

// Handler serves the registry for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordLogin(string)           {}
func (Nop) RecordMessageCreated()        {}
func (Nop) RecordMessageRejected(string) {}
func (Nop) RecordNotification(string)    {}
func (Nop) StreamSubscribed()            {}
func (Nop) StreamUnsubscribed()          {}
