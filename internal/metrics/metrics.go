// Package metrics holds the server's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "teamchat",
		Name:      "messages_persisted_total",
		Help:      "Messages written to the datastore.",
	})

	MessagesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "teamchat",
		Name:      "messages_deleted_total",
		Help:      "Messages hard-deleted by their sender.",
	})

	SendsRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "teamchat",
		Name:      "sends_rate_limited_total",
		Help:      "Send requests rejected by the per-sender limiter.",
	})

	// PushResults counts relayed push requests by result ("ok" or "error").
	PushResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamchat",
		Name:      "push_requests_total",
		Help:      "Push relay requests by result.",
	}, []string{"result"})

	WebsocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "teamchat",
		Name:      "websocket_clients",
		Help:      "Connected snapshot stream clients.",
	})

	PresenceSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "teamchat",
		Name:      "presence_swept_total",
		Help:      "Stale presence records removed by the sweeper.",
	})
)

func init() {
	prometheus.MustRegister(MessagesPersisted)
	prometheus.MustRegister(MessagesDeleted)
	prometheus.MustRegister(SendsRateLimited)
	prometheus.MustRegister(PushResults)
	prometheus.MustRegister(WebsocketClients)
	prometheus.MustRegister(PresenceSwept)
}

// ObservePush records the outcome of one relayed push request.
func ObservePush(err error) {
	if err != nil {
		PushResults.WithLabelValues("error").Inc()
		return
	}
	PushResults.WithLabelValues("ok").Inc()
}
