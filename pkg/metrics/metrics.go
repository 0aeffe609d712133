// Package metrics holds the prometheus collectors shared by the services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dupahar"

var (
	Appends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "appends_total",
		Help:      "Message records appended to the channel log, by backend and result.",
	}, []string{"backend", "result"})

	PresenceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_writes_total",
		Help:      "Typing presence writes, by operation and result.",
	}, []string{"op", "result"})

	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_bytes_total",
		Help:      "Bytes written to media storage.",
	})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Finished upload sessions, by outcome.",
	}, []string{"outcome"})

	GatewayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gateway_connections",
		Help:      "Open websocket connections on this gateway.",
	})
)

// Result turns an error into the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
