package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dashboard_messages_total", Help: "Inbound messages dispatched, by kind"},
		[]string{"kind"},
	)
	DiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dashboard_messages_discarded_total", Help: "Inbound messages dropped by the decoder, by reason"},
		[]string{"reason"},
	)
	ConnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dashboard_connect_attempts_total", Help: "Transport open attempts"},
	)
	TransportErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dashboard_transport_errors_total", Help: "Open failures and abrupt closes"},
	)
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dashboard_connection_state", Help: "0=disconnected 1=connecting 2=connected"},
	)
)

func init() {
	prometheus.MustRegister(MessagesTotal, DiscardedTotal, ConnectAttempts, TransportErrors, ConnectionState)
}

func Handler() http.Handler { return promhttp.Handler() }
