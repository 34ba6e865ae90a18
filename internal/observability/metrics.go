package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wagate_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wagate_send_total", Help: "Outbound send outcomes"},
		[]string{"result"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "wagate_send_latency_seconds", Help: "Transport send latency"},
	)
	Acks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wagate_acks_total", Help: "Ack events by reconciliation outcome"},
		[]string{"outcome"},
	)
	ReconcileLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "wagate_reconcile_latency_seconds", Help: "Time to reconcile one ack event"},
	)
	Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wagate_broadcast_total", Help: "Live update publishes"},
		[]string{"sink", "result"},
	)
	AckRelay = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wagate_ack_relay_total", Help: "Ack relay queue results"},
		[]string{"result"},
	)
	TransportConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "wagate_transport_connected", Help: "1 while the transport session is connected"},
	)
	Observers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "wagate_ws_observers", Help: "Connected websocket observers"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Sends, SendLatency, Acks, ReconcileLatency, Broadcasts, AckRelay,
		TransportConnected, Observers)
}
