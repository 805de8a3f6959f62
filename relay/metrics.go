package relay

import "github.com/prometheus/client_golang/prometheus"

var RoomsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "mural",
	Subsystem: "relay",
	Name:      "rooms",
})

var UsersConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "mural",
	Subsystem: "relay",
	Name:      "users",
}, []string{"state"})

var MessagesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "relay",
	Name:      "messages_in",
}, []string{"op"})

var MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "relay",
	Name:      "messages_dropped",
}, []string{"reason"})

var BufferBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "mural",
	Subsystem: "relay",
	Name:      "buffer_bytes",
	Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
})

var WriteBatch = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "mural",
	Subsystem: "relay",
	Name:      "write_batch",
	Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
})

var BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "relay",
	Name:      "bytes_written",
})

// Collectors lists everything a binary should register.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{RoomsOpen, UsersConnected, MessagesIn, MessagesDropped, BufferBytes, WriteBatch, BytesWritten}
}
