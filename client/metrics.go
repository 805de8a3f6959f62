package client

import "github.com/prometheus/client_golang/prometheus"

var Desyncs = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "client",
	Name:      "desyncs",
})

var Snapshots = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "client",
	Name:      "snapshots",
})

var FrameOverruns = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "client",
	Name:      "frame_overruns",
})

var Edits = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "client",
	Name:      "edits",
})

var MessagesIn = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "client",
	Name:      "messages_in",
})

var MessagesOut = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "client",
	Name:      "messages_out",
})

var SyncRetries = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "client",
	Name:      "sync_retries",
})

var Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "client",
	Name:      "reconnects",
})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{Desyncs, Snapshots, FrameOverruns, Edits, MessagesIn, MessagesOut, SyncRetries, Reconnects}
}
