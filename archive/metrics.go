package archive

import "github.com/prometheus/client_golang/prometheus"

var Folds = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "archive",
	Name:      "folds",
})

var FoldedRecords = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "archive",
	Name:      "folded_records",
})

var Snapshots = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "archive",
	Name:      "snapshots",
})

var SyncRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "archive",
	Name:      "sync_requests",
}, []string{"result"})

var PreviewLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "archive",
	Name:      "preview_lookups",
}, []string{"result"})

var Desyncs = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mural",
	Subsystem: "archive",
	Name:      "desyncs",
})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{Folds, FoldedRecords, Snapshots, SyncRequests, PreviewLookups, Desyncs}
}
