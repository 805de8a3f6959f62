package archive

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

type pebbleGauge struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(m *pebble.Metrics) float64
}

// PebbleCollector exports the archive database's compaction, memtable and
// WAL figures.
type PebbleCollector struct {
	db     *pebble.DB
	gauges []pebbleGauge
}

func pebbleDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName("mural", "archive", "pebble_"+name), help, nil, nil)
}

func NewPebbleCollector(db *pebble.DB) *PebbleCollector {
	counter, gauge := prometheus.CounterValue, prometheus.GaugeValue
	return &PebbleCollector{
		db: db,
		gauges: []pebbleGauge{
			{pebbleDesc("compactions_total", "Compactions performed"), counter,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.Count) }},
			{pebbleDesc("compaction_debt_bytes", "Estimated bytes left to compact"), gauge,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.EstimatedDebt) }},
			{pebbleDesc("compaction_in_progress_bytes", "Bytes being compacted"), gauge,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.InProgressBytes) }},
			{pebbleDesc("memtable_size_bytes", "Memtable size"), gauge,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Size) }},
			{pebbleDesc("memtables", "Live memtables"), gauge,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Count) }},
			{pebbleDesc("memtable_zombie_size_bytes", "Zombie memtable size"), gauge,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.ZombieSize) }},
			{pebbleDesc("wal_files", "Live WAL files"), gauge,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Files) }},
			{pebbleDesc("wal_size_bytes", "Live WAL data"), gauge,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Size) }},
			{pebbleDesc("wal_bytes_in_total", "Logical bytes written to the WAL"), counter,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesIn) }},
			{pebbleDesc("wal_bytes_written_total", "Physical bytes written to the WAL"), counter,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesWritten) }},
		},
	}
}

func (pc *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range pc.gauges {
		ch <- g.desc
	}
}

func (pc *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	m := pc.db.Metrics()
	for _, g := range pc.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, g.kind, g.value(m))
	}
}
