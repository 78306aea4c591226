package journal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the journal's pebble WAL, memtable and compaction
// figures.
type Collector struct {
	j *Journal

	compactionCount *prometheus.Desc
	compactionDebt  *prometheus.Desc
	memtableSize    *prometheus.Desc
	memtableCount   *prometheus.Desc
	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc
	records         *prometheus.Desc
}

func NewCollector(j *Journal) *Collector {
	return &Collector{
		j: j,
		compactionCount: prometheus.NewDesc(
			"mirror_journal_compaction_count_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionDebt: prometheus.NewDesc(
			"mirror_journal_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted to reach a stable state",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"mirror_journal_memtable_size_bytes",
			"Current size of the memtable in bytes",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"mirror_journal_memtable_count",
			"Current count of memtables",
			nil, nil,
		),
		walFiles: prometheus.NewDesc(
			"mirror_journal_wal_files",
			"Number of live WAL files",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"mirror_journal_wal_size_bytes",
			"Size of the live WAL data in bytes",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"mirror_journal_wal_bytes_written_total",
			"Physical bytes written to the WAL",
			nil, nil,
		),
		records: prometheus.NewDesc(
			"mirror_journal_records",
			"Number of batches kept in the journal",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactionCount
	ch <- c.compactionDebt
	ch <- c.memtableSize
	ch <- c.memtableCount
	ch <- c.walFiles
	ch <- c.walSize
	ch <- c.walBytesWritten
	ch <- c.records
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.j.Metrics()
	if m == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.compactionCount, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.compactionDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(c.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.walBytesWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))

	first, last := c.j.Bounds()
	var n float64
	if last > 0 {
		n = float64(last - first + 1)
	}
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, n)
}
