package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
)

var BatchCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mirror",
	Subsystem: "slave",
	Name:      "batches",
}, []string{"result"})

var CommandCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mirror",
	Subsystem: "slave",
	Name:      "commands",
}, []string{"kind"})

var ConsistencyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mirror",
	Subsystem: "slave",
	Name:      "consistency_failures",
}, []string{"kind"})

var BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "mirror",
	Subsystem: "slave",
	Name:      "batch_duration_ms",
	Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
})

const (
	batchOK           = "ok"
	batchInconsistent = "inconsistent"
	batchDefect       = "defect"
)

// StoreCollector exports the size and id bounds of a slave's store.
type StoreCollector struct {
	slave *Slave

	containers     *prometheus.Desc
	elements       *prometheus.Desc
	maxContainerID *prometheus.Desc
	maxElementID   *prometheus.Desc
}

func NewStoreCollector(slave *Slave, name string) *StoreCollector {
	labels := prometheus.Labels{"mirror": name}
	return &StoreCollector{
		slave: slave,
		containers: prometheus.NewDesc(
			"mirror_store_containers",
			"Number of live containers",
			nil, labels,
		),
		elements: prometheus.NewDesc(
			"mirror_store_elements",
			"Number of live elements",
			nil, labels,
		),
		maxContainerID: prometheus.NewDesc(
			"mirror_store_max_container_id",
			"Highest live container id",
			nil, labels,
		),
		maxElementID: prometheus.NewDesc(
			"mirror_store_max_element_id",
			"Highest live element id",
			nil, labels,
		),
	}
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.containers
	ch <- c.elements
	ch <- c.maxContainerID
	ch <- c.maxElementID
}

func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	var containers, elements, maxContainer, maxElement float64
	c.slave.View(func(s *Store) {
		d := s.Digest()
		containers = float64(d.ContainerCount)
		elements = float64(d.ElementCount)
		maxContainer = float64(d.MaxContainerID)
		maxElement = float64(d.MaxElementID)
	})
	ch <- prometheus.MustNewConstMetric(c.containers, prometheus.GaugeValue, containers)
	ch <- prometheus.MustNewConstMetric(c.elements, prometheus.GaugeValue, elements)
	ch <- prometheus.MustNewConstMetric(c.maxContainerID, prometheus.GaugeValue, maxContainer)
	ch <- prometheus.MustNewConstMetric(c.maxElementID, prometheus.GaugeValue, maxElement)
}

var ResyncCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mirror",
	Subsystem: "host",
	Name:      "resync_requests",
})

// Metrics lists the package level collectors.
func Metrics() []prometheus.Collector {
	return []prometheus.Collector{BatchCount, CommandCount, ConsistencyFailures, BatchDuration, ResyncCount}
}
