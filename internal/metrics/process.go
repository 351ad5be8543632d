package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	procCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "keeper", Subsystem: "server", Name: "cpu_percent", Help: "Server CPU percent, normalized over all cores"},
		[]string{"server"},
	)
	procRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "keeper", Subsystem: "server", Name: "memory_rss_bytes", Help: "Server RSS bytes"},
		[]string{"server"},
	)
	procThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "keeper", Subsystem: "server", Name: "threads", Help: "Server thread count"},
		[]string{"server"},
	)
)

func init() {
	prometheus.MustRegister(procCPU, procRSS, procThreads)
}

// ObserveProcess records one resource sample.
func ObserveProcess(name string, cpu float64, rss uint64, threads int32) {
	procCPU.WithLabelValues(name).Set(cpu)
	procRSS.WithLabelValues(name).Set(float64(rss))
	procThreads.WithLabelValues(name).Set(float64(threads))
}

// ClearProcess removes resource series once the process is gone.
func ClearProcess(name string) {
	procCPU.DeleteLabelValues(name)
	procRSS.DeleteLabelValues(name)
	procThreads.DeleteLabelValues(name)
}
