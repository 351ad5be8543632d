package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// States lists every lifecycle state exported by keeper_server_state.
var States = []string{"stopped", "starting", "running", "stopping", "crashed"}

var (
	once        sync.Once
	serverState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keeper",
			Subsystem: "server",
			Name:      "state",
			Help:      "Server lifecycle state (1 for the current state, 0 otherwise).",
		},
		[]string{"server", "state"},
	)
	serverRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keeper",
			Subsystem: "server",
			Name:      "restarts_total",
			Help:      "Automatic restarts after a crash.",
		},
		[]string{"server"},
	)
	serverCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keeper",
			Subsystem: "server",
			Name:      "crashes_total",
			Help:      "Unrequested exits classified as crashes.",
		},
		[]string{"server"},
	)
)

func init() {
	once.Do(func() {
		prometheus.MustRegister(serverState, serverRestarts, serverCrashes)
	})
}

// ObserveServerState sets the gauge for the current state to 1 and the
// others to 0.
func ObserveServerState(name, state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		serverState.WithLabelValues(name, s).Set(v)
	}
}

func IncRestarts(name string) { serverRestarts.WithLabelValues(name).Inc() }
func IncCrashes(name string)  { serverCrashes.WithLabelValues(name).Inc() }

// Forget drops every series of a removed server.
func Forget(name string) {
	labels := prometheus.Labels{"server": name}
	serverState.DeletePartialMatch(labels)
	serverRestarts.DeletePartialMatch(labels)
	serverCrashes.DeletePartialMatch(labels)
	ClearProcess(name)
}
