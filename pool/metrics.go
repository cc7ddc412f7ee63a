package pool

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

type poolMetrics struct {
	acquired  *metrics.Counter
	created   *metrics.Counter
	destroyed *metrics.Counter
	exhausted *metrics.Counter
	errors    *metrics.Counter
}

func newPoolMetrics(addr string) poolMetrics {
	name := func(metric string) string {
		return fmt.Sprintf("iproto_pool_%s_total{addr=%q}", metric, addr)
	}
	return poolMetrics{
		acquired:  metrics.GetOrCreateCounter(name("acquired")),
		created:   metrics.GetOrCreateCounter(name("created")),
		destroyed: metrics.GetOrCreateCounter(name("destroyed")),
		exhausted: metrics.GetOrCreateCounter(name("exhausted")),
		errors:    metrics.GetOrCreateCounter(name("errors")),
	}
}
