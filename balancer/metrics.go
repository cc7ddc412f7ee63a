package balancer

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	picksTotal      = metrics.NewCounter("iproto_balancer_picks_total")
	pickErrorsTotal = metrics.NewCounter("iproto_balancer_pick_errors_total")
	exhaustedTotal  = metrics.NewCounter("iproto_balancer_exhausted_total")
)

func memberCounter(event, name string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf("iproto_balancer_member_%s_total{member=%q}", event, name))
}
