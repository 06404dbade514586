// Package metrics exposes Prometheus collectors for the escrow lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Actions counts inbound lifecycle actions by name and result.
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_actions_total",
		Help: "Lifecycle actions processed, by action name and result.",
	}, []string{"action", "result"})

	// Denials counts refused action tokens by reason.
	Denials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_token_denials_total",
		Help: "Action tokens refused, by denial reason.",
	}, []string{"reason"})

	// Transitions counts committed state transitions by edge.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_transitions_total",
		Help: "Committed state transitions, by from and to state.",
	}, []string{"from", "to"})
)
