package chit

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
)

var preconditionErrors = []error{
	ErrNotFound,
	ErrInvalidArgument,
	ErrConcurrentModification,
	ErrCapacityExceeded,
	ErrAlreadyEnrolled,
	ErrGroupNotAcceptingMembers,
	ErrMemberHasContributions,
	ErrDuplicateContribution,
	ErrCycleMismatch,
	ErrInvalidAmount,
	ErrDuplicateAuction,
	ErrCycleNotActive,
	ErrInvalidTransition,
	ErrNotEligible,
	ErrBidOutOfRange,
	ErrAuctionNotOpen,
	ErrCycleNotFullyFunded,
	ErrNoBids,
	ErrAlreadyFinalized,
	ErrInsufficientPool,
	ErrInsufficientMembers,
}

// IsPrecondition reports whether err is one of the engine's rejected-precondition errors.
func IsPrecondition(err error) bool {
	return lo.ContainsBy(preconditionErrors, func(target error) bool {
		return errors.Is(err, target)
	})
}

type engineMetrics struct {
	operations    *prometheus.CounterVec
	bids          prometheus.Counter
	payouts       prometheus.Counter
	payoutVolume  prometheus.Counter
	commissionSum prometheus.Counter
}

// newEngineMetrics builds the engine collectors; a nil registry leaves them unregistered.
func newEngineMetrics(registry prometheus.Registerer) *engineMetrics {
	factory := promauto.With(registry)
	return &engineMetrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chit_operations_total",
			Help: "Engine operations by name and result (ok, rejected, error).",
		}, []string{"operation", "result"}),
		bids: factory.NewCounter(prometheus.CounterOpts{
			Name: "chit_bids_total",
			Help: "Accepted bids, revisions included.",
		}),
		payouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chit_payouts_total",
			Help: "Finalized auctions.",
		}),
		payoutVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "chit_payout_minor_units_total",
			Help: "Sum of amounts paid to auction winners, in minor units.",
		}),
		commissionSum: factory.NewCounter(prometheus.CounterOpts{
			Name: "chit_commission_minor_units_total",
			Help: "Sum of retained commission, in minor units.",
		}),
	}
}

func (m *engineMetrics) observe(operation string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case IsPrecondition(err):
		result = "rejected"
	default:
		result = "error"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}
