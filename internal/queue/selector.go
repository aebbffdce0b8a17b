// Package queue holds the pure ticket-selection logic. The store loads and
// locks the pending working set, this package decides which ticket is called
// next; it never touches the database itself.
package queue

import (
	"math/rand"
	"time"

	"github.com/kalebecaldas/sistema-senhas-web2/internal/models"
)

// Selection is the outcome of one call-next decision. Ticket is nil when both
// pending sets are empty; Streak is the interleave counter the caller must
// persist back into the operator session.
type Selection struct {
	Ticket *models.Ticket
	Streak int
}

// SelectNext picks at most one ticket from the pending sets. Both slices must
// be ordered by ticket ID ascending (arrival order within class). streak is
// the count of consecutive normal calls since the last priority call;
// policies other than interleave return it untouched. lastPriorityCall is the
// called_at of the most recently called priority ticket, nil if none was ever
// called. rng drives the weighted draw and is injected so the policy stays
// deterministic under test.
func SelectNext(pendingNormal, pendingPriority []models.Ticket, cfg models.PriorityConfig, streak int, lastPriorityCall *time.Time, now time.Time, rng *rand.Rand) Selection {
	if len(pendingNormal) == 0 && len(pendingPriority) == 0 {
		return Selection{Streak: streak}
	}

	cfg = cfg.Normalized()
	switch cfg.Policy {
	case models.PolicyWeighted:
		return Selection{Ticket: selectWeighted(pendingNormal, pendingPriority, cfg, rng), Streak: streak}
	case models.PolicyAdaptive:
		return Selection{Ticket: selectAdaptive(pendingNormal, pendingPriority, cfg, lastPriorityCall, now), Streak: streak}
	default:
		return selectInterleaved(pendingNormal, pendingPriority, cfg, streak)
	}
}

// selectInterleaved serves cfg.InterleaveCount normals, then one priority,
// and repeats. Falling back to the other class (because the scheduled one is
// empty) restarts the cycle.
func selectInterleaved(pendingNormal, pendingPriority []models.Ticket, cfg models.PriorityConfig, streak int) Selection {
	if streak >= cfg.InterleaveCount {
		if len(pendingPriority) > 0 {
			return Selection{Ticket: &pendingPriority[0], Streak: 0}
		}
		return Selection{Ticket: &pendingNormal[0], Streak: 0}
	}
	if len(pendingNormal) > 0 {
		return Selection{Ticket: &pendingNormal[0], Streak: streak + 1}
	}
	return Selection{Ticket: &pendingPriority[0], Streak: 0}
}

// selectWeighted draws a class over the cumulative weights of the classes
// that still have pending tickets, then takes that class's oldest ticket.
func selectWeighted(pendingNormal, pendingPriority []models.Ticket, cfg models.PriorityConfig, rng *rand.Rand) *models.Ticket {
	type option struct {
		tickets []models.Ticket
		weight  int
	}
	var options []option
	total := 0
	if len(pendingNormal) > 0 {
		options = append(options, option{pendingNormal, cfg.WeightNormal})
		total += cfg.WeightNormal
	}
	if len(pendingPriority) > 0 {
		options = append(options, option{pendingPriority, cfg.WeightPriority})
		total += cfg.WeightPriority
	}
	if len(options) == 1 {
		return &options[0].tickets[0]
	}

	draw := rng.Intn(total)
	for _, opt := range options {
		if draw < opt.weight {
			return &opt.tickets[0]
		}
		draw -= opt.weight
	}
	return &options[len(options)-1].tickets[0]
}

// selectAdaptive forces a priority ticket once the priority class has waited
// longer than the tolerance since its last call. A queue that never called a
// priority ticket counts as having exceeded the tolerance.
func selectAdaptive(pendingNormal, pendingPriority []models.Ticket, cfg models.PriorityConfig, lastPriorityCall *time.Time, now time.Time) *models.Ticket {
	waitMinutes := float64(cfg.ToleranceMinutes + 1)
	if lastPriorityCall != nil {
		waitMinutes = now.Sub(*lastPriorityCall).Minutes()
	}

	if waitMinutes > float64(cfg.ToleranceMinutes) {
		if len(pendingPriority) > 0 {
			return &pendingPriority[0]
		}
		return &pendingNormal[0]
	}
	if len(pendingNormal) > 0 {
		return &pendingNormal[0]
	}
	return &pendingPriority[0]
}
