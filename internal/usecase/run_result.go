package usecase

import (
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

// Phase is one ordered step of a billing run.
type Phase string

const (
	PhaseTrialExpiration Phase = "trial_expiration"
	PhaseGraceExpiration Phase = "grace_expiration"
	PhaseCancellation    Phase = "cancellation"
	PhaseRecurringCharge Phase = "recurring_charge"
)

// Phases lists the phases in execution order.
var Phases = []Phase{
	PhaseTrialExpiration,
	PhaseGraceExpiration,
	PhaseCancellation,
	PhaseRecurringCharge,
}

// ItemOutcome is how a single subscription fared in a phase.
type ItemOutcome string

const (
	ItemSucceeded ItemOutcome = "succeeded"
	ItemFailed    ItemOutcome = "failed"
	// ItemSkipped means the subscription was locked by another worker, was
	// already handled earlier in the run, or changed since it was read.
	ItemSkipped ItemOutcome = "skipped"
)

// PhaseCounts are the per-phase counters of a run.
type PhaseCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ItemFailure is the structured record of one failed subscription.
type ItemFailure struct {
	Phase          Phase  `json:"phase"`
	SubscriptionID string `json:"subscription_id"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

// Reconciliation lists a charge the gateway accepted but whose state write
// failed. Each entry needs manual follow-up.
type Reconciliation struct {
	Phase            Phase  `json:"phase"`
	SubscriptionID   string `json:"subscription_id"`
	OrderID          string `json:"order_id"`
	GatewayReference string `json:"gateway_reference"`
	Amount           int64  `json:"amount"`
}

// RunResult summarizes one billing run.
type RunResult struct {
	RunID           uuid.UUID              `json:"run_id"`
	Trigger         string                 `json:"trigger"`
	StartedAt       time.Time              `json:"started_at"`
	FinishedAt      time.Time              `json:"finished_at"`
	Phases          map[Phase]*PhaseCounts `json:"phases"`
	Failures        []ItemFailure          `json:"failures"`
	Reconciliations []Reconciliation       `json:"reconciliations,omitempty"`

	mu sync.Mutex
}

func newRunResult(runID uuid.UUID, trigger string, startedAt time.Time) *RunResult {
	phases := make(map[Phase]*PhaseCounts, len(Phases))
	for _, p := range Phases {
		phases[p] = &PhaseCounts{}
	}
	return &RunResult{
		RunID:     runID,
		Trigger:   trigger,
		StartedAt: startedAt,
		Phases:    phases,
		Failures:  []ItemFailure{},
	}
}

func (r *RunResult) record(phase Phase, subscriptionID uuid.UUID, outcome ItemOutcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := r.Phases[phase]
	switch outcome {
	case ItemSucceeded:
		counts.Succeeded++
	case ItemSkipped:
		counts.Skipped++
	default:
		counts.Failed++
		failure := ItemFailure{
			Phase:          phase,
			SubscriptionID: subscriptionID.String(),
			Code:           apperrors.CodeOf(err),
		}
		if err != nil {
			failure.Message = err.Error()
		}
		r.Failures = append(r.Failures, failure)
	}
}

func (r *RunResult) addReconciliation(rec Reconciliation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reconciliations = append(r.Reconciliations, rec)
}

// Counts returns a copy of the counters of phase.
func (r *RunResult) Counts(phase Phase) PhaseCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.Phases[phase]; ok {
		return *c
	}
	return PhaseCounts{}
}

// TotalFailed is the number of failed items across all phases.
func (r *RunResult) TotalFailed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, c := range r.Phases {
		total += c.Failed
	}
	return total
}

// Summary flattens the result for the billing_runs audit row.
func (r *RunResult) Summary() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	phases := make(map[string]interface{}, len(r.Phases))
	for p, c := range r.Phases {
		phases[string(p)] = map[string]int{
			"succeeded": c.Succeeded,
			"failed":    c.Failed,
			"skipped":   c.Skipped,
		}
	}
	failures := make([]map[string]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		failures = append(failures, map[string]string{
			"phase":           string(f.Phase),
			"subscription_id": f.SubscriptionID,
			"code":            f.Code,
			"message":         f.Message,
		})
	}
	return map[string]interface{}{
		"phases":          phases,
		"failures":        failures,
		"reconciliations": len(r.Reconciliations),
	}
}
