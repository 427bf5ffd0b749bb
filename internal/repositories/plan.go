package repositories

import (
	"context"
	"errors"
	"fmt"

	"library-system/internal/session"
)

var (
	// ErrWriteFailure wraps any storage error raised while a write plan runs.
	ErrWriteFailure = errors.New("write failure")

	// ErrConditionNotMet is returned when a conditional write matched no row,
	// i.e. the guarded column changed after it was read.
	ErrConditionNotMet = errors.New("conditional write not applied")
)

// Write is one idempotent upsert, update or delete addressed by a full primary
// key. Replaying a Write that already succeeded leaves the row unchanged.
type Write struct {
	Step        string
	Stmt        session.Statement
	Args        []any
	Conditional bool
}

// WritePlan is the ordered fan-out for one logical event. Plans are not
// transactions: Apply stops at the first failure and leaves earlier writes in
// place.
type WritePlan []Write

// PlanReport tells which steps of a plan reached storage.
type PlanReport struct {
	Completed []string
	Failed    string
	Err       error
}

func (r PlanReport) OK() bool { return r.Err == nil }

// Then returns a plan running p followed by next.
func (p WritePlan) Then(next WritePlan) WritePlan {
	out := make(WritePlan, 0, len(p)+len(next))
	out = append(out, p...)
	return append(out, next...)
}

func (p WritePlan) Steps() []string {
	steps := make([]string, len(p))
	for i, w := range p {
		steps[i] = w.Step
	}
	return steps
}

// Apply executes the plan in order against sess.
func (p WritePlan) Apply(ctx context.Context, sess session.Session) PlanReport {
	report := PlanReport{Completed: make([]string, 0, len(p))}
	for _, w := range p {
		n, err := sess.Exec(ctx, w.Stmt, w.Args...)
		if err != nil {
			report.Failed = w.Step
			report.Err = fmt.Errorf("%w: %s: %w", ErrWriteFailure, w.Step, err)
			return report
		}
		if w.Conditional && n == 0 {
			report.Failed = w.Step
			report.Err = fmt.Errorf("%s: %w", w.Step, ErrConditionNotMet)
			return report
		}
		report.Completed = append(report.Completed, w.Step)
	}
	return report
}
