package models

import "time"

// ChangeHistory is the immutable, append-only audit record of a
// PendingAdChange's terminal outcome, retained independently of the
// queue row it originated from.
type ChangeHistory struct {
	ID         string
	ChangeID   string
	AdID       string
	AccountID  string
	ChangeType ChangeType
	Status     ChangeStatus
	Reason     string
	Error      *string
	LatencyMS  int64
	Attempts   int
	CreatedAt  time.Time

	// BudgetDeltaCents is the absolute change in target budget applied
	// by a budget_increase/budget_decrease change, zero for other change
	// types. It is the basis for the executor's rolling velocity cap.
	BudgetDeltaCents int64
}
