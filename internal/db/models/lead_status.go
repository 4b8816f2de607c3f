package models

import (
	"fmt"

	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
)

// LeadStatus is the processing state of a raw lead.
type LeadStatus string

const (
	LeadStatusPending    LeadStatus = "pending"
	LeadStatusProcessing LeadStatus = "processing"
	LeadStatusCompleted  LeadStatus = "completed"
	LeadStatusFailed     LeadStatus = "failed"
	LeadStatusSkipped    LeadStatus = "skipped"
)

// DismissedMessage is stored on raw leads dismissed from the failed list.
const DismissedMessage = "dismissed by user"

// legalTransitions lists every allowed from -> to move. Completed is terminal.
var legalTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusPending:    {LeadStatusProcessing, LeadStatusFailed, LeadStatusSkipped},
	LeadStatusProcessing: {LeadStatusCompleted, LeadStatusFailed, LeadStatusPending},
	LeadStatusFailed:     {LeadStatusPending, LeadStatusProcessing, LeadStatusFailed, LeadStatusSkipped},
	LeadStatusSkipped:    {LeadStatusProcessing},
	LeadStatusCompleted:  {},
}

// Valid reports whether s is one of the known statuses.
func (s LeadStatus) Valid() bool {
	_, ok := legalTransitions[s]
	return ok
}

// IsTerminal reports whether no automatic process may move the lead further.
// Failed and skipped leads only move again on an explicit retry.
func (s LeadStatus) IsTerminal() bool {
	return s == LeadStatusCompleted || s == LeadStatusFailed || s == LeadStatusSkipped
}

// CanTransition reports whether moving from s to next is allowed.
func (s LeadStatus) CanTransition(next LeadStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next when the move is legal, otherwise an error wrapping
// ErrInvalidTransition.
func Transition(from, to LeadStatus) (LeadStatus, error) {
	if !from.CanTransition(to) {
		return from, fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidTransition, from, to)
	}
	return to, nil
}

// ClaimableStatuses are the statuses a worker may move to processing.
func ClaimableStatuses() []LeadStatus {
	claimable := make([]LeadStatus, 0, 3)
	for _, s := range []LeadStatus{LeadStatusPending, LeadStatusFailed, LeadStatusSkipped} {
		if s.CanTransition(LeadStatusProcessing) {
			claimable = append(claimable, s)
		}
	}
	return claimable
}
