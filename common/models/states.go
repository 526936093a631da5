package models

import "errors"

// ItemState is the editorial workflow state of a working item
type ItemState string

const (
	StateDraft      ItemState = "draft"
	StateSubmitted  ItemState = "submitted"
	StateInProgress ItemState = "in_progress"
	StateScheduled  ItemState = "scheduled"
	StatePublished  ItemState = "published"
	StateCorrected  ItemState = "corrected"
	StateKilled     ItemState = "killed"
	StateRecalled   ItemState = "recalled"
)

// QueueState is the transmission state of a publish queue row
type QueueState string

const (
	QueuePending    QueueState = "pending"
	QueueInProgress QueueState = "in-progress"
	QueueRetrying   QueueState = "retrying"
	QueueSuccess    QueueState = "success"
	QueueCanceled   QueueState = "canceled"
	QueueError      QueueState = "error"
	QueueFailed     QueueState = "failed"
)

// TerminalQueueStates expect no further transmission attempts.
var TerminalQueueStates = []QueueState{QueueSuccess, QueueCanceled, QueueFailed}

// IsTerminal reports whether no further transmission is expected.
func (s QueueState) IsTerminal() bool {
	for _, t := range TerminalQueueStates {
		if s == t {
			return true
		}
	}
	return false
}

// DeletedSubscriber replaces subscriber ids that no longer resolve.
const DeletedSubscriber = "Deleted Subscriber"

// ReferenceKind names a reference table used for denormalization
type ReferenceKind string

const (
	RefUsers       ReferenceKind = "users"
	RefDesks       ReferenceKind = "desks"
	RefStages      ReferenceKind = "stages"
	RefSubscribers ReferenceKind = "subscribers"
)

var (
	// ErrNotFound is returned when a source document has vanished.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a precondition token no longer matches.
	ErrConflict = errors.New("precondition failed")
	// ErrIneligible is returned for items the archive must not take.
	ErrIneligible = errors.New("item not eligible for legal archive")
)
