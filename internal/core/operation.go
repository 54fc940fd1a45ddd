package core

import (
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/google/uuid"
)

// OperationID identifies one run of the scheduler: an Attach, Detach,
// Release, Retry or Rundown. At most one is in progress at a time
// (spec §3, "Operation").
type OperationID string

type OperationKind int

const (
	OpAttach OperationKind = iota
	OpDetach
	OpRelease
	OpRetry
	OpRundown
)

func (k OperationKind) String() string {
	switch k {
	case OpAttach:
		return "attach"
	case OpDetach:
		return "detach"
	case OpRelease:
		return "release"
	case OpRetry:
		return "retry"
	case OpRundown:
		return "rundown"
	default:
		return "unknown"
	}
}

// Operation is the scheduler's record of one in-flight (or, for Retry
// and Rundown, about-to-start) lifecycle operation.
type Operation struct {
	ID                    OperationID
	Kind                  OperationKind
	TriggeringContributor domain.ContributorID // set for Retry
	Cause                 error                // suspend/fail cause for Retry/Rundown
}

func newOperation(kind OperationKind) *Operation {
	return &Operation{ID: OperationID(uuid.NewString()), Kind: kind}
}
