package submission

import "time"

// State is a point in the submission lifecycle.
type State string

const (
	StateIdle                  State = "Idle"
	StateForking               State = "Forking"
	StateUploadingFile         State = "UploadingFile"
	StateFetchingCatalog       State = "FetchingCatalog"
	StateMerging               State = "Merging"
	StateUploadingCatalog      State = "UploadingCatalog"
	StateResolvingParentCommit State = "ResolvingParentCommit"
	StateBuildingTree          State = "BuildingTree"
	StateCommitting            State = "Committing"
	StateUpdatingRef           State = "UpdatingRef"
	StateOpeningPR             State = "OpeningPR"
	StateSucceeded             State = "Succeeded"
	StateFailed                State = "Failed"
)

// Steps lists the working states in execution order.
var Steps = []State{
	StateForking,
	StateUploadingFile,
	StateFetchingCatalog,
	StateMerging,
	StateUploadingCatalog,
	StateResolvingParentCommit,
	StateBuildingTree,
	StateCommitting,
	StateUpdatingRef,
	StateOpeningPR,
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Transition is handed to an Observer on every state change.
type Transition struct {
	SubmissionID string
	From         State
	To           State
	At           time.Time
	// Failure is set when To is StateFailed.
	Failure *Failure
}

// Observer is notified synchronously of each transition.
type Observer func(Transition)
