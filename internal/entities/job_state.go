package entities

// JobState is shared by import jobs and file import jobs.
type JobState string

const (
	JobStateCreated   JobState = "CREATED"
	JobStateScheduled JobState = "SCHEDULED"
	JobStateStarted   JobState = "STARTED"
	JobStateFinished  JobState = "FINISHED"
	JobStateFailed    JobState = "FAILED"
)

func (s JobState) rank() int {
	switch s {
	case JobStateCreated:
		return 0
	case JobStateScheduled:
		return 1
	case JobStateStarted:
		return 2
	case JobStateFinished, JobStateFailed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition is possible.
func (s JobState) IsTerminal() bool {
	return s == JobStateFinished || s == JobStateFailed
}

// CanTransition reports whether moving from s to next keeps the state
// machine monotonic. Re-entering STARTED is allowed so that a reclaimed
// job can be invoked again; terminal states never change.
func (s JobState) CanTransition(next JobState) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	if s == JobStateStarted && next == JobStateStarted {
		return true
	}
	return next.rank() > s.rank()
}

// ImportOutcome explains how an import job reached its terminal state.
type ImportOutcome string

const (
	ImportOutcomeNone          ImportOutcome = ""
	ImportOutcomeCompleted     ImportOutcome = "completed"
	ImportOutcomeNoData        ImportOutcome = "no_data"
	ImportOutcomeScopeNotFound ImportOutcome = "scope_not_found"
	ImportOutcomeFailed        ImportOutcome = "failed"
)
