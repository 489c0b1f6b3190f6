package models

import "time"

// JobState is the lifecycle state of an ExtractionJob.
type JobState string

const (
	JobPending      JobState = "Pending"
	JobRunning      JobState = "Running"
	JobAutoSwitch   JobState = "AutoSwitching"
	JobSucceeded    JobState = "Succeeded"
	JobFailed       JobState = "Failed"
)

// Phase is a point in the extraction phase graph (spec §4.1).
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseConnecting   Phase = "connecting"
	PhaseNavigating   Phase = "navigating"
	PhaseBypassing    Phase = "bypassing"
	PhaseExtracting   Phase = "extracting"
	PhaseSubtitles    Phase = "subtitles"
	PhaseValidating   Phase = "validating"
	PhaseFinalizing   Phase = "finalizing"
	PhaseComplete     Phase = "complete"
	PhaseAutoSwitch   Phase = "autoswitch"
	PhaseError        Phase = "error"
)

// phaseEdges enumerates the directed edges of the valid phase graph. A
// sequence of emitted phases for one job must be a walk through this graph.
var phaseEdges = map[Phase][]Phase{
	PhaseInitializing: {PhaseConnecting, PhaseError},
	PhaseConnecting:   {PhaseNavigating, PhaseError},
	PhaseNavigating:   {PhaseBypassing, PhaseExtracting, PhaseError},
	PhaseBypassing:    {PhaseExtracting, PhaseError},
	PhaseExtracting:   {PhaseSubtitles, PhaseValidating, PhaseAutoSwitch, PhaseError},
	PhaseAutoSwitch:   {PhaseConnecting, PhaseNavigating, PhaseError},
	PhaseSubtitles:    {PhaseValidating, PhaseError},
	PhaseValidating:   {PhaseFinalizing, PhaseError},
	PhaseFinalizing:   {PhaseComplete, PhaseError},
}

// IsTerminal reports whether a phase ends a job's event sequence.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// CanTransition reports whether moving from "from" to "to" is a valid edge
// in the phase graph. The zero Phase is treated as the graph's entry point.
func CanTransition(from, to Phase) bool {
	if from == "" {
		return to == PhaseInitializing
	}
	if from.IsTerminal() {
		return false
	}
	for _, next := range phaseEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExtractionJob is the engine's mutable record for one in-flight extraction.
type ExtractionJob struct {
	RequestID   string
	Request     ExtractionRequest
	State       JobState
	StartedAt   time.Time
	Phase       Phase
	Progress    int
	LastMessage string
	Result      *StreamDescriptor
	Err         *JobError
}

// JobError is the terminal error payload carried by a failed job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Debug   string `json:"debug,omitempty"`
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
