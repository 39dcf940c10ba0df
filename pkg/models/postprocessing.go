package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PostProcessingStatus tracks local work on a run's results, such as chart
// generation. It is unrelated to the engine's execution status.
type PostProcessingStatus string

const (
	PostProcessingPending    PostProcessingStatus = "pending"
	PostProcessingInProgress PostProcessingStatus = "in_progress"
	PostProcessingComplete   PostProcessingStatus = "complete"
	PostProcessingFailed     PostProcessingStatus = "failed"
)

// PostProcessingStatuses lists every status in lifecycle order.
var PostProcessingStatuses = []PostProcessingStatus{
	PostProcessingPending,
	PostProcessingInProgress,
	PostProcessingComplete,
	PostProcessingFailed,
}

var postProcessingTransitions = map[PostProcessingStatus][]PostProcessingStatus{
	PostProcessingPending:    {PostProcessingInProgress, PostProcessingFailed},
	PostProcessingInProgress: {PostProcessingComplete, PostProcessingFailed},
	PostProcessingFailed:     {PostProcessingPending},
}

// ParsePostProcessingStatus validates s.
func ParsePostProcessingStatus(s string) (PostProcessingStatus, error) {
	for _, st := range PostProcessingStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown post-processing state %q", s)
}

// CanTransition reports whether a run may move from one status to another.
// complete is terminal; failed may only go back to pending.
func (s PostProcessingStatus) CanTransition(to PostProcessingStatus) bool {
	for _, next := range postProcessingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PostProcessingState is one entry of a run's append-only post-processing history.
// FromState is empty for the initial entry.
type PostProcessingState struct {
	ID        int64                `json:"-" db:"id"`
	RunID     int64                `json:"-" db:"organization_pipeline_run_id"`
	FromState PostProcessingStatus `json:"from_state,omitempty" db:"from_state"`
	State     PostProcessingStatus `json:"state" db:"state"`
	Message   string               `json:"message,omitempty" db:"message"`
	Metadata  json.RawMessage      `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
}

// PostProcessingView is the current state plus its history, newest last.
type PostProcessingView struct {
	State   PostProcessingStatus   `json:"state"`
	History []*PostProcessingState `json:"history"`
}
