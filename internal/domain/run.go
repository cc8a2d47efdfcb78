package domain

import (
	"errors"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// NormalizeRunStatus maps free-form status values to canonical run states.
func NormalizeRunStatus(value string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunStatusPending), "created":
		return RunStatusPending
	case string(RunStatusRunning):
		return RunStatusRunning
	case string(RunStatusSucceeded), "success":
		return RunStatusSucceeded
	case string(RunStatusFailed), "failure":
		return RunStatusFailed
	default:
		return ""
	}
}

func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// CanTransitionRunStatus enforces forward-only progression.
func CanTransitionRunStatus(current, next RunStatus) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	return runStatusOrder(current) < runStatusOrder(next)
}

func runStatusOrder(status RunStatus) int {
	switch status {
	case RunStatusPending:
		return 1
	case RunStatusRunning:
		return 2
	case RunStatusSucceeded, RunStatusFailed:
		return 3
	default:
		return 0
	}
}

// Instance is a typed value bound to one definition and one run.
type Instance struct {
	ID           string
	RunID        string
	DefinitionID string
	Key          string
	Value        Value
	ObjectKey    string
}

// RunError records why an execution failed.
type RunError struct {
	EntryPoint string   `json:"entryPoint,omitempty"`
	Command    string   `json:"command,omitempty"`
	Args       []string `json:"args,omitempty"`
	Message    string   `json:"message"`
}

// Run is one memoized execution of an analysis version.
type Run struct {
	ID                string
	AnalysisVersionID string
	ConfigurationHash string
	Attempt           int
	Status            RunStatus
	Inputs            []Instance
	Outputs           []Instance
	Error             *RunError
	StartedAt         time.Time
	EndedAt           *time.Time
}

// Configuration returns the resolved input configuration of the run.
func (r Run) Configuration() Configuration {
	out := make(Configuration, len(r.Inputs))
	for _, in := range r.Inputs {
		out[in.Key] = in.Value
	}
	return out
}

// Results returns the output values keyed by definition key.
func (r Run) Results() Configuration {
	out := make(Configuration, len(r.Outputs))
	for _, o := range r.Outputs {
		out[o.Key] = o.Value
	}
	return out
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.AnalysisVersionID) == "" {
		return errors.New("analysis version id is required")
	}
	if strings.TrimSpace(r.ConfigurationHash) == "" {
		return errors.New("configuration hash is required")
	}
	if r.Attempt < 1 {
		return errors.New("attempt must be >= 1")
	}
	if NormalizeRunStatus(string(r.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}
