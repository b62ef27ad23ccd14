package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunStatus tracks the lifecycle of an environment run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed means a command exited non-zero.
	RunStatusFailed RunStatus = "failed"
	// RunStatusError means provisioning or process start failed before
	// or between commands.
	RunStatusError   RunStatus = "error"
	RunStatusSkipped RunStatus = "skipped"
)

// RunRecord is the persisted outcome of one environment run.
type RunRecord struct {
	ID         uuid.UUID `json:"id" gorm:"type:text;primaryKey"`
	EnvName    string    `json:"env_name" gorm:"index"`
	ConfigPath string    `json:"config_path"`
	Status     RunStatus `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at" gorm:"index"`
	DurationMS int64     `json:"duration_ms"`

	Commands []CommandRecord `json:"commands" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// CommandRecord is the persisted outcome of one command within a run.
type CommandRecord struct {
	ID         uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID      uuid.UUID `json:"-" gorm:"type:text;index"`
	Seq        int       `json:"seq"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Ignored    bool      `json:"ignored,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	OutputTail string    `json:"output_tail,omitempty"`
}

// NewRunRecord creates a pending record for an environment run.
func NewRunRecord(envName, configPath string) *RunRecord {
	return &RunRecord{
		ID:         uuid.New(),
		EnvName:    envName,
		ConfigPath: configPath,
		Status:     RunStatusPending,
		StartedAt:  time.Now().UTC(),
	}
}

// Finish marks the record with its terminal status and duration.
func (r *RunRecord) Finish(status RunStatus, reason string) {
	r.Status = status
	r.Reason = reason
	r.DurationMS = time.Since(r.StartedAt).Milliseconds()
}

// Duration returns the recorded wall-clock duration.
func (r *RunRecord) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// Clean trims whitespace noise from recorded command output.
func (c *CommandRecord) Clean() {
	c.OutputTail = strings.TrimSpace(c.OutputTail)
}
