// Package queue defines the durable tribunal job queue: the job model, the
// queue contract workers consume through, and its redis and in-memory
// implementations.
package queue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job. Terminal statuses are never
// mutated again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TribunalJob is one queued automation request. Params carries the
// operation-specific payload (process number, petition files) as raw JSON
// decoded by the tribunal client.
type TribunalJob struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	CredentialID string          `json:"credentialId"`
	Tribunal     string          `json:"tribunal"`
	TribunalURL  string          `json:"tribunalUrl"`
	Operation    string          `json:"operation"`
	Params       json.RawMessage `json:"params,omitempty"`
	WebhookURL   string          `json:"webhookUrl,omitempty"`

	Status   Status           `json:"status"`
	Progress int              `json:"progress"`
	Attempt  int              `json:"attempt"`
	Error    string           `json:"error,omitempty"`
	Result   *OperationResult `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// OperationResult is produced once per job attempt. A failed attempt's
// result is never retried itself; the worker decides whether to run a
// fresh attempt.
type OperationResult struct {
	Success    bool            `json:"success"`
	Operation  string          `json:"operation"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	ExecutedAt time.Time       `json:"executedAt"`
}
