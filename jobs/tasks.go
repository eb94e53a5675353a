// Package jobs holds the background maintenance tasks. The posting
// path is fully synchronous; these tasks only verify and report.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrityScan verifies per-tenant ledger balance.
	TaskGLIntegrityScan = "gl:integrity_scan"
)

// GLIntegrityScanPayload narrows the scan to one tenant when
// BusinessID is set; zero means all tenants.
type GLIntegrityScanPayload struct {
	BusinessID int64 `json:"business_id"`
}

// NewGLIntegrityScanTask constructs the scan task.
func NewGLIntegrityScanTask(payload GLIntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrityScan, data), nil
}
