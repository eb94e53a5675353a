package periods

import "time"

// Status enumerates valid period states.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Period represents a tenant-scoped accounting date range. Postings
// dated inside a closed period are rejected until it is reopened.
type Period struct {
	ID         int64
	BusinessID int64
	Name       string
	StartDate  time.Time
	EndDate    time.Time
	Status     Status
	ClosedAt   *time.Time
	ClosedBy   *int64
	ReopenedAt *time.Time
	ReopenedBy *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
