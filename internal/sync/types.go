package sync

import (
	"fmt"
	"time"

	"xero-sync-service/internal/shop"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// ChangeEvent reports that a local entity changed.
type ChangeEvent struct {
	Type       EventType
	EntityType shop.EntityType
	LocalID    int64
	Table      string
	Timestamp  uint32
	BinlogFile string
	BinlogPos  uint32
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("[%s] %s %s#%d", e.Type, e.Table, e.EntityType, e.LocalID)
}

type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

type Action string

const (
	ActionNone    Action = ""
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Result is the outcome of one Sync call. Err is set only for failures.
type Result struct {
	EntityType shop.EntityType
	LocalID    int64
	Outcome    Outcome
	Action     Action
	RemoteID   string
	Reason     string
	Err        error
}

// Triggers recorded on bulk runs.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

type BulkOptions struct {
	// Limit caps the number of entities considered. Zero uses the configured
	// page size.
	Limit int
	// Force includes entities that are already linked.
	Force   bool
	Trigger string
}

// Summary accumulates the results of a bulk run.
type Summary struct {
	RunID       string          `json:"run_id"`
	EntityType  shop.EntityType `json:"entity_type"`
	Trigger     string          `json:"trigger"`
	Considered  int             `json:"considered"`
	Synced      int             `json:"synced"`
	Failed      int             `json:"failed"`
	Skipped     int             `json:"skipped"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

func (s *Summary) add(r Result) {
	switch r.Outcome {
	case OutcomeSynced:
		s.Synced++
	case OutcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

// RemoteChange is a change notification received from Xero.
type RemoteChange struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	EventType    string `json:"event_type"`
}
