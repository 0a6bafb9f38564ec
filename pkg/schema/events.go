// pkg/schema/events.go
package schema

// EventType names a job lifecycle event.
type EventType string

const (
	EventStageChanged EventType = "stage_changed"
	EventSegmentDone  EventType = "segment_done"
	EventSuspended    EventType = "suspended"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
)

// JobEvent is published at every durable transition of a transcription job.
type JobEvent struct {
	Type       EventType `json:"type"`
	Job        string    `json:"job"`
	InputPath  string    `json:"input_path"`
	OutputPath string    `json:"output_path,omitempty"`
	Stage      string    `json:"stage"`
	Completed  int       `json:"completed_segment_count"`
	Total      int       `json:"total_segment_count"`
	SessionID  string    `json:"session_id"`
	Error      string    `json:"error,omitempty"`
	HappenedAt int64     `json:"happened_at"`
}
