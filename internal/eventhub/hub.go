// internal/eventhub/hub.go
package eventhub

// Broadcaster delivers events to whatever shell hosts the engine
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub is the single dispatch point for engine events
type EventHub struct {
	broadcaster Broadcaster
}

// New creates a new EventHub
func New() *EventHub {
	return &EventHub{}
}

// SetBroadcaster sets the event sink
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

// Emit sends an event to the broadcaster, if one is attached
func (h *EventHub) Emit(eventName string, payload interface{}) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastEvent(eventName, payload)
	}
}

// CheckpointCreatedEvent is emitted after a checkpoint is persisted
type CheckpointCreatedEvent struct {
	SessionID      string `json:"session_id"`
	CheckpointID   string `json:"checkpoint_id"`
	Trigger        string `json:"trigger"`
	FilesProcessed int    `json:"files_processed"`
}

func (h *EventHub) EmitCheckpointCreated(event CheckpointCreatedEvent) {
	h.Emit("checkpoint:created", event)
}

// CheckpointRestoredEvent is emitted after a working tree is restored
type CheckpointRestoredEvent struct {
	SessionID      string `json:"session_id"`
	CheckpointID   string `json:"checkpoint_id"`
	FilesProcessed int    `json:"files_processed"`
}

func (h *EventHub) EmitCheckpointRestored(event CheckpointRestoredEvent) {
	h.Emit("checkpoint:restored", event)
}

// SessionForkedEvent is emitted when a new lineage is rooted at an
// existing checkpoint
type SessionForkedEvent struct {
	SourceCheckpointID string `json:"source_checkpoint_id"`
	NewSessionID       string `json:"new_session_id"`
	CheckpointID       string `json:"checkpoint_id"`
}

func (h *EventHub) EmitSessionForked(event SessionForkedEvent) {
	h.Emit("session:forked", event)
}

// CheckpointCleanupEvent is emitted after retention-based cleanup
type CheckpointCleanupEvent struct {
	SessionID string `json:"session_id"`
	Removed   int    `json:"removed"`
}

func (h *EventHub) EmitCheckpointCleanup(event CheckpointCleanupEvent) {
	h.Emit("checkpoint:cleanup", event)
}
