package shared

import (
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/upload-files/internal/orchestrator"
)

// EventBufferSize is the capacity of the bridge channel.
const EventBufferSize = 256

// OrchestratorEventMsg wraps an orchestrator.Event for use as a tea.Msg.
type OrchestratorEventMsg struct {
	Event orchestrator.Event
}

// EventBridge adapts orchestrator events to bubble tea messages.
// It implements orchestrator.EventEmitter and provides a channel for TUI consumption.
type EventBridge struct {
	mu        sync.RWMutex
	eventChan chan tea.Msg
	closed    bool
	dropped   atomic.Int64
}

// NewEventBridge creates a new event bridge.
func NewEventBridge() *EventBridge {
	return &EventBridge{
		eventChan: make(chan tea.Msg, EventBufferSize),
	}
}

// Emit implements orchestrator.EventEmitter. It never blocks: when the buffer is
// full the event is dropped. Progress is resent often enough that a dropped
// update is replaced by the next one.
func (b *EventBridge) Emit(event orchestrator.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	select {
	case b.eventChan <- OrchestratorEventMsg{Event: event}:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (b *EventBridge) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe returns the event channel for receiving events.
func (b *EventBridge) Subscribe() <-chan tea.Msg {
	return b.eventChan
}

// ListenCmd returns a tea.Cmd that blocks until an event is received.
// Use this in Init() or after processing an event to continue listening.
func (b *EventBridge) ListenCmd() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-b.eventChan
		if !ok {
			return nil // Channel closed
		}

		return msg
	}
}

// Close closes the event channel. Later calls to Emit are ignored.
func (b *EventBridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.eventChan)
	}
}
