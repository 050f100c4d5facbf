// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package status implements the Progress & Status Bus: one row per live
// verification or upload task, mutated concurrently by worker goroutines and
// observed by any number of external listeners (a CLI printer, a test) over
// per-subscriber fan-out channels.
package status

import (
	"sync"
	"sync/atomic"
)

// ItemStatus is the observable state of a single local file as it moves
// through the pipeline.
type ItemStatus int

const (
	Pending ItemStatus = iota
	Verifying
	FoundVerified
	FoundUnverifiedFullSize
	FoundUnverifiedPartial
	FoundUnverifiedNoReplica
	NotFound
	Uploading
	Completed
	Failed
	Canceled
)

func (s ItemStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Verifying:
		return "VERIFYING"
	case FoundVerified:
		return "FOUND_VERIFIED"
	case FoundUnverifiedFullSize:
		return "FOUND_UNVERIFIED_FULL_SIZE"
	case FoundUnverifiedPartial:
		return "FOUND_UNVERIFIED_PARTIAL"
	case FoundUnverifiedNoReplica:
		return "FOUND_UNVERIFIED_NO_REPLICA"
	case NotFound:
		return "NOT_FOUND"
	case Uploading:
		return "UPLOADING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	case Canceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether a status is a final state for a row: no further
// transitions occur after reaching it.
func (s ItemStatus) Terminal() bool {
	switch s {
	case Completed, Failed, Canceled, FoundVerified:
		return true
	default:
		return false
	}
}

// Row is a snapshot of one tracked item's progress.
type Row struct {
	ID            string
	Status        ItemStatus
	Message       string
	Progress      float64 // 0-100
	BytesUploaded int64
}

// EventKind distinguishes the published event types described in the
// external interfaces: connection flaps, aggregate completion, one-shot
// user messages, and per-row updates.
type EventKind int

const (
	EventRowChanged EventKind = iota
	EventConnectionStatus
	EventUploadsComplete
	EventShowMessage
)

// Event is a single notification delivered to subscribers.
type Event struct {
	Kind    EventKind
	RowID   string
	Row     Row
	Message string

	// Connected is meaningful for EventConnectionStatus: true on recovery,
	// false when a connection-level failure was observed.
	Connected bool

	// Completed/Failed/Canceled/CompletedSize are meaningful for
	// EventUploadsComplete: the run's aggregate counters.
	Completed     int
	Failed        int
	Canceled      int
	CompletedSize int64

	// Ack, when non-nil, must be closed by (at least one) observer to
	// unblock a publisher waiting in PublishAndAwaitAck. Used for
	// SHOW_MESSAGE events that require user acknowledgement before the
	// pipeline proceeds (e.g. the staging-not-approved notice).
	Ack chan struct{}
}

// Bus owns the set of tracked rows and fans out change events to subscribers.
// Row creation is explicitly serialized by a single mutex (per the
// verification pool's ID-allocation requirement); all other row mutations
// share that same mutex since rows live in a plain map.
type Bus struct {
	mu   sync.Mutex
	rows map[string]Row

	subMu     sync.Mutex
	observers map[chan Event]struct{}

	completedCount atomic.Int64
	failedCount    atomic.Int64
	canceledCount  atomic.Int64
	completedSize  atomic.Int64
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		rows:      make(map[string]Row),
		observers: make(map[chan Event]struct{}),
	}
}

// CreateRow registers a new row with Pending status. Calling CreateRow twice
// for the same ID simply resets it; callers are expected to use a stable,
// unique ID per local file.
func (b *Bus) CreateRow(id string) {
	b.mu.Lock()
	b.rows[id] = Row{ID: id, Status: Pending}
	b.mu.Unlock()
}

// SetStatus transitions a row to the given status with an informative
// message, publishing a row-changed event. If the new status is terminal,
// the bus's aggregate counters are updated.
func (b *Bus) SetStatus(id string, s ItemStatus, message string) {
	b.mu.Lock()
	row := b.rows[id]
	row.ID = id
	row.Status = s
	row.Message = message
	if s.Terminal() {
		row.Progress = 100
	}
	b.rows[id] = row
	b.mu.Unlock()

	if s.Terminal() {
		switch s {
		case Completed, FoundVerified:
			b.completedCount.Add(1)
			b.completedSize.Add(row.BytesUploaded)
		case Failed:
			b.failedCount.Add(1)
		case Canceled:
			b.canceledCount.Add(1)
		}
	}

	b.publish(Event{Kind: EventRowChanged, RowID: id, Row: row})
}

// SetProgress updates a row's completion percentage and bytes transferred so
// far without changing its status, publishing a row-changed event.
func (b *Bus) SetProgress(id string, progress float64, bytesUploaded int64) {
	b.mu.Lock()
	row := b.rows[id]
	row.ID = id
	row.Progress = progress
	row.BytesUploaded = bytesUploaded
	b.rows[id] = row
	b.mu.Unlock()

	b.publish(Event{Kind: EventRowChanged, RowID: id, Row: row})
}

// Get returns the current snapshot of a row.
func (b *Bus) Get(id string) (Row, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, found := b.rows[id]
	return row, found
}

// CancelRemaining moves every non-terminal row to Canceled. Called once by
// the Coordinator when a cancellation is requested.
func (b *Bus) CancelRemaining() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.rows))
	for id, row := range b.rows {
		if !row.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.SetStatus(id, Canceled, "")
	}
}

// Counts returns the running totals of completed, failed, and canceled rows,
// along with the aggregate payload size of completed uploads.
func (b *Bus) Counts() (completed, failed, canceled int, completedSize int64) {
	return int(b.completedCount.Load()), int(b.failedCount.Load()),
		int(b.canceledCount.Load()), b.completedSize.Load()
}

// Subscribe registers a new observer channel. The caller must drain it (or
// call Unsubscribe) to avoid blocking publishers; the channel is buffered to
// tolerate bursts.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 256)
	b.subMu.Lock()
	b.observers[ch] = struct{}{}
	b.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.subMu.Lock()
	if _, found := b.observers[ch]; found {
		delete(b.observers, ch)
		close(ch)
	}
	b.subMu.Unlock()
}

// Publish delivers an arbitrary event (e.g. EventConnectionStatus,
// EventUploadsComplete, EventShowMessage) to all subscribers.
func (b *Bus) Publish(ev Event) {
	b.publish(ev)
}

// PublishAndAwaitAck delivers ev and blocks until an observer closes its Ack
// channel. If no observer is currently subscribed, there is nobody to
// acknowledge the message, so it returns immediately rather than hanging a
// headless run forever.
func (b *Bus) PublishAndAwaitAck(ev Event) {
	b.subMu.Lock()
	n := len(b.observers)
	b.subMu.Unlock()
	if n == 0 {
		return
	}

	ev.Ack = make(chan struct{})
	b.publish(ev)
	<-ev.Ack
}

func (b *Bus) publish(ev Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for ch := range b.observers {
		select {
		case ch <- ev:
		default:
			// a slow observer must not stall workers; drop the event for it
		}
	}
}
