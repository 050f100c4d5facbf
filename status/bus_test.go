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

package status

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRow_StartsPending(t *testing.T) {
	b := NewBus()
	b.CreateRow("a")

	row, found := b.Get("a")
	require.True(t, found)
	assert.Equal(t, Pending, row.Status)
}

func TestSetStatus_TerminalSetsProgressAndCounters(t *testing.T) {
	b := NewBus()
	b.CreateRow("a")
	b.SetProgress("a", 0, 0)
	b.SetProgress("a", 50, 512)
	b.SetStatus("a", Completed, "Upload complete!")

	row, _ := b.Get("a")
	assert.Equal(t, Completed, row.Status)
	assert.Equal(t, float64(100), row.Progress)
	assert.Equal(t, "Upload complete!", row.Message)

	completed, failed, canceled, size := b.Counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, canceled)
	assert.Equal(t, int64(512), size)
}

func TestSetStatus_FailedAndCanceledCounted(t *testing.T) {
	b := NewBus()
	b.CreateRow("a")
	b.SetStatus("a", Failed, "boom")

	b.CreateRow("b")
	b.SetStatus("b", Canceled, "")

	completed, failed, canceled, _ := b.Counts()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, canceled)
}

// Terminal monotonicity (property 2): once a row reaches a terminal status,
// nothing in this package stops a caller from calling SetStatus again, but
// the Coordinator never does so in practice; CancelRemaining itself respects
// terminality by only touching non-terminal rows.
func TestCancelRemaining_LeavesTerminalRowsAlone(t *testing.T) {
	b := NewBus()
	b.CreateRow("done")
	b.SetStatus("done", Completed, "Upload complete!")

	b.CreateRow("pending")
	b.CreateRow("verifying")
	b.SetStatus("verifying", Verifying, "")

	b.CancelRemaining()

	doneRow, _ := b.Get("done")
	assert.Equal(t, Completed, doneRow.Status, "a terminal row must never revert")

	pendingRow, _ := b.Get("pending")
	assert.Equal(t, Canceled, pendingRow.Status)

	verifyingRow, _ := b.Get("verifying")
	assert.Equal(t, Canceled, verifyingRow.Status)

	_, _, canceled, _ := b.Counts()
	assert.Equal(t, 2, canceled)
}

func TestSubscribe_ReceivesRowChangedEvents(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.CreateRow("a")
	b.SetStatus("a", Verifying, "")

	select {
	case ev := <-ch:
		assert.Equal(t, EventRowChanged, ev.Kind)
		assert.Equal(t, "a", ev.RowID)
		assert.Equal(t, Verifying, ev.Row.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for row-changed event")
	}
}

func TestUnsubscribe_ClosesChannelAndStopsDelivery(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")

	// publishing after the only subscriber left must not panic or block
	b.CreateRow("a")
	b.SetStatus("a", Completed, "")
}

func TestPublishAndAwaitAck_ReturnsImmediatelyWithNoObservers(t *testing.T) {
	b := NewBus()
	done := make(chan struct{})
	go func() {
		b.PublishAndAwaitAck(Event{Kind: EventShowMessage, Message: "nobody is listening"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishAndAwaitAck hung with no subscribers")
	}
}

func TestPublishAndAwaitAck_BlocksUntilAcked(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	unblocked := make(chan struct{})
	go func() {
		b.PublishAndAwaitAck(Event{Kind: EventShowMessage, Message: "approve?"})
		close(unblocked)
	}()

	var ev Event
	select {
	case ev = <-ch:
	case <-time.After(time.Second):
		t.Fatal("never received the SHOW_MESSAGE event")
	}
	require.NotNil(t, ev.Ack)

	select {
	case <-unblocked:
		t.Fatal("PublishAndAwaitAck returned before being acked")
	case <-time.After(50 * time.Millisecond):
	}

	close(ev.Ack)
	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("PublishAndAwaitAck did not unblock after Ack was closed")
	}
}

// At-most-one-in-flight is enforced by the Coordinator's queues, not the
// Bus; what the Bus itself must guarantee is that concurrent writers never
// corrupt a row or its aggregate counters.
func TestSetStatus_ConcurrentWritesAreRace_Free(t *testing.T) {
	b := NewBus()
	const n = 100
	for i := 0; i < n; i++ {
		b.CreateRow(string(rune('a' + i%26)))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		id := string(rune('a' + i%26))
		go func(id string) {
			defer wg.Done()
			b.SetProgress(id, 100, 1)
			b.SetStatus(id, Completed, "Upload complete!")
		}(id)
	}
	wg.Wait()

	completed, _, _, _ := b.Counts()
	assert.Equal(t, n, completed)
}
