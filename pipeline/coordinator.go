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

package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mytardis/dtsync/catalog"
	"github.com/mytardis/dtsync/status"
	"github.com/mytardis/dtsync/transport"
)

// RunRecorder persists a durable history record for a completed pipeline
// run. *journal.Journal satisfies this interface directly; it is optional
// (nil is fine) so this package doesn't need to import journal.
type RunRecorder interface {
	RecordRun(datasetURI string, start, stop time.Time, summary Summary) error
}

// Options configures a Coordinator. Zero values are replaced with the
// documented defaults by NewCoordinator.
type Options struct {
	// NumVerificationWorkers is the size of the Verification Worker Pool.
	// Default 25.
	NumVerificationWorkers int
	// NumUploadWorkers is the size of the Upload Worker Pool under STAGING
	// mode. Default 5. Forced to 1 under POST mode regardless of this
	// value (invariant 4).
	NumUploadWorkers int
	// ForceMode skips server negotiation and pins the transfer mode: "" to
	// negotiate, "staging", or "post".
	ForceMode string
	// FakeDigest, if set, is used verbatim as the computed digest instead
	// of actually hashing file contents -- a test hook that lets
	// integration tests exercise the create/verify/upload flow without
	// hashing real payloads.
	FakeDigest string
	// QuiescencePoll is how often the Coordinator checks for quiescence.
	// Default 25ms.
	QuiescencePoll time.Duration
}

func (o Options) withDefaults() Options {
	if o.NumVerificationWorkers <= 0 {
		o.NumVerificationWorkers = 25
	}
	if o.NumUploadWorkers <= 0 {
		o.NumUploadWorkers = 5
	}
	if o.QuiescencePoll <= 0 {
		o.QuiescencePoll = 25 * time.Millisecond
	}
	return o
}

// Coordinator owns the verification and upload queues, spawns and joins
// their worker pools, negotiates the transfer mode, propagates
// cancellation, and posts aggregate completion -- Component G.
type Coordinator struct {
	catalog catalog.Client
	staging transport.StagingTransport
	post    transport.PostTransport
	bus     *status.Bus
	journal RunRecorder
	opts    Options

	mode TransferMode

	canceled     atomic.Bool
	shuttingDown atomic.Bool
	running      atomic.Bool

	// unresumable is set once a MissingReplicaEndpoint condition has been
	// reported for this run; subsequent verifications treat unverified
	// replicas as unresumable instead of calling BytesOnStaging again.
	unresumable atomic.Bool

	idMu sync.Mutex // serializes each verifier's first status write to its row (4.E); rows are created by AddFiles

	verifyQueue *fifo[verificationTask]
	uploadQueue *fifo[uploadTask]

	pending atomic.Int64 // files neither terminal nor yet enqueued for upload follow-up

	poolWG sync.WaitGroup
}

// NewCoordinator constructs a Coordinator. cat and staging/post transports
// must be non-nil; post may be nil if ForceMode will never resolve to
// "post" and the server is never expected to deny staging approval, but
// passing one is strongly recommended. journal may be nil to skip run
// history.
func NewCoordinator(cat catalog.Client, staging transport.StagingTransport, post transport.PostTransport, bus *status.Bus, journal RunRecorder, opts Options) *Coordinator {
	return &Coordinator{
		catalog: cat,
		staging: staging,
		post:    post,
		bus:     bus,
		journal: journal,
		opts:    opts.withDefaults(),
	}
}

// Mode reports the negotiated transfer mode. Only meaningful once Run has
// started.
func (c *Coordinator) Mode() TransferMode { return c.mode }

// Run negotiates the transfer mode, starts the worker pools, feeds the
// verification queue with the given files, and blocks until quiescence (or
// cancellation), returning the aggregate Summary.
func (c *Coordinator) Run(dataset DatasetRef, files []LocalFile) (Summary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Summary{}, AlreadyRunningError{}
	}
	defer c.running.Store(false)

	start := time.Now()
	// the bus's counters accumulate across runs; the summary reports this run's share
	baseCompleted, baseFailed, baseCanceled, baseSize := c.bus.Counts()

	c.mode = c.negotiateMode()
	numUploadWorkers := c.opts.NumUploadWorkers
	if c.mode == ModePost {
		numUploadWorkers = 1 // invariant 4: POST is not safe for concurrent use
	}

	c.verifyQueue = newFifo[verificationTask]()
	c.uploadQueue = newFifo[uploadTask]()

	c.startVerifiers(c.opts.NumVerificationWorkers)
	c.startUploaders(numUploadWorkers)

	c.AddFiles(dataset, files)

	c.awaitQuiescence()
	c.shutdown()

	completed, failed, canceled, completedSize := c.bus.Counts()
	completed -= baseCompleted
	failed -= baseFailed
	canceled -= baseCanceled
	completedSize -= baseSize
	summary := Summary{
		Mode:          c.mode,
		Completed:     completed,
		Failed:        failed,
		Canceled:      canceled,
		CompletedSize: completedSize,
	}

	c.bus.Publish(status.Event{
		Kind:          status.EventUploadsComplete,
		Completed:     completed,
		Failed:        failed,
		Canceled:      canceled,
		CompletedSize: completedSize,
	})

	if c.journal != nil {
		if err := c.journal.RecordRun(dataset.URI, start, time.Now(), summary); err != nil {
			return summary, fmt.Errorf("pipeline: recording run journal entry: %w", err)
		}
	}

	return summary, nil
}

// AddFiles enqueues additional local files for verification against an
// already-running pipeline, e.g. files dragged into a folder mid-run. It is
// a no-op once the pipeline has been canceled.
func (c *Coordinator) AddFiles(dataset DatasetRef, files []LocalFile) {
	if c.canceled.Load() {
		return
	}
	for _, f := range files {
		c.bus.CreateRow(f.ID())
		c.pending.Add(1)
		c.verifyQueue.Push(verificationTask{file: f, dataset: dataset})
	}
}

// Cancel is absorbing: once it returns, no new network I/O is initiated, and
// every non-terminal row moves to CANCELED. Calling it more than once is a
// no-op.
func (c *Coordinator) Cancel() {
	if !c.canceled.CompareAndSwap(false, true) {
		return
	}
	c.bus.CancelRemaining()
	c.verifyQueue.Close()
	c.uploadQueue.Close()
}

// cancelFatal is invoked by a worker that hit a pipeline-fatal condition
// (currently: the server reports it has no staging storage provisioned). It
// surfaces a SHOW_MESSAGE event before canceling so the operator knows why.
func (c *Coordinator) cancelFatal(reason error) {
	c.bus.Publish(status.Event{
		Kind:    status.EventShowMessage,
		Message: fmt.Sprintf("Transfer canceled: %s", reason.Error()),
	})
	c.Cancel()
}

// negotiateMode consults the Catalog for staging approval, falling back to
// POST and blocking on user acknowledgement if it isn't granted.
func (c *Coordinator) negotiateMode() TransferMode {
	switch c.opts.ForceMode {
	case "staging":
		return ModeStaging
	case "post":
		return ModePost
	}

	approved, err := c.catalog.StagingApproved()
	if err == nil && approved {
		return ModeStaging
	}

	c.bus.PublishAndAwaitAck(status.Event{
		Kind:    status.EventShowMessage,
		Message: "This server has not approved resumable staging uploads for this client; falling back to single-request uploads.",
	})
	return ModePost
}

// finishFile marks one LocalFile's journey through the pipeline as over,
// for the purposes of quiescence detection.
func (c *Coordinator) finishFile() {
	c.pending.Add(-1)
}

// awaitQuiescence blocks until both queues are empty and no file is still
// in flight (invariant: pending counts every file from enqueue through its
// terminal status, across both the verification and upload phases).
func (c *Coordinator) awaitQuiescence() {
	ticker := time.NewTicker(c.opts.QuiescencePoll)
	defer ticker.Stop()
	for range ticker.C {
		if c.pending.Load() == 0 && c.verifyQueue.Len() == 0 && c.uploadQueue.Len() == 0 {
			return
		}
	}
}

// shutdown is re-entrant: a call made while another shutdown is in progress
// is a no-op, guarded by shuttingDown. The flag is cleared once shutdown
// finishes, so a later Run can shut its own pools down.
func (c *Coordinator) shutdown() {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	c.verifyQueue.Close()
	c.uploadQueue.Close()
	c.poolWG.Wait()
	c.shuttingDown.Store(false)
}
