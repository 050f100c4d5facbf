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

// Package pipeline implements the verification-and-upload engine: the
// two-stage worker-pool coordinator, its queues, the per-file state machine,
// and the cancellation/quiescence handshake described by the Coordinator
// component.
package pipeline

import (
	"fmt"
	"time"

	"github.com/mytardis/dtsync/catalog"
)

// LocalFile identifies one locally discovered file destined for the server.
// It is immutable after discovery; the folders package (outside this
// package's scope) is responsible for populating it.
type LocalFile struct {
	FolderID  string    // identifier of the owning folder/dataset scan
	FileIndex int       // position within that folder's scan, unique per FolderID
	Path      string    // absolute local path
	Size      int64     // file size in bytes, as observed at discovery time
	CreatedAt time.Time // local file timestamp; folders.Scan fills in the modification time
	Directory string    // path relative to the dataset root, "" for top-level files
}

// ID returns the stable identifier used to key status rows and queues. Two
// LocalFiles with the same ID are considered the same file for the purposes
// of the at-most-one-in-flight invariant.
func (f LocalFile) ID() string {
	return fmt.Sprintf("%s/%d", f.FolderID, f.FileIndex)
}

// Filename returns the base name recorded against the server, which is just
// the final path element since Path is an absolute local path.
func (f LocalFile) Filename() string {
	i := len(f.Path) - 1
	for i >= 0 && f.Path[i] != '/' {
		i--
	}
	return f.Path[i+1:]
}

// DatasetRef is a server-assigned dataset identifier and URI, created by the
// external Catalog before the pipeline starts.
type DatasetRef struct {
	ID  string
	URI string
}

// TransferMode is the process-wide transport choice, negotiated once at
// pipeline start and immutable for the run.
type TransferMode int

const (
	// ModeStaging is the preferred, resumable two-step transport.
	ModeStaging TransferMode = iota
	// ModePost is the fallback single-request transport, used when the
	// server hasn't approved staging uploads for this client.
	ModePost
)

func (m TransferMode) String() string {
	switch m {
	case ModeStaging:
		return "staging"
	case ModePost:
		return "post"
	default:
		return "unknown"
	}
}

// verificationTask is consumed by the Verification Worker Pool. Each
// LocalFile maps to exactly one live verificationTask (invariant 1).
type verificationTask struct {
	file    LocalFile
	dataset DatasetRef
}

// uploadTask is consumed by the Upload Worker Pool. Each LocalFile maps to
// at most one live uploadTask at any time (invariant 2).
type uploadTask struct {
	file                  LocalFile
	dataset               DatasetRef
	existingRecord        *catalog.FileRecord // nil when no server record exists yet
	bytesAlreadyOnStaging int64
}

// Summary is the aggregate outcome of a pipeline run, returned by Run and
// mirrored into the published UPLOADS_COMPLETE event and (if configured) the
// Run Journal.
type Summary struct {
	Mode          TransferMode
	Completed     int
	Failed        int
	Canceled      int
	CompletedSize int64
}
