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

// Package transport carries bytes from a local file to the server, by
// either of two concrete channels: a resumable streaming upload to a
// staging host (HTTP or SFTP), or a single-request multipart create-and-
// upload (POST).
package transport

import (
	"errors"
	"io"

	"github.com/mytardis/dtsync/catalog"
)

// ErrCanceled is returned when the cancellation predicate fires mid-transfer.
var ErrCanceled = errors.New("transport: canceled")

// ErrIncomplete indicates the transport reported success but the number of
// bytes actually delivered didn't match the file's size.
var ErrIncomplete = errors.New("transport: incomplete transfer")

// ProgressFunc receives the cumulative number of bytes sent so far.
type ProgressFunc func(bytesSent int64)

// CancelFunc is polled between progress ticks; returning true aborts cleanly.
type CancelFunc func() bool

// StagingTransport streams a file to a staging host under an
// already-allocated replica URI, and can report how many bytes of a replica
// are already present (to resume a partial upload). Two implementations
// exist: HTTPStagingTransport and SFTPStagingTransport.
type StagingTransport interface {
	// BytesOnStaging queries the staging host directly for the given
	// replica. The pipeline's verifier does not call it: it asks the
	// Catalog's BytesOnStaging, and when that endpoint is missing it treats
	// unverified replicas as unresumable.
	BytesOnStaging(replicaURI string) (int64, error)

	// UploadFile streams path (size bytes) to replicaURI. Success requires
	// that exactly size bytes were reported delivered; a lesser count is
	// ErrIncomplete even if the underlying channel closed cleanly.
	UploadFile(path string, size int64, replicaURI string, progress ProgressFunc, canceled CancelFunc) error
}

// PostTransport performs a single-request multipart create-and-upload. It
// never resumes and never consults bytes-already-staged.
type PostTransport interface {
	PostCreateAndUpload(meta catalog.RecordMetadata, path string, progress ProgressFunc, canceled CancelFunc) (catalog.FileRecord, error)
}

// progressReader wraps an io.Reader, invoking progress after each Read and
// consulting canceled before it; it is the shared plumbing behind both the
// HTTP and POST transports' upload bodies.
type progressReader struct {
	r         io.Reader
	sent      int64
	progress  ProgressFunc
	canceled  CancelFunc
}

func newProgressReader(r io.Reader, progress ProgressFunc, canceled CancelFunc) *progressReader {
	return &progressReader{r: r, progress: progress, canceled: canceled}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if p.canceled != nil && p.canceled() {
		return 0, ErrCanceled
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.progress != nil {
			p.progress(p.sent)
		}
	}
	return n, err
}
