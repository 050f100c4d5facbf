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
	"errors"

	"github.com/mytardis/dtsync/catalog"
	"github.com/mytardis/dtsync/digest"
	"github.com/mytardis/dtsync/mimetype"
	"github.com/mytardis/dtsync/status"
	"github.com/mytardis/dtsync/transport"
)

// startUploaders launches n uploader goroutines, each with its own MIME
// resolver (4.F step 4: the process-wide resolver isn't safe for
// concurrent use).
func (c *Coordinator) startUploaders(n int) {
	for i := 0; i < n; i++ {
		c.poolWG.Add(1)
		resolver := mimetype.NewResolver()
		go func() {
			defer c.poolWG.Done()
			for {
				task, ok := c.uploadQueue.Pop()
				if !ok {
					return
				}
				c.upload(task, resolver)
			}
		}()
	}
}

func (c *Coordinator) upload(task uploadTask, resolver *mimetype.Resolver) {
	id := task.file.ID()

	// Cancel's CancelRemaining may already have moved this row to CANCELED;
	// setting it again would count the row twice.
	markCanceled := func() {
		if row, found := c.bus.Get(id); !found || !row.Status.Terminal() {
			c.bus.SetStatus(id, status.Canceled, "")
		}
	}

	if c.canceled.Load() {
		markCanceled()
		c.finishFile()
		return
	}

	c.bus.SetStatus(id, status.Uploading, "")

	digestValue, err := c.digestFile(id, task.file)
	if errors.Is(err, digest.ErrCanceled) {
		markCanceled()
		c.finishFile()
		return
	}
	if err != nil {
		c.bus.SetStatus(id, status.Failed, err.Error())
		c.finishFile()
		return
	}

	if task.file.Size == 0 {
		c.bus.SetStatus(id, status.Failed, "server rejects empty file")
		c.finishFile()
		return
	}

	meta := catalog.RecordMetadata{
		DatasetURI: task.dataset.URI,
		Filename:   task.file.Filename(),
		Directory:  task.file.Directory,
		Digest:     digestValue,
		Size:       task.file.Size,
		MimeType:   resolver.TypeForFile(task.file.Path),
		CreatedAt:  task.file.CreatedAt,
	}

	// invariant 5: progress resets to 0 at the start of the transfer phase
	c.bus.SetProgress(id, 0, 0)

	progress := func(sent int64) {
		pct := float64(sent) * 100 / float64(task.file.Size)
		c.bus.SetProgress(id, pct, sent)
	}
	canceled := func() bool { return c.canceled.Load() }

	var transferErr error
	switch c.mode {
	case ModePost:
		_, transferErr = c.post.PostCreateAndUpload(meta, task.file.Path, progress, canceled)

	default: // ModeStaging
		transferErr = c.uploadToStaging(task, meta, progress, canceled)
	}

	switch {
	case errors.Is(transferErr, transport.ErrCanceled):
		markCanceled()
	case transferErr != nil:
		var fatal FatalError
		if errors.As(transferErr, &fatal) {
			c.cancelFatal(fatal.Reason)
			markCanceled()
		} else {
			c.bus.SetStatus(id, status.Failed, transferErr.Error())
		}
	default:
		c.bus.SetStatus(id, status.Completed, "Upload complete!")
	}

	// notify the folder that its uploaded count changed: a row-changed
	// event was already published by SetStatus above, which is the
	// signal external folder/UI models subscribe to.
	c.finishFile()
}

// uploadToStaging performs the STAGING-mode create-then-transfer sequence
// of 4.F step 6. Create-then-upload is not atomic: a successful create
// followed by a failed uploadFile leaves an unverified record on the
// server, which the next run resolves via the FOUND_UNVERIFIED_PARTIAL
// branch.
func (c *Coordinator) uploadToStaging(task uploadTask, meta catalog.RecordMetadata, progress transport.ProgressFunc, canceled transport.CancelFunc) error {
	var replicaURI string
	if task.existingRecord == nil {
		record, err := c.catalog.Create(meta)
		if errors.Is(err, catalog.ErrMissingStagingStorage) {
			return FatalError{Reason: err}
		}
		if err != nil {
			return err
		}
		if len(record.Replicas) == 0 {
			return errors.New("catalog created a record with no replica")
		}
		replicaURI = record.Replicas[0].URI
	} else {
		if len(task.existingRecord.Replicas) == 0 {
			return errors.New("existing record has no replica to resume")
		}
		replicaURI = task.existingRecord.Replicas[0].URI
	}

	return c.staging.UploadFile(task.file.Path, task.file.Size, replicaURI, progress, canceled)
}

// digestFile computes (or, under the FakeDigest test hook, fabricates) the
// content digest used to compare the local file against its server-side
// record, mapping digest progress into the 0-100% range (4.F step 2).
func (c *Coordinator) digestFile(id string, file LocalFile) (string, error) {
	if c.opts.FakeDigest != "" {
		return c.opts.FakeDigest, nil
	}

	progress := func(read int64) {
		if file.Size == 0 {
			return
		}
		pct := float64(read) * 100 / float64(file.Size)
		c.bus.SetProgress(id, pct, 0)
	}
	canceled := func() bool { return c.canceled.Load() }

	return digest.Digest(file.Path, file.Size, canceled, progress)
}
