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

// Package dtstest offers in-memory test doubles for the Catalog Client and
// the staging/POST transports, so the pipeline's worker pools can be driven
// end-to-end without a real server or network.
package dtstest

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/mytardis/dtsync/catalog"
	"github.com/mytardis/dtsync/transport"
)

// EnableDebugLogging points the default slog logger at stderr with DEBUG
// enabled, for tests that want to see the pipeline's log output.
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

type recordKey struct {
	dataset   string
	directory string
	filename  string
}

// Catalog is an in-memory catalog.Client double. The zero value is not
// usable; construct one with NewCatalog. Safe for concurrent use by the
// pipeline's worker pools.
type Catalog struct {
	mu sync.Mutex

	byKey map[recordKey]string // -> record ID
	byID  map[string]catalog.FileRecord

	stagingBytes map[string]int64 // replica ID -> bytes present

	// StagingIsApproved is returned by StagingApproved. Defaults to true.
	StagingIsApproved bool

	// NoReplicaEndpoint, if true, makes BytesOnStaging always return
	// catalog.ErrMissingReplicaEndpoint, simulating a server that doesn't
	// support resumable staging queries.
	NoReplicaEndpoint bool

	// Disconnected, if true, makes Find return catalog.ErrDisconnected,
	// simulating a dropped connection.
	Disconnected bool

	verifyRequests []string // record IDs passed to RequestVerify, in order
}

// NewCatalog returns an empty Catalog double with staging approved.
func NewCatalog() *Catalog {
	return &Catalog{
		byKey:             make(map[recordKey]string),
		byID:              make(map[string]catalog.FileRecord),
		stagingBytes:      make(map[string]int64),
		StagingIsApproved: true,
	}
}

// Seed registers a pre-existing record, as if a previous run (or another
// client) had already created it. Returns the record's assigned ID.
func (c *Catalog) Seed(meta catalog.RecordMetadata, replicas ...catalog.Replica) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	c.byKey[recordKey{meta.DatasetURI, meta.Directory, meta.Filename}] = id
	c.byID[id] = catalog.FileRecord{
		ID:        id,
		Filename:  meta.Filename,
		Directory: meta.Directory,
		Size:      meta.Size,
		Digest:    meta.Digest,
		Replicas:  replicas,
	}
	for _, r := range replicas {
		c.stagingBytes[r.ID] = 0
	}
	return id
}

// SetBytesOnStaging seeds the staging byte count for a replica ID, as if a
// partial upload from a prior run had already delivered that many bytes.
func (c *Catalog) SetBytesOnStaging(replicaID string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stagingBytes[replicaID] = n
}

// VerifyRequests returns the record IDs passed to RequestVerify, in call
// order, for assertions.
func (c *Catalog) VerifyRequests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.verifyRequests))
	copy(out, c.verifyRequests)
	return out
}

func (c *Catalog) Find(datasetURI, directory, filename string) (catalog.FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Disconnected {
		return catalog.FileRecord{}, catalog.ErrDisconnected
	}

	id, found := c.byKey[recordKey{datasetURI, directory, filename}]
	if !found {
		return catalog.FileRecord{}, catalog.ErrNotFound
	}
	return c.byID[id], nil
}

func (c *Catalog) Create(meta catalog.RecordMetadata) (catalog.FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	replicaID := uuid.NewString()
	record := catalog.FileRecord{
		ID:        id,
		Filename:  meta.Filename,
		Directory: meta.Directory,
		Size:      meta.Size,
		Digest:    meta.Digest,
		Replicas: []catalog.Replica{{
			ID:  replicaID,
			URI: fmt.Sprintf("/staging/%s", replicaID),
		}},
	}
	c.byKey[recordKey{meta.DatasetURI, meta.Directory, meta.Filename}] = id
	c.byID[id] = record
	c.stagingBytes[replicaID] = 0
	return record, nil
}

func (c *Catalog) RequestVerify(recordID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifyRequests = append(c.verifyRequests, recordID)

	record, found := c.byID[recordID]
	if !found {
		return catalog.ErrNotFound
	}
	for i := range record.Replicas {
		record.Replicas[i].Verified = true
	}
	c.byID[recordID] = record
	return nil
}

func (c *Catalog) Replicas(record catalog.FileRecord) ([]catalog.Replica, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, found := c.byID[record.ID]
	if !found {
		return nil, catalog.ErrNotFound
	}
	return current.Replicas, nil
}

func (c *Catalog) BytesOnStaging(replicaID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NoReplicaEndpoint {
		return 0, catalog.ErrMissingReplicaEndpoint
	}
	return c.stagingBytes[replicaID], nil
}

func (c *Catalog) StagingApproved() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.StagingIsApproved, nil
}

// Staging is an in-memory transport.StagingTransport double, recording
// uploaded bytes per replica URI so BytesOnStaging-style assertions can be
// made against it directly, independent of the Catalog double.
type Staging struct {
	mu      sync.Mutex
	content map[string][]byte

	// FailNext, if set, is returned (and cleared) by the next UploadFile call.
	FailNext error
}

// NewStaging returns an empty Staging double.
func NewStaging() *Staging {
	return &Staging{content: make(map[string][]byte)}
}

func (s *Staging) BytesOnStaging(replicaURI string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.content[replicaURI])), nil
}

func (s *Staging) UploadFile(path string, size int64, replicaURI string, progress transport.ProgressFunc, canceled transport.CancelFunc) error {
	s.mu.Lock()
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if canceled != nil && canceled() {
		return transport.ErrCanceled
	}
	if progress != nil {
		progress(int64(len(data)))
	}

	s.mu.Lock()
	s.content[replicaURI] = data
	s.mu.Unlock()
	return nil
}

// Contents returns the bytes most recently uploaded to replicaURI.
func (s *Staging) Contents(replicaURI string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, found := s.content[replicaURI]
	return data, found
}

// Post is an in-memory transport.PostTransport double.
type Post struct {
	mu      sync.Mutex
	records map[string]catalog.FileRecord // "directory/filename" -> created record

	// FailNext, if set, is returned (and cleared) by the next call.
	FailNext error
}

// NewPost returns an empty Post double.
func NewPost() *Post {
	return &Post{records: make(map[string]catalog.FileRecord)}
}

func (p *Post) PostCreateAndUpload(meta catalog.RecordMetadata, path string, progress transport.ProgressFunc, canceled transport.CancelFunc) (catalog.FileRecord, error) {
	p.mu.Lock()
	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		p.mu.Unlock()
		return catalog.FileRecord{}, err
	}
	p.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return catalog.FileRecord{}, err
	}
	if canceled != nil && canceled() {
		return catalog.FileRecord{}, transport.ErrCanceled
	}
	if progress != nil {
		progress(int64(len(data)))
	}

	record := catalog.FileRecord{
		ID:        uuid.NewString(),
		Filename:  meta.Filename,
		Directory: meta.Directory,
		Size:      int64(len(data)),
		Digest:    meta.Digest,
		Replicas:  []catalog.Replica{{ID: uuid.NewString(), Verified: true}},
	}
	p.mu.Lock()
	p.records[meta.Directory+"/"+meta.Filename] = record
	p.mu.Unlock()
	return record, nil
}
