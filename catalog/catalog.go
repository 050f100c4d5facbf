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

// Package catalog defines the Server Catalog Client: the abstraction the
// pipeline uses to look up, create, and request verification of file
// records on the remote repository.
package catalog

import "time"

// Replica describes one copy of a file record's bytes as tracked by the
// server. The zeroth replica returned by a FileRecord is authoritative.
type Replica struct {
	ID       string
	URI      string // opaque path used by the staging transport
	Verified bool
}

// FileRecord mirrors a server-side catalog entry.
type FileRecord struct {
	ID        string
	Filename  string
	Directory string
	Size      int64
	Digest    string
	Replicas  []Replica
}

// HasVerifiedReplica reports whether this record's authoritative (zeroth)
// replica has been verified by the server. Later replicas, if any, are not
// consulted -- only replica[0] is authoritative for this engine.
func (r FileRecord) HasVerifiedReplica() bool {
	return len(r.Replicas) > 0 && r.Replicas[0].Verified
}

// RecordMetadata is submitted to Create (STAGING mode) or folded into the
// multipart body of a POST transport upload (POST mode).
type RecordMetadata struct {
	DatasetURI string
	Filename   string
	Directory  string
	Digest     string
	Size       int64
	MimeType   string
	CreatedAt  time.Time
}

// Client is the narrow interface the pipeline depends on. Two
// implementations are provided: HTTPClient (the primary, network-backed
// implementation) and an in-memory double in the dtstest package.
type Client interface {
	// Find looks up a record by (dataset, directory, filename). Returns
	// ErrNotFound if no record exists, ErrMultiple if the server reports
	// duplicates.
	Find(datasetURI, directory, filename string) (FileRecord, error)

	// Create registers a new record with the server, returning it with its
	// assigned ID and (for STAGING mode) a freshly allocated replica.
	Create(meta RecordMetadata) (FileRecord, error)

	// RequestVerify asks the server to check a record's replica integrity.
	// Idempotent.
	RequestVerify(recordID string) error

	// Replicas returns the ordered replica list for a record.
	Replicas(record FileRecord) ([]Replica, error)

	// BytesOnStaging returns the number of bytes already present for a
	// replica on the staging host, used to resume a partial upload. Returns
	// ErrMissingReplicaEndpoint if the server doesn't support this query.
	BytesOnStaging(replicaID string) (int64, error)

	// StagingApproved reports whether the server has approved STAGING-mode
	// transfers for this client; if false, the Coordinator falls back to
	// POST mode.
	StagingApproved() (bool, error)
}
