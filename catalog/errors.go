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

package catalog

import "errors"

// Sentinel errors returned by Client implementations. Callers distinguish
// them with errors.Is.
var (
	// ErrNotFound indicates Find found no matching record.
	ErrNotFound = errors.New("catalog: record not found")
	// ErrMultiple indicates Find matched more than one record on the server;
	// a hard per-task failure, since the engine can't pick one.
	ErrMultiple = errors.New("catalog: multiple matching records on server")
	// ErrUnauthorized maps an HTTP 401 response.
	ErrUnauthorized = errors.New("catalog: unauthorized")
	// ErrMissingStagingStorage maps an HTTP 404 on Create: the server has no
	// staging storage provisioned. Fatal for the whole pipeline.
	ErrMissingStagingStorage = errors.New("catalog: server is missing staging storage")
	// ErrInternal maps an HTTP 500 response.
	ErrInternal = errors.New("catalog: internal server error")
	// ErrDisconnected indicates a connection-level failure reaching the
	// server (DNS, refused connection, timeout).
	ErrDisconnected = errors.New("catalog: disconnected from server")
	// ErrMissingReplicaEndpoint indicates the server doesn't advertise the
	// bytes-on-staging endpoint for a replica.
	ErrMissingReplicaEndpoint = errors.New("catalog: server does not support the replica byte-count endpoint")
)
