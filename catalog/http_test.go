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

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindReturnsRecordOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/records", r.URL.Path)
		json.NewEncoder(w).Encode(findResponse{
			Records: []FileRecord{{ID: "rec-1", Filename: "a.txt", Size: 42}},
		})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "user", "key")
	record, err := c.Find("ds://1", "dir", "a.txt")
	assert.Nil(t, err)
	assert.Equal(t, "rec-1", record.ID)
}

func TestFindReturnsNotFoundOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "user", "key")
	_, err := c.Find("ds://1", "dir", "a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindReturnsMultipleWhenServerReportsDuplicates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(findResponse{
			Records: []FileRecord{{ID: "rec-1"}, {ID: "rec-2"}},
		})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "user", "key")
	_, err := c.Find("ds://1", "dir", "a.txt")
	assert.ErrorIs(t, err, ErrMultiple)
}

func TestCreateReturnsMissingStagingStorageOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "user", "key")
	_, err := c.Create(RecordMetadata{Filename: "a.txt"})
	assert.ErrorIs(t, err, ErrMissingStagingStorage)
}

func TestGetReturnsUnauthorizedOn401(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "user", "key")
	_, err := c.BytesOnStaging("replica-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBytesOnStagingReturnsCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bytesOnStagingResponse{Bytes: 1024})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "user", "key")
	n, err := c.BytesOnStaging("replica-1")
	assert.Nil(t, err)
	assert.Equal(t, int64(1024), n)
}

func TestStagingApprovedParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(approvalResponse{StagingApproved: true})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "user", "key")
	approved, err := c.StagingApproved()
	assert.Nil(t, err)
	assert.True(t, approved)
}
