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

package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestHTTPStagingTransport_UploadFile_Succeeds(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/staging/replica-1", r.URL.Path)
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		received = b
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := writeTempFile(t, "hello staging")
	tr := NewHTTPStagingTransport(server.URL, "user", "key")

	var lastProgress int64
	err := tr.UploadFile(path, int64(len("hello staging")), "/staging/replica-1", func(sent int64) {
		lastProgress = sent
	}, func() bool { return false })

	require.NoError(t, err)
	assert.Equal(t, "hello staging", string(received))
	assert.Equal(t, int64(len("hello staging")), lastProgress)
}

func TestHTTPStagingTransport_UploadFile_ServerErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	path := writeTempFile(t, "data")
	tr := NewHTTPStagingTransport(server.URL, "user", "key")

	err := tr.UploadFile(path, 4, "/staging/r1", nil, func() bool { return false })
	require.Error(t, err)
}

func TestHTTPStagingTransport_UploadFile_CanceledMidStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// large enough that the cancel predicate has a chance to fire before the
	// whole body is read
	path := writeTempFile(t, stringsRepeat("x", 1<<20))
	tr := NewHTTPStagingTransport(server.URL, "user", "key")

	var reads int
	canceled := func() bool {
		reads++
		return reads > 2
	}
	err := tr.UploadFile(path, int64(1<<20), "/staging/r1", nil, canceled)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestHTTPStagingTransport_BytesOnStaging_NotFoundMeansZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	tr := NewHTTPStagingTransport(server.URL, "user", "key")
	n, err := tr.BytesOnStaging("/staging/r1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestHTTPStagingTransport_BytesOnStaging_ReadsContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "42")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := NewHTTPStagingTransport(server.URL, "user", "key")
	n, err := tr.BytesOnStaging("/staging/r1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func stringsRepeat(s string, n int) string {
	b := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		b = append(b, s...)
	}
	return string(b)
}
