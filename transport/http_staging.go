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
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// HTTPStagingTransport streams a file to the staging host with a plain
// net/http PUT request, under the replica's opaque URI. This is the primary
// binding of the StagingTransport interface.
type HTTPStagingTransport struct {
	httpClient http.Client
	baseURL    string
	username   string
	apiKey     string
}

// NewHTTPStagingTransport constructs a transport that PUTs file bytes to
// baseURL+replicaURI, authenticating the way the Catalog HTTP client does.
func NewHTTPStagingTransport(baseURL, username, apiKey string) *HTTPStagingTransport {
	return &HTTPStagingTransport{
		httpClient: http.Client{Timeout: 0}, // uploads can legitimately run long; rely on cancelPredicate
		baseURL:    baseURL,
		username:   username,
		apiKey:     apiKey,
	}
}

func (t *HTTPStagingTransport) addAuthHeader(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.apiKey))
	if t.username != "" {
		req.Header.Set("X-DTSync-User", t.username)
	}
}

// BytesOnStaging asks the staging host directly how many bytes it already
// holds for replicaURI, using the Content-Length of a HEAD response.
func (t *HTTPStagingTransport) BytesOnStaging(replicaURI string) (int64, error) {
	req, err := http.NewRequest(http.MethodHead, t.baseURL+replicaURI, nil)
	if err != nil {
		return 0, err
	}
	t.addAuthHeader(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("staging transport: querying %s: %w", replicaURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("staging transport: unexpected status %d querying %s", resp.StatusCode, replicaURI)
	}
	return strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
}

// UploadFile streams path (size bytes) to the staging host at replicaURI. A
// cancellation fires mid-stream by canceling the request's context, which
// unblocks the underlying connection write rather than waiting out a fixed
// timeout.
func (t *HTTPStagingTransport) UploadFile(path string, size int64, replicaURI string, progress ProgressFunc, canceled CancelFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("staging transport: opening %s: %w", path, err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchCancel(ctx, cancel, canceled)

	pr := newProgressReader(f, progress, canceled)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+replicaURI, pr)
	if err != nil {
		return err
	}
	req.ContentLength = size
	t.addAuthHeader(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCanceled
		}
		return fmt.Errorf("staging transport: uploading %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("staging transport: server returned status %d", resp.StatusCode)
	}
	if pr.sent != size {
		return ErrIncomplete
	}
	return nil
}

// watchCancel polls canceled at a short, fixed interval and cancels ctx the
// moment it reports true, or stops watching once ctx is done for any other
// reason.
func watchCancel(ctx context.Context, cancel context.CancelFunc, canceled CancelFunc) {
	if canceled == nil {
		return
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if canceled() {
				cancel()
				return
			}
		}
	}
}
