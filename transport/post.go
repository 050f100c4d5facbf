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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/mytardis/dtsync/catalog"
)

// HTTPPostTransport performs the single-request create-and-upload used when
// the server hasn't approved resumable staging for this client: the record's
// metadata and the file's bytes travel in one multipart POST, so there is no
// create/upload gap to resume across.
type HTTPPostTransport struct {
	httpClient http.Client
	baseURL    string
	username   string
	apiKey     string
}

// NewHTTPPostTransport constructs a transport that POSTs to
// baseURL+"/api/v1/records", the catalog's record-creation endpoint.
func NewHTTPPostTransport(baseURL, username, apiKey string) *HTTPPostTransport {
	return &HTTPPostTransport{baseURL: baseURL, username: username, apiKey: apiKey}
}

// PostCreateAndUpload streams meta as a JSON form field alongside path's
// contents as a file field, in a single multipart request. The request body
// is written through an io.Pipe so the file is streamed rather than buffered
// whole in memory, and so cancellation (closing the pipe with an error)
// unblocks the in-flight request immediately.
func (t *HTTPPostTransport) PostCreateAndUpload(meta catalog.RecordMetadata, path string, progress ProgressFunc, canceled CancelFunc) (catalog.FileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return catalog.FileRecord{}, fmt.Errorf("post transport: opening %s: %w", path, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		defer mw.Close()

		metaJSON, err := json.Marshal(meta)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("post transport: marshaling metadata: %w", err))
			return
		}
		if err := mw.WriteField("metadata", string(metaJSON)); err != nil {
			pw.CloseWithError(err)
			return
		}

		part, err := mw.CreateFormFile("file", meta.Filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		progressedPart := newProgressReader(f, progress, canceled)
		if _, err := io.Copy(part, progressedPart); err != nil {
			pw.CloseWithError(err)
			return
		}
	}()

	req, err := http.NewRequest(http.MethodPost, t.baseURL+"/api/v1/records", pr)
	if err != nil {
		return catalog.FileRecord{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.apiKey))
	if t.username != "" {
		req.Header.Set("X-DTSync-User", t.username)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrCanceled) {
			return catalog.FileRecord{}, ErrCanceled
		}
		return catalog.FileRecord{}, fmt.Errorf("post transport: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return catalog.FileRecord{}, fmt.Errorf("post transport: server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var record catalog.FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return catalog.FileRecord{}, fmt.Errorf("post transport: decoding response: %w", err)
	}
	return record, nil
}
