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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"
)

// HTTPClient is the primary, network-backed Client implementation. It talks
// to the server's catalog API over HTTP, mapping status codes to the
// sentinel errors in errors.go the way the teacher's JDP database client
// maps them in its get/post helpers.
type HTTPClient struct {
	httpClient http.Client
	baseURL    string
	username   string
	apiKey     string
}

// NewHTTPClient constructs a catalog client for the given server base URL
// and credentials. The underlying transport is upgraded to HTTP/2 so repeated
// Find/Create/Replicas calls against the same server reuse one multiplexed
// connection instead of flapping a new TCP connection per request.
func NewHTTPClient(baseURL, username, apiKey string) *HTTPClient {
	transport := &http.Transport{}
	if err := http2.ConfigureTransport(transport); err != nil {
		log.Printf("catalog: couldn't configure HTTP/2 transport, falling back to HTTP/1.1: %s", err)
	}
	return &HTTPClient{
		httpClient: http.Client{Timeout: 30 * time.Second, Transport: transport},
		baseURL:    baseURL,
		username:   username,
		apiKey:     apiKey,
	}
}

func (c *HTTPClient) addAuthHeader(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	if c.username != "" {
		req.Header.Set("X-DTSync-User", c.username)
	}
}

// get issues an HTTP GET against resource with the given query values,
// retrying once on a connection-level error, and returns the response body
// on 200. Non-200 responses are mapped to the sentinel errors above.
func (c *HTTPClient) get(resource string, values url.Values) ([]byte, error) {
	u, err := url.ParseRequestURI(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: invalid server URL: %w", err)
	}
	u.Path = resource
	if values != nil {
		u.RawQuery = values.Encode()
	}

	var body []byte
	var status int
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			cancel()
			return nil, err
		}
		c.addAuthHeader(req)

		resp, err := c.httpClient.Do(req)
		cancel()
		if err != nil {
			if attempt == 0 {
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrDisconnected, err.Error())
		}
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("catalog: reading response body: %w", err)
		}
		status = resp.StatusCode
		break
	}

	if status == http.StatusOK {
		return body, nil
	}
	return nil, mapStatusError(status, false, string(body))
}

// post issues an HTTP POST with a JSON body against resource, retrying once
// on a connection-level error.
func (c *HTTPClient) post(resource string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("catalog: encoding request body: %w", err)
	}

	u, err := url.ParseRequestURI(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: invalid server URL: %w", err)
	}
	u.Path = resource

	var body []byte
	var status int
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
		if err != nil {
			cancel()
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.addAuthHeader(req)

		resp, err := c.httpClient.Do(req)
		cancel()
		if err != nil {
			if attempt == 0 {
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrDisconnected, err.Error())
		}
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("catalog: reading response body: %w", err)
		}
		status = resp.StatusCode
		break
	}

	if status >= 200 && status < 300 {
		return body, nil
	}
	return nil, mapStatusError(status, true, string(body))
}

// mapStatusError maps an HTTP status code to a sentinel error, distinguishing
// Create's 404 (missing staging storage, pipeline-fatal) from Find's 404
// (not found, per-task). Any other non-2xx status on Create is a soft
// per-task failure, matching the original implementation's treatment of
// unexpected status codes rather than treating it as pipeline-fatal.
func mapStatusError(status int, forCreate bool, body string) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		if forCreate {
			return ErrMissingStagingStorage
		}
		return ErrNotFound
	case http.StatusInternalServerError:
		return ErrInternal
	default:
		return fmt.Errorf("catalog: unexpected status %d: %s", status, body)
	}
}

type findResponse struct {
	Records []FileRecord `json:"records"`
}

func (c *HTTPClient) Find(datasetURI, directory, filename string) (FileRecord, error) {
	values := url.Values{
		"dataset":   {datasetURI},
		"directory": {directory},
		"filename":  {filename},
	}
	body, err := c.get("/api/v1/records", values)
	if err != nil {
		return FileRecord{}, err
	}
	var resp findResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return FileRecord{}, fmt.Errorf("catalog: decoding find response: %w", err)
	}
	switch len(resp.Records) {
	case 0:
		return FileRecord{}, ErrNotFound
	case 1:
		return resp.Records[0], nil
	default:
		return FileRecord{}, ErrMultiple
	}
}

func (c *HTTPClient) Create(meta RecordMetadata) (FileRecord, error) {
	body, err := c.post("/api/v1/records", meta)
	if err != nil {
		return FileRecord{}, err
	}
	var record FileRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return FileRecord{}, fmt.Errorf("catalog: decoding create response: %w", err)
	}
	return record, nil
}

func (c *HTTPClient) RequestVerify(recordID string) error {
	_, err := c.post(fmt.Sprintf("/api/v1/records/%s/verify", recordID), struct{}{})
	return err
}

func (c *HTTPClient) Replicas(record FileRecord) ([]Replica, error) {
	body, err := c.get(fmt.Sprintf("/api/v1/records/%s/replicas", record.ID), nil)
	if err != nil {
		return nil, err
	}
	var replicas []Replica
	if err := json.Unmarshal(body, &replicas); err != nil {
		return nil, fmt.Errorf("catalog: decoding replicas response: %w", err)
	}
	return replicas, nil
}

type bytesOnStagingResponse struct {
	Bytes int64 `json:"bytes"`
}

func (c *HTTPClient) BytesOnStaging(replicaID string) (int64, error) {
	body, err := c.get(fmt.Sprintf("/api/v1/replicas/%s/bytes-on-staging", replicaID), nil)
	if err != nil {
		if httpErr, ok := asNotFound(err); ok {
			_ = httpErr
			return 0, ErrMissingReplicaEndpoint
		}
		return 0, err
	}
	var resp bytesOnStagingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("catalog: decoding bytes-on-staging response: %w", err)
	}
	return resp.Bytes, nil
}

func asNotFound(err error) (error, bool) {
	if err == ErrNotFound {
		return err, true
	}
	return nil, false
}

type approvalResponse struct {
	StagingApproved bool `json:"stagingApproved"`
}

func (c *HTTPClient) StagingApproved() (bool, error) {
	body, err := c.get("/api/v1/staging-approval", nil)
	if err != nil {
		return false, err
	}
	var resp approvalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("catalog: decoding staging approval response: %w", err)
	}
	return resp.StagingApproved, nil
}
