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

// Package mimetype resolves a filename to a MIME type for upload metadata.
// Each uploader holds its own Resolver. A Resolver consults its own override
// table first and falls back to the standard library's mime.TypeByExtension
// for any other extension.
package mimetype

import (
	"mime"
	"path/filepath"
	"strings"
	"sync"
)

const defaultType = "application/octet-stream"

// Resolver guesses a MIME type from a file's extension. Lookups are
// serialized by an internal mutex, so one Resolver is safe for concurrent
// use; the pipeline still constructs one per uploader.
type Resolver struct {
	mu        sync.Mutex
	overrides map[string]string
}

// NewResolver returns a Resolver seeded with a few scientific-data
// extensions the standard mime package doesn't know about.
func NewResolver() *Resolver {
	return &Resolver{
		overrides: map[string]string{
			".fastq": "application/octet-stream",
			".fq":    "application/octet-stream",
			".bam":   "application/octet-stream",
			".vcf":   "text/plain",
			".gz":    "application/gzip",
			".tar":   "application/x-tar",
		},
	}
}

// TypeForFile returns a best-guess MIME type for path, falling back to
// application/octet-stream when the extension is unrecognized.
func (r *Resolver) TypeForFile(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return defaultType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, found := r.overrides[ext]; found {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultType
}
