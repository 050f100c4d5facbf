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

// Package digest computes the content digest used to compare a local file
// against its server-side record. It is MD5-compatible at the wire level
// since that's what the catalog server uses for equality checks.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrCanceled is returned when the supplied cancellation predicate reports
// true before the digest completes. No hash is returned in this case.
var ErrCanceled = errors.New("digest: canceled")

const (
	startBlockSize = 100 * 1024
	maxBlockSize   = 1024 * 1024
	maxBlockRatio  = 100
)

// ProgressFunc is called with the cumulative number of bytes read after each
// block.
type ProgressFunc func(bytesRead int64)

// CancelFunc is consulted between blocks; returning true aborts the digest.
type CancelFunc func() bool

// Digest streams the file at path, size bytes long, computing an
// MD5-compatible hex digest. Block size starts at 100 KiB and, after each
// block, doubles while size/blockSize exceeds 100 and the block is still
// under 1 MiB (so the largest block is 1600 KiB), keeping the number of
// progress callbacks roughly bounded regardless of file size. Either
// callback may be nil.
func Digest(path string, size int64, canceled CancelFunc, progress ProgressFunc) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest: opening %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	blockSize := int64(startBlockSize)
	buf := make([]byte, blockSize)
	var read int64

	for {
		if canceled != nil && canceled() {
			return "", ErrCanceled
		}

		if int64(len(buf)) != blockSize {
			buf = make([]byte, blockSize)
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			read += int64(n)
			if progress != nil {
				progress(read)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("digest: reading %s: %w", path, readErr)
		}

		for size/blockSize > maxBlockRatio && blockSize < maxBlockSize {
			blockSize *= 2
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
