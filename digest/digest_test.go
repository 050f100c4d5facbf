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

package digest

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeTempFile(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	assert.Nil(t, os.WriteFile(path, contents, 0644))
	return path
}

func neverCancel() bool { return false }

func TestDigestMatchesMD5ForSmallFile(t *testing.T) {
	contents := []byte("the quick brown fox jumps over the lazy dog")
	path := writeTempFile(t, contents)

	sum := md5.Sum(contents)
	expected := hex.EncodeToString(sum[:])

	var lastProgress int64
	got, err := Digest(path, int64(len(contents)), neverCancel, func(n int64) {
		lastProgress = n
	})
	assert.Nil(t, err)
	assert.Equal(t, expected, got)
	assert.Equal(t, int64(len(contents)), lastProgress)
}

func TestDigestMatchesMD5ForLargeFileWithGrowingBlockSize(t *testing.T) {
	// large enough to force the adaptive block size to double twice
	// (32 MiB / 100 KiB = 327 > 100, then 163 > 100 at 200 KiB)
	contents := make([]byte, 32*1024*1024)
	for i := range contents {
		contents[i] = byte(i % 251)
	}
	path := writeTempFile(t, contents)

	sum := md5.Sum(contents)
	expected := hex.EncodeToString(sum[:])

	got, err := Digest(path, int64(len(contents)), neverCancel, nil)
	assert.Nil(t, err)
	assert.Equal(t, expected, got)
}

func TestDigestReturnsCanceledWithoutHash(t *testing.T) {
	contents := make([]byte, 1024*1024)
	path := writeTempFile(t, contents)

	calls := 0
	canceled := func() bool {
		calls++
		return calls > 1
	}
	got, err := Digest(path, int64(len(contents)), canceled, nil)
	assert.Equal(t, ErrCanceled, err)
	assert.Equal(t, "", got)
}

func TestDigestReportsErrorForMissingFile(t *testing.T) {
	_, err := Digest(filepath.Join(t.TempDir(), "does-not-exist"), 0, neverCancel, nil)
	assert.NotNil(t, err)
}
