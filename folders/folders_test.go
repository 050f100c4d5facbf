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

package folders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan_FindsRegularFilesRecursively(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("nested"), 0o644))

	files, err := Scan("folder1", root)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byName := make(map[string]bool)
	for _, f := range files {
		assert.Equal(t, "folder1", f.FolderID)
		byName[f.Filename()] = true
	}
	assert.True(t, byName["top.txt"])
	assert.True(t, byName["nested.txt"])
}

func TestScan_SetsDirectoryRelativeToRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "deep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("y"), 0o644))

	files, err := Scan("folder1", root)
	require.NoError(t, err)

	var deep, top bool
	for _, f := range files {
		switch f.Filename() {
		case "deep.txt":
			assert.Equal(t, filepath.Join("a", "b"), f.Directory)
			deep = true
		case "top.txt":
			assert.Equal(t, "", f.Directory)
			top = true
		}
	}
	assert.True(t, deep)
	assert.True(t, top)
}

func TestScan_AssignsStableFileIndexOrder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644))

	first, err := Scan("folder1", root)
	require.NoError(t, err)
	second, err := Scan("folder1", root)
	require.NoError(t, err)

	require.Len(t, first, 2)
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].ID(), second[i].ID(), "re-scanning an unchanged tree must yield stable IDs")
	}
}

func TestScan_EmptyDirectoryYieldsNoFiles(t *testing.T) {
	root := t.TempDir()
	files, err := Scan("folder1", root)
	require.NoError(t, err)
	assert.Empty(t, files)
}
