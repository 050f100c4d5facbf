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

// Package folders discovers the local file set that feeds a pipeline run. It
// is deliberately thin: the spec treats folder discovery and the tabular UI
// models built on top of it as an external collaborator, not part of the
// verification-and-upload core. This package is just enough to walk a
// directory tree into the pipeline.LocalFile values the Coordinator consumes.
package folders

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/mytardis/dtsync/pipeline"
)

// Scan walks root and returns one pipeline.LocalFile per regular file found,
// in a stable (lexical path) order. folderID is stamped onto every file and
// becomes the FolderID half of each LocalFile's identifier; fileIndex is
// assigned by position in the returned slice, so re-scanning an unchanged
// tree yields the same IDs.
func Scan(folderID, root string) ([]pipeline.LocalFile, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	files := make([]pipeline.LocalFile, 0, len(paths))
	for i, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return nil, err
		}
		if rel == "." {
			rel = ""
		}
		files = append(files, pipeline.LocalFile{
			FolderID:  folderID,
			FileIndex: i,
			Path:      path,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Directory: rel,
		})
	}
	return files, nil
}
