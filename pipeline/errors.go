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

package pipeline

import "fmt"

// AlreadyRunningError is returned by Run if the Coordinator is already
// processing a run.
type AlreadyRunningError struct{}

func (e AlreadyRunningError) Error() string {
	return "pipeline: a run is already in progress"
}

// FatalError wraps a pipeline-fatal condition (currently only a server
// reporting it has no staging storage provisioned) that causes the
// Coordinator to cancel the entire run rather than just the offending task.
type FatalError struct {
	Reason error
}

func (e FatalError) Error() string {
	return fmt.Sprintf("pipeline: fatal error, canceling run: %s", e.Reason.Error())
}

func (e FatalError) Unwrap() error {
	return e.Reason
}
