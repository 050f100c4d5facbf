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

package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery_FiresImmediatelyOnStart(t *testing.T) {
	var fired atomic.Int32
	ticker := Every(time.Hour, func(time.Time) { fired.Add(1) })
	defer ticker.Stop()

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestEvery_FiresRepeatedlyOnInterval(t *testing.T) {
	var fired atomic.Int32
	ticker := Every(20*time.Millisecond, func(time.Time) { fired.Add(1) })
	defer ticker.Stop()

	require.Eventually(t, func() bool { return fired.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestStop_PreventsFurtherTicks(t *testing.T) {
	var fired atomic.Int32
	ticker := Every(200*time.Millisecond, func(time.Time) { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() >= 1 }, time.Second, time.Millisecond)
	ticker.Stop()

	after := fired.Load()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, after, fired.Load(), "no tick should fire after Stop returns")
}

func TestStop_WaitsForInFlightJobToFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ticker := Every(time.Hour, func(time.Time) {
		close(started)
		<-release
	})

	<-started
	stopped := make(chan struct{})
	go func() {
		ticker.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop never returned after the job finished")
	}
}
