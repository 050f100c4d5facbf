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

// Package schedule is a cron-like wrapper around repeated pipeline runs. The
// spec treats scheduling as an external collaborator of the pipeline core;
// this is the minimal heartbeat-driven implementation the CLI needs to run a
// dataset mirror on a fixed interval instead of once and exiting. The
// heartbeat pattern mirrors the teacher's tasks package, which ticks a poll
// channel on a configured interval rather than spawning a timer per waiter.
package schedule

import "time"

// Job is run once per tick. It receives the tick time so callers can stamp
// log lines or run records with it.
type Job func(tick time.Time)

// Ticker runs a Job on a fixed interval until Stop is called. Unlike a bare
// time.Ticker, it runs the first tick immediately rather than waiting one
// full interval, and it guarantees the Job never runs concurrently with
// itself: a slow run simply delays the next tick rather than overlapping it.
type Ticker struct {
	interval time.Duration
	job      Job
	stop     chan struct{}
	done     chan struct{}
}

// Every starts a Ticker that invokes job immediately and then every interval
// until Stop is called. interval must be positive.
func Every(interval time.Duration, job Job) *Ticker {
	t := &Ticker{
		interval: interval,
		job:      job,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Ticker) run() {
	defer close(t.done)
	t.fire()
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	for {
		select {
		case <-t.stop:
			return
		case now := <-timer.C:
			t.job(now)
			timer.Reset(t.interval)
		}
	}
}

func (t *Ticker) fire() {
	select {
	case <-t.stop:
	default:
		t.job(time.Now())
	}
}

// Stop signals the Ticker to stop and blocks until any in-progress Job
// invocation returns and no further ticks will fire.
func (t *Ticker) Stop() {
	close(t.stop)
	<-t.done
}
