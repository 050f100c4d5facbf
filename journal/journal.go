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

// Package journal is the Run Journal: a durable history log of completed
// pipeline runs, queried by time range. It is history, not a resumable work
// queue -- a crashed run leaves no journal entry and is simply re-verified
// from scratch the next time the pipeline runs against the same dataset.
//
// The database lives behind its own goroutine, the way the source's transfer
// journal keeps SQLite off the caller's goroutine; callers talk to it over
// channels carrying a reply channel per request, so concurrent callers don't
// race on a single shared reply channel the way the source's package-level
// globals would.
package journal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/mytardis/dtsync/pipeline"
)

// RunRecord is one completed pipeline run, as persisted to the journal.
type RunRecord struct {
	RunID       uuid.UUID
	DatasetURI  string
	StartTime   time.Time
	StopTime    time.Time
	Mode        string
	Completed   int
	Failed      int
	Canceled    int
	PayloadSize int64
}

// TimeRange bounds a Records query, inclusive on both ends.
type TimeRange struct {
	Start, Stop time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	dataset_uri  TEXT NOT NULL,
	start_time   TEXT NOT NULL,
	stop_time    TEXT NOT NULL,
	mode         TEXT NOT NULL,
	completed    INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	canceled     INTEGER NOT NULL,
	payload_size INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_start_time_idx ON runs(start_time);
`

type createRecordRequest struct {
	record RunRecord
	reply  chan error
}

type fetchRecordsRequest struct {
	timeRange TimeRange
	reply     chan fetchRecordsResult
}

type fetchRecordsResult struct {
	records []RunRecord
	err     error
}

type fetchByIDRequest struct {
	runID uuid.UUID
	reply chan fetchByIDResult
}

type fetchByIDResult struct {
	record RunRecord
	err    error
}

// Journal is a handle to an open run journal. The zero value is not usable;
// construct one with Open.
type Journal struct {
	createCh    chan createRecordRequest
	fetchCh     chan fetchRecordsRequest
	fetchByIDCh chan fetchByIDRequest
	shutdownCh  chan chan error

	closed chan struct{}
}

// Open starts the journal's owning goroutine and opens (creating if
// necessary) the SQLite database at path, blocking until the schema is
// ready or opening fails.
func Open(path string) (*Journal, error) {
	j := &Journal{
		createCh:    make(chan createRecordRequest),
		fetchCh:     make(chan fetchRecordsRequest),
		fetchByIDCh: make(chan fetchByIDRequest),
		shutdownCh:  make(chan chan error),
		closed:      make(chan struct{}),
	}

	ready := make(chan error, 1)
	go j.run(path, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return j, nil
}

// Close flushes and closes the underlying database. Close is idempotent.
func (j *Journal) Close() error {
	select {
	case <-j.closed:
		return nil
	default:
	}
	reply := make(chan error, 1)
	select {
	case j.shutdownCh <- reply:
		return <-reply
	case <-j.closed:
		return nil
	}
}

// RecordRun persists a completed run's aggregate outcome. It satisfies
// pipeline.RunRecorder, so a *Journal can be passed directly to
// pipeline.NewCoordinator.
func (j *Journal) RecordRun(datasetURI string, start, stop time.Time, summary pipeline.Summary) error {
	record := RunRecord{
		RunID:       uuid.New(),
		DatasetURI:  datasetURI,
		StartTime:   start,
		StopTime:    stop,
		Mode:        summary.Mode.String(),
		Completed:   summary.Completed,
		Failed:      summary.Failed,
		Canceled:    summary.Canceled,
		PayloadSize: summary.CompletedSize,
	}

	reply := make(chan error, 1)
	select {
	case j.createCh <- createRecordRequest{record: record, reply: reply}:
		return <-reply
	case <-j.closed:
		return &NotOpenError{}
	}
}

// Records returns every run whose start time falls within the given
// (inclusive) range, ordered by start time.
func (j *Journal) Records(tr TimeRange) ([]RunRecord, error) {
	reply := make(chan fetchRecordsResult, 1)
	select {
	case j.fetchCh <- fetchRecordsRequest{timeRange: tr, reply: reply}:
		result := <-reply
		return result.records, result.err
	case <-j.closed:
		return nil, &NotOpenError{}
	}
}

// RecordByID returns the single run recorded under runID, or a
// RecordNotFoundError if the journal has no run with that ID.
func (j *Journal) RecordByID(runID uuid.UUID) (RunRecord, error) {
	reply := make(chan fetchByIDResult, 1)
	select {
	case j.fetchByIDCh <- fetchByIDRequest{runID: runID, reply: reply}:
		result := <-reply
		return result.record, result.err
	case <-j.closed:
		return RunRecord{}, &NotOpenError{}
	}
}

func (j *Journal) run(path string, ready chan<- error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		ready <- &CantOpenError{Message: err.Error()}
		return
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		ready <- &CantOpenError{Message: fmt.Sprintf("creating schema: %s", err)}
		return
	}

	ready <- nil

	for {
		select {
		case req := <-j.createCh:
			req.reply <- createRecord(conn, req.record)

		case req := <-j.fetchCh:
			records, err := fetchRecords(conn, req.timeRange)
			req.reply <- fetchRecordsResult{records: records, err: err}

		case req := <-j.fetchByIDCh:
			record, err := fetchRecordByID(conn, req.runID)
			req.reply <- fetchByIDResult{record: record, err: err}

		case reply := <-j.shutdownCh:
			err := conn.Close()
			close(j.closed)
			if err != nil {
				reply <- &CantCloseError{Message: err.Error()}
			} else {
				reply <- nil
			}
			return
		}
	}
}

func createRecord(conn *sqlite.Conn, record RunRecord) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO runs (run_id, dataset_uri, start_time, stop_time, mode, completed, failed, canceled, payload_size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.RunID.String(),
				record.DatasetURI,
				record.StartTime.Format(time.RFC3339Nano),
				record.StopTime.Format(time.RFC3339Nano),
				record.Mode,
				record.Completed,
				record.Failed,
				record.Canceled,
				record.PayloadSize,
			},
		})
	if err != nil {
		return &NewRecordError{Id: record.RunID, Message: err.Error()}
	}
	return nil
}

func fetchRecords(conn *sqlite.Conn, tr TimeRange) ([]RunRecord, error) {
	records := make([]RunRecord, 0)
	var rowErr error

	err := sqlitex.Execute(conn,
		`SELECT run_id, dataset_uri, start_time, stop_time, mode, completed, failed, canceled, payload_size
		 FROM runs
		 WHERE start_time >= ? AND start_time <= ?
		 ORDER BY start_time ASC`,
		&sqlitex.ExecOptions{
			Args: []any{
				tr.Start.Format(time.RFC3339Nano),
				tr.Stop.Format(time.RFC3339Nano),
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id, err := uuid.Parse(stmt.ColumnText(0))
				if err != nil {
					rowErr = &InvalidRecordError{Message: err.Error()}
					return nil
				}
				start, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(2))
				if err != nil {
					rowErr = &InvalidRecordError{Id: id, Message: err.Error()}
					return nil
				}
				stop, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(3))
				if err != nil {
					rowErr = &InvalidRecordError{Id: id, Message: err.Error()}
					return nil
				}
				records = append(records, RunRecord{
					RunID:       id,
					DatasetURI:  stmt.ColumnText(1),
					StartTime:   start,
					StopTime:    stop,
					Mode:        stmt.ColumnText(4),
					Completed:   stmt.ColumnInt(5),
					Failed:      stmt.ColumnInt(6),
					Canceled:    stmt.ColumnInt(7),
					PayloadSize: stmt.ColumnInt64(8),
				})
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return records, rowErr
}

func fetchRecordByID(conn *sqlite.Conn, runID uuid.UUID) (RunRecord, error) {
	var record RunRecord
	var found bool
	var rowErr error

	err := sqlitex.Execute(conn,
		`SELECT run_id, dataset_uri, start_time, stop_time, mode, completed, failed, canceled, payload_size
		 FROM runs
		 WHERE run_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{runID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				start, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(2))
				if err != nil {
					rowErr = &InvalidRecordError{Id: runID, Message: err.Error()}
					return nil
				}
				stop, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(3))
				if err != nil {
					rowErr = &InvalidRecordError{Id: runID, Message: err.Error()}
					return nil
				}
				record = RunRecord{
					RunID:       runID,
					DatasetURI:  stmt.ColumnText(1),
					StartTime:   start,
					StopTime:    stop,
					Mode:        stmt.ColumnText(4),
					Completed:   stmt.ColumnInt(5),
					Failed:      stmt.ColumnInt(6),
					Canceled:    stmt.ColumnInt(7),
					PayloadSize: stmt.ColumnInt64(8),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return RunRecord{}, err
	}
	if rowErr != nil {
		return RunRecord{}, rowErr
	}
	if !found {
		return RunRecord{}, &RecordNotFoundError{Id: runID}
	}
	return record, nil
}
