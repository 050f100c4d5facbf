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

// Command dtsync loads a configuration file, discovers a local folder's
// files, and mirrors them into the server's catalog, either once or (with
// --every) on a repeating interval, reporting a colorized summary and
// honoring Ctrl-C as pipeline cancellation.
package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/mytardis/dtsync/catalog"
	"github.com/mytardis/dtsync/config"
	"github.com/mytardis/dtsync/folders"
	"github.com/mytardis/dtsync/journal"
	"github.com/mytardis/dtsync/pipeline"
	"github.com/mytardis/dtsync/schedule"
	"github.com/mytardis/dtsync/status"
	"github.com/mytardis/dtsync/transport"
)

var (
	configPath string
	datasetURI string
	every      time.Duration
	verbose    bool
)

func init() {
	flag.StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file (required)")
	flag.StringVarP(&datasetURI, "dataset", "d", "", "server-assigned dataset URI to mirror into (required)")
	flag.DurationVar(&every, "every", 0, "repeat the mirror on this interval instead of running once")
	flag.BoolVarP(&verbose, "verbose", "v", false, "print per-file status transitions in addition to the summary")
}

func usage() {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(1)
}

func enableLogging(debug bool) {
	level := new(slog.LevelVar)
	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func main() {
	flag.Parse()
	if configPath == "" || datasetURI == "" {
		usage()
	}

	file, err := os.Open(configPath)
	if err != nil {
		log.Panicf("couldn't open %s: %s", configPath, err)
	}
	b, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		log.Panicf("couldn't read configuration data: %s", err)
	}
	if err := config.Init(b); err != nil {
		log.Panicf("couldn't initialize configuration: %s", err)
	}

	enableLogging(config.Service.Debug || verbose)

	root := flag.Arg(0)
	if root == "" {
		root = "."
	}

	jnl, err := journal.Open(journalPath())
	if err != nil {
		log.Panicf("couldn't open run journal: %s", err)
	}
	defer jnl.Close()

	bus := status.NewBus()
	coord := newCoordinator(bus, jnl)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		<-sigCh
		slog.Info("received interrupt, canceling pipeline")
		coord.Cancel()
		close(interrupted)
	}()

	go watchBus(bus, verbose)

	dataset := pipeline.DatasetRef{ID: uuid.NewString(), URI: datasetURI}

	runOnce := func(time.Time) {
		files, err := folders.Scan(root, root)
		if err != nil {
			slog.Error("folder scan failed", "root", root, "error", err)
			return
		}
		slog.Info("starting pipeline run", "files", len(files), "dataset", dataset.URI)
		summary, err := coord.Run(dataset, files)
		if err != nil {
			slog.Error("pipeline run failed", "error", err)
			return
		}
		printSummary(summary)
	}

	if every > 0 {
		ticker := schedule.Every(every, runOnce)
		<-interrupted // the signal goroutine already triggered Cancel
		ticker.Stop()
	} else {
		runOnce(time.Time{})
	}
}

func journalPath() string {
	p := config.Service.JournalPath
	if p == "" {
		p = "dtsync.db"
	}
	if len(p) > 0 && p[0] != '/' {
		p = config.Service.DataDir + "/" + p
	}
	return p
}

func newCoordinator(bus *status.Bus, jnl *journal.Journal) *pipeline.Coordinator {
	cat := catalog.NewHTTPClient(config.Service.ServerURL, config.Service.Username, config.Service.APIKey)

	var staging transport.StagingTransport
	switch config.Service.StagingTransport {
	case config.StagingTransportSFTP:
		sftpStaging, err := transport.NewSFTPStagingTransport(config.Service.StagingHost, config.Service.StagingUsername, config.Service.PrivateKeyPath)
		if err != nil {
			log.Panicf("couldn't initialize SFTP staging transport: %s", err)
		}
		staging = sftpStaging
	default:
		staging = transport.NewHTTPStagingTransport(config.Service.ServerURL, config.Service.Username, config.Service.APIKey)
	}
	post := transport.NewHTTPPostTransport(config.Service.ServerURL, config.Service.Username, config.Service.APIKey)

	opts := pipeline.Options{
		NumVerificationWorkers: config.Service.NumVerificationWorkers,
		NumUploadWorkers:       config.Service.NumUploadWorkers,
		ForceMode:              config.Service.ForceMode,
		FakeDigest:             config.Service.FakeDigest,
	}
	return pipeline.NewCoordinator(cat, staging, post, bus, jnl, opts)
}

// watchBus drains the status bus's event stream for the life of the
// process, acknowledging SHOW_MESSAGE events immediately (there is no
// interactive operator to block on) and, in verbose mode, printing per-row
// transitions as they happen.
func watchBus(bus *status.Bus, verbose bool) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for ev := range ch {
		switch ev.Kind {
		case status.EventShowMessage:
			color.Yellow("notice: %s", ev.Message)
			if ev.Ack != nil {
				close(ev.Ack)
			}
		case status.EventConnectionStatus:
			if ev.Connected {
				slog.Info("connection recovered")
			} else {
				slog.Warn("connection lost")
			}
		case status.EventRowChanged:
			if verbose {
				slog.Debug("status", "id", ev.RowID, "status", ev.Row.Status, "message", ev.Row.Message)
			}
		}
	}
}

func printSummary(s pipeline.Summary) {
	line := fmt.Sprintf("mode=%s completed=%d failed=%d canceled=%d transferred=%s",
		s.Mode, s.Completed, s.Failed, s.Canceled, humanize.Bytes(uint64(s.CompletedSize)))
	if s.Failed > 0 {
		color.Red(line)
	} else {
		color.Green(line)
	}
}
