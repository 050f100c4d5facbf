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

// Package config loads and validates the YAML configuration that drives a
// dtsync pipeline run: the catalog server, staging credentials, worker pool
// sizes, and the handful of ambient paths the run journal and CLI need.
package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// recognized values for StagingTransport
const (
	StagingTransportHTTP = "http"
	StagingTransportSFTP = "sftp"
)

// recognized values for ForceMode; empty means "negotiate with the server"
const (
	ModeStaging = "staging"
	ModePost    = "post"
)

// pipelineConfig holds the parameters that govern a single pipeline run.
type pipelineConfig struct {
	// base URL of the server's catalog API
	ServerURL string `yaml:"serverUrl"`
	// username presented to the catalog API
	Username string `yaml:"username"`
	// API key/secret presented to the catalog API
	APIKey string `yaml:"apiKey"`
	// hostname (and optional :port) of the staging host
	StagingHost string `yaml:"stagingHost"`
	// username for the staging host (SFTP transport only)
	StagingUsername string `yaml:"stagingUsername"`
	// path to a private key used to authenticate to the staging host (SFTP only)
	PrivateKeyPath string `yaml:"privateKeyPath"`
	// "http" (default) or "sftp" -- selects the concrete Staging Transport
	StagingTransport string `yaml:"stagingTransport,omitempty"`
	// number of concurrent verifiers
	// default: 25
	NumVerificationWorkers int `yaml:"numVerificationWorkers,omitempty"`
	// number of concurrent uploaders (clamped to 1 under POST mode)
	// default: 5
	NumUploadWorkers int `yaml:"numUploadWorkers,omitempty"`
	// forces TransferMode to "staging" or "post" instead of negotiating with
	// the server; empty string negotiates
	ForceMode string `yaml:"forceMode,omitempty"`
	// reserved digest value that uploaders record as the file's digest instead
	// of hashing its contents -- a test hook; it does not change how files are
	// verified or when server-side verification is requested
	FakeDigest string `yaml:"fakeDigest,omitempty"`
	// existing, writable directory used for the run journal's database file
	DataDir string `yaml:"dataDir"`
	// path of the run journal's SQLite database, relative to DataDir unless
	// absolute
	// default: "dtsync.db"
	JournalPath string `yaml:"journalPath,omitempty"`
	// interval in milliseconds; validated to be positive, but not read by the
	// CLI, which prints no periodic progress
	// default: 2 seconds
	PollInterval int `yaml:"pollInterval,omitempty"`
	// flag indicating whether debug logging is enabled
	Debug bool `yaml:"debug,omitempty"`
}

// Service holds the configuration for the current process, populated by Init.
var Service pipelineConfig

// configFile is the top-level shape unmarshalled from YAML; it exists mostly
// so that the config file can grow new top-level sections without disturbing
// Service's shape.
type configFile struct {
	Service pipelineConfig `yaml:"service"`
}

// readConfig locates and parses configuration data, expanding any
// ${ENV_VAR} references before unmarshalling.
func readConfig(bytes []byte) error {
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.NumVerificationWorkers = 25
	conf.Service.NumUploadWorkers = 5
	conf.Service.StagingTransport = StagingTransportHTTP
	conf.Service.JournalPath = "dtsync.db"
	conf.Service.PollInterval = 2000

	if err := yaml.Unmarshal(bytes, &conf); err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	Service = conf.Service
	return nil
}

func validateConfig() error {
	if Service.ServerURL == "" {
		return fmt.Errorf("no serverUrl was specified")
	}
	if Service.NumVerificationWorkers <= 0 {
		return fmt.Errorf("invalid numVerificationWorkers: %d (must be positive)",
			Service.NumVerificationWorkers)
	}
	if Service.NumUploadWorkers <= 0 {
		return fmt.Errorf("invalid numUploadWorkers: %d (must be positive)",
			Service.NumUploadWorkers)
	}
	switch Service.StagingTransport {
	case StagingTransportHTTP, StagingTransportSFTP:
	default:
		return fmt.Errorf("invalid stagingTransport: %q (must be %q or %q)",
			Service.StagingTransport, StagingTransportHTTP, StagingTransportSFTP)
	}
	switch Service.ForceMode {
	case "", ModeStaging, ModePost:
	default:
		return fmt.Errorf("invalid forceMode: %q (must be %q or %q)",
			Service.ForceMode, ModeStaging, ModePost)
	}
	if Service.ForceMode == ModeStaging && Service.StagingHost == "" {
		return fmt.Errorf("forceMode is %q but no stagingHost was specified", ModeStaging)
	}
	if Service.StagingTransport == StagingTransportSFTP {
		if Service.StagingHost == "" {
			return fmt.Errorf("stagingTransport is %q but no stagingHost was specified", StagingTransportSFTP)
		}
		if Service.PrivateKeyPath == "" {
			return fmt.Errorf("stagingTransport is %q but no privateKeyPath was specified", StagingTransportSFTP)
		}
	}
	if Service.DataDir == "" {
		return fmt.Errorf("no dataDir was specified")
	}
	if Service.PollInterval <= 0 {
		return fmt.Errorf("non-positive pollInterval specified (%d ms)", Service.PollInterval)
	}
	return nil
}

// Init parses and validates the given YAML configuration data, populating
// Service. It returns a non-nil error describing the first problem found.
func Init(yamlData []byte) error {
	if err := readConfig(yamlData); err != nil {
		return err
	}
	return validateConfig()
}
