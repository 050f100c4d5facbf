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

package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestSFTPServer spins up a real SSH server on localhost backed by the
// host filesystem, authenticating only the given client public key, and
// returns its "host:port" address. It runs until the test cleans up.
func startTestSFTPServer(t *testing.T, clientPub ssh.PublicKey) string {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientPub.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unauthorized key")
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveTestSFTPConn(conn, config)
		}
	}()

	return ln.Addr().String()
}

func serveTestSFTPConn(conn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}

		go func() {
			for req := range requests {
				ok := req.Type == "subsystem" && len(req.Payload) >= 4 && string(req.Payload[4:]) == "sftp"
				req.Reply(ok, nil)
			}
		}()

		server, err := sftp.NewServer(channel)
		if err != nil {
			continue
		}
		server.Serve()
		channel.Close()
	}
}

// newTestClientKey generates an ed25519 key pair and writes the private key
// to a temp file in OpenSSH PEM format, returning the path and the public
// key for the server's auth callback.
func newTestClientKey(t *testing.T) (path string, pub ssh.PublicKey) {
	t.Helper()

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(privKey, "")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	sshPub, err := ssh.NewPublicKey(pubKey)
	require.NoError(t, err)

	return keyPath, sshPub
}

func TestNewSFTPStagingTransport_MissingKeyFile(t *testing.T) {
	_, err := NewSFTPStagingTransport("localhost:22", "user", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestNewSFTPStagingTransport_MalformedKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad_key")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err := NewSFTPStagingTransport("localhost:22", "user", path)
	require.Error(t, err)
}

func TestNewSFTPStagingTransport_DefaultsPortWhenOmitted(t *testing.T) {
	keyPath, _ := newTestClientKey(t)
	tr, err := NewSFTPStagingTransport("staging.example.org", "user", keyPath)
	require.NoError(t, err)
	assert.Equal(t, "staging.example.org:22", tr.addr)
}

func TestSFTPStagingTransport_UploadThenBytesOnStagingRoundTrip(t *testing.T) {
	keyPath, pub := newTestClientKey(t)
	addr := startTestSFTPServer(t, pub)

	tr, err := NewSFTPStagingTransport(addr, "user", keyPath)
	require.NoError(t, err)

	localPath := writeTempFile(t, "sftp payload")
	remotePath := filepath.Join(t.TempDir(), "nested", "replica.dat")

	var lastProgress int64
	err = tr.UploadFile(localPath, int64(len("sftp payload")), remotePath, func(sent int64) {
		lastProgress = sent
	}, func() bool { return false })
	require.NoError(t, err)
	assert.Equal(t, int64(len("sftp payload")), lastProgress)

	contents, err := os.ReadFile(remotePath)
	require.NoError(t, err)
	assert.Equal(t, "sftp payload", string(contents))

	size, err := tr.BytesOnStaging(remotePath)
	require.NoError(t, err)
	assert.Equal(t, int64(len("sftp payload")), size)
}

func TestSFTPStagingTransport_BytesOnStaging_MissingFileIsZero(t *testing.T) {
	keyPath, pub := newTestClientKey(t)
	addr := startTestSFTPServer(t, pub)

	tr, err := NewSFTPStagingTransport(addr, "user", keyPath)
	require.NoError(t, err)

	size, err := tr.BytesOnStaging(filepath.Join(t.TempDir(), "never-written.dat"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestSFTPStagingTransport_UploadFile_SizeMismatchIsIncomplete(t *testing.T) {
	keyPath, pub := newTestClientKey(t)
	addr := startTestSFTPServer(t, pub)

	tr, err := NewSFTPStagingTransport(addr, "user", keyPath)
	require.NoError(t, err)

	localPath := writeTempFile(t, "short")
	remotePath := filepath.Join(t.TempDir(), "replica.dat")

	err = tr.UploadFile(localPath, 999, remotePath, nil, func() bool { return false })
	assert.ErrorIs(t, err, ErrIncomplete)
}
