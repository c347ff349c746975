package sshutil

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServer is a minimal in-process SSH server. It understands a handful of
// exec commands and a line-oriented PTY shell.
type testServer struct {
	addr    string
	hostKey ssh.PublicKey
}

func newKeyPair(t *testing.T) (ed25519.PrivateKey, ssh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return priv, signer
}

func startTestServer(t *testing.T, password string, authorized ssh.PublicKey) *testServer {
	t.Helper()

	_, hostSigner := newKeyPair(t)
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if password != "" && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if authorized != nil && bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("key rejected")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveTestConn(conn, cfg)
		}
	}()

	return &testServer{addr: ln.Addr().String(), hostKey: hostSigner.PublicKey()}
}

func (s *testServer) params(t *testing.T) HostParams {
	t.Helper()
	host, port, err := net.SplitHostPort(s.addr)
	require.NoError(t, err)
	return HostParams{Alias: "testhost", Hostname: host, Port: port, User: "deploy"}
}

func serveTestConn(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go serveTestSession(ch, requests)
	}
}

func serveTestSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)
			status := runTestCommand(payload.Command, ch)
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		case "shell":
			_ = req.Reply(true, nil)
			go runTestShell(ch)
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func runTestCommand(cmd string, ch ssh.Channel) uint32 {
	switch {
	case cmd == "echo hello":
		_, _ = io.WriteString(ch, "hello\n")
		return 0
	case cmd == "echo err":
		_, _ = io.WriteString(ch.Stderr(), "err\n")
		return 0
	case cmd == "cat":
		data, _ := io.ReadAll(ch)
		_, _ = ch.Write(data)
		return 0
	case strings.HasPrefix(cmd, "exit "):
		var code uint32
		_, _ = fmt.Sscanf(cmd, "exit %d", &code)
		return code
	default:
		_, _ = io.WriteString(ch.Stderr(), "command not found\n")
		return 127
	}
}

func runTestShell(ch ssh.Channel) {
	_, _ = io.WriteString(ch, "Welcome to testhost\r\n$ ")
	scanner := bufio.NewScanner(ch)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "sudo -n true"):
			_, _ = io.WriteString(ch, "sudo: a password is required\r\n__RC=1\r\n$ ")
		case strings.HasPrefix(line, "true"):
			_, _ = io.WriteString(ch, "__RC=0\r\n$ ")
		case line == "exit":
			return
		}
	}
}
