// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package sshserver implements the device-side embedded SSH server bound to
// a single tunnel substream (spec.md section 4.5, "Ssh"). Unlike a normal
// SSH daemon it never listens on a socket: one server handshake runs per
// Serve call, directly over the stream the router handed it.
//
// Grounded on the teacher's authorized_keys union check
// (cloudflare-cloudflared/sshserver/authentication.go), adapted from
// gliderlabs/ssh's per-connection callback onto golang.org/x/crypto/ssh's
// lower-level ServerConfig, since the m87 server never listens on a real
// TCP port — the higher-level framework assumes it does.
package sshserver

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// AuthorizedKeysLoader returns the raw authorized_keys file contents for
// the device owner scope invoking this stream. Left as a caller-supplied
// function because key storage is an external collaborator (spec.md
// section 1's "authentication backends... out of scope").
type AuthorizedKeysLoader func() ([]byte, error)

// Server is one embedded SSH server bound to the device owner's
// authorized keys.
type Server struct {
	hostKey  ssh.Signer
	loadKeys AuthorizedKeysLoader
}

// New constructs a Server. hostKey is the device's persistent SSH host key
// and loadKeys supplies the authorized_keys union for the owner scope. The
// SFTP subsystem is rooted at the invoking user's home directory
// (spec.md section 4.5), resolved per-session from the authenticated
// username once the handshake completes.
func New(hostKey ssh.Signer, loadKeys AuthorizedKeysLoader) *Server {
	return &Server{hostKey: hostKey, loadKeys: loadKeys}
}

// Serve runs one SSH server handshake and session loop over conn (a tunnel
// substream wrapped to satisfy net.Conn via streamConn), blocking until the
// session ends.
func (s *Server) Serve(conn net.Conn) error {
	config := &ssh.ServerConfig{
		PublicKeyCallback: s.authorizedKeyHandler,
	}
	config.AddHostKey(s.hostKey)

	sc, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return fmt.Errorf("ssh handshake: %w", err)
	}
	defer sc.Close()

	go ssh.DiscardRequests(reqs)

	username := sc.Permissions.Extensions["user"]
	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			go s.handleSession(newChan, username)
		case "direct-tcpip":
			go s.handleDirectTCPIP(newChan)
		default:
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
	return nil
}

func (s *Server) authorizedKeyHandler(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	authorizedKeysBytes, err := s.loadKeys()
	if err != nil {
		return nil, fmt.Errorf("load authorized_keys: %w", err)
	}
	for len(authorizedKeysBytes) > 0 {
		pubKey, _, _, rest, err := ssh.ParseAuthorizedKey(authorizedKeysBytes)
		if err != nil {
			return nil, fmt.Errorf("no valid keys found for user %q", meta.User())
		}
		authorizedKeysBytes = rest
		if ssh.KeysEqual(pubKey, key) {
			return &ssh.Permissions{Extensions: map[string]string{"user": meta.User()}}, nil
		}
	}
	return nil, fmt.Errorf("no matching key for user %q", meta.User())
}

func sftpRootFor(username string) string {
	u, err := user.Lookup(username)
	if err != nil {
		return "/"
	}
	return u.HomeDir
}

func (s *Server) handleSession(newChan ssh.NewChannel, username string) {
	ch, requests, err := newChan.Accept()
	if err != nil {
		return
	}
	defer ch.Close()

	var ptyFile *os.File
	var cmd *exec.Cmd

	for req := range requests {
		switch req.Type {
		case "pty-req":
			ptyFile, cmd, err = startPTYShell()
			ack(req, err == nil)
			if err == nil {
				go io.Copy(ch, ptyFile)
				go io.Copy(ptyFile, ch)
			}
		case "shell":
			ack(req, true)
		case "window-change":
			handleWindowChange(ptyFile, req.Payload)
		case "subsystem":
			name := parseSubsystemName(req.Payload)
			ack(req, name == "sftp")
			if name == "sftp" {
				go serveSFTP(ch, sftpRootFor(username))
			}
		case "exec":
			ack(req, true)
			go runExecCommand(ch, parseExecCommand(req.Payload))
		default:
			ack(req, false)
		}
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func startPTYShell() (*os.File, *exec.Cmd, error) {
	shell := loginShell()
	cmd := exec.Command(shell, "-l")
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, err
	}
	return f, cmd, nil
}

func loginShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		if _, err := exec.LookPath(sh); err == nil {
			return sh
		}
	}
	for _, candidate := range []string{"/bin/bash", "/bin/zsh", "/usr/bin/fish", "/bin/sh"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "/bin/sh"
}

func ack(req *ssh.Request, ok bool) {
	if req.WantReply {
		_ = req.Reply(ok, nil)
	}
}

func handleWindowChange(f *os.File, payload []byte) {
	if f == nil || len(payload) < 8 {
		return
	}
	cols := be32(payload[0:4])
	rows := be32(payload[4:8])
	_ = pty.Setsize(f, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func parseSubsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := be32(payload[0:4])
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}

func parseExecCommand(payload []byte) string {
	return parseSubsystemName(payload)
}

func runExecCommand(ch ssh.Channel, commandLine string) {
	defer ch.Close()
	cmd := exec.Command(loginShell(), "-c", commandLine)
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()
	cmd.Stdin = ch
	_ = cmd.Run()
}

// serveSFTP runs the SFTP subsystem rooted at root (the invoking user's
// home directory, resolved by sftpRootFor), per spec.md section 4.5's
// "SFTP root" scoping requirement.
func serveSFTP(ch ssh.Channel, root string) {
	srv, err := sftp.NewServer(ch, sftp.WithServerWorkingDirectory(root))
	if err != nil {
		return
	}
	defer srv.Close()
	_ = srv.Serve()
}

func (s *Server) handleDirectTCPIP(newChan ssh.NewChannel) {
	var payload struct {
		DestAddr string
		DestPort uint32
		SrcAddr  string
		SrcPort  uint32
	}
	if err := ssh.Unmarshal(newChan.ExtraData(), &payload); err != nil {
		_ = newChan.Reject(ssh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}
	dest := net.JoinHostPort(payload.DestAddr, fmt.Sprintf("%d", payload.DestPort))
	target, err := net.Dial("tcp", dest)
	if err != nil {
		_ = newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	defer target.Close()

	ch, requests, err := newChan.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(requests)

	done := make(chan struct{}, 2)
	go func() { io.Copy(target, ch); done <- struct{}{} }()
	go func() { io.Copy(ch, target); done <- struct{}{} }()
	<-done
}

// sftpHomeRoot is exposed for tests validating the SFTP root-scoping
// contract from spec.md section 4.5.
func sftpHomeRoot(username string) string {
	return filepath.Clean(sftpRootFor(username))
}
