// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package support

import (
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// IsConnRefused returns true if error indicates connection refused
func IsConnRefused(err error) bool {
	var uerr *url.Error
	if As(err, &uerr) {
		if IsConnRefused(uerr.Err) {
			return true
		}
	}
	var op *net.OpError
	if As(err, &op) {
		if se, ok := op.Err.(*os.SyscallError); ok {
			return se.Err == syscall.ECONNREFUSED
		}
		// sometimes wrapped directly
		if errno, ok := op.Err.(syscall.Errno); ok {
			return errno == syscall.ECONNREFUSED
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

// IsDialTimeout returns true if error indicates dial timeout
func IsDialTimeout(err error) bool {
	var ne net.Error
	if As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// As reports whether err itself is a *url.Error, *net.OpError or net.Error
// matching target's type, and stores it in target. Unlike errors.As it does
// not walk the Unwrap chain.
func As(err error, target any) bool {
	switch t := target.(type) {
	case **url.Error:
		if uerr, ok := err.(*url.Error); ok {
			*t = uerr
			return true
		}
	case **net.OpError:
		if operr, ok := err.(*net.OpError); ok {
			*t = operr
			return true
		}
	case *net.Error:
		if nerr, ok := err.(net.Error); ok {
			*t = nerr
			return true
		}
	}
	return false
}
