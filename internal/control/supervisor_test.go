// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveBackoffIsBoundedAndGrows(t *testing.T) {
	prev := resolveBackoff(0)
	require.Equal(t, 200*time.Millisecond, prev)
	for attempt := 1; attempt < ResolveRetries; attempt++ {
		d := resolveBackoff(attempt)
		require.GreaterOrEqual(t, d, prev)
		require.LessOrEqual(t, d, 1550*time.Millisecond)
		prev = d
	}
}

func TestWaitForResolveSucceedsForLocalhost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, waitForResolve(ctx, "localhost:443"))
}

func TestWaitForResolveFailsForBogusHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := waitForResolve(ctx, "this-host-does-not-exist.invalid:443")
	require.Error(t, err)
}
