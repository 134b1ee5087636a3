package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthtools/leadscout/internal/model"
)

// writeScript drops an executable shell script standing in for the
// discover child process.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script helper")
	}
	path := filepath.Join(t.TempDir(), "discover.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestSubprocessDiscoverer_CapturesBothStreams(t *testing.T) {
	script := writeScript(t, `
echo "page 1 processed"
echo "slow host, retrying" >&2
echo "page 2 processed"
exit 0
`)
	d := &SubprocessDiscoverer{Binary: script}
	tails := NewTailPair(4096, 4096)

	err := d.Run(context.Background(), model.JobParams{Category: "technology", Limit: 5, MaxPages: 3}, tails)
	require.NoError(t, err)
	assert.Contains(t, tails.Stdout.String(), "page 1 processed")
	assert.Contains(t, tails.Stdout.String(), "page 2 processed")
	assert.Contains(t, tails.Stderr.String(), "slow host, retrying")
	assert.NotContains(t, tails.Stdout.String(), "slow host")
}

func TestSubprocessDiscoverer_NonZeroExitIsFailure(t *testing.T) {
	script := writeScript(t, `
echo "fatal: search endpoint unreachable" >&2
exit 2
`)
	d := &SubprocessDiscoverer{Binary: script}
	tails := NewTailPair(4096, 4096)

	err := d.Run(context.Background(), model.JobParams{Category: "technology", Limit: 5, MaxPages: 3}, tails)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 2")
	assert.Contains(t, tails.Stderr.String(), "search endpoint unreachable")
}

func TestSubprocessDiscoverer_TailStaysBounded(t *testing.T) {
	script := writeScript(t, `
i=0
while [ $i -lt 200 ]; do
  echo "line $i of much crawler output"
  i=$((i+1))
done
`)
	d := &SubprocessDiscoverer{Binary: script}
	tails := NewTailPair(256, 256)

	err := d.Run(context.Background(), model.JobParams{Category: "technology", Limit: 5, MaxPages: 3}, tails)
	require.NoError(t, err)
	out := tails.Stdout.String()
	assert.LessOrEqual(t, len(out), 256)
	assert.Contains(t, out, "line 199")
	assert.NotContains(t, out, "line 0 of")
}

func TestSubprocessDiscoverer_OnOutputSeesIncrementalTails(t *testing.T) {
	script := writeScript(t, `
echo one
echo two
`)
	var snapshots []string
	d := &SubprocessDiscoverer{
		Binary:   script,
		OnOutput: func(stdout, _ string) { snapshots = append(snapshots, stdout) },
	}
	tails := NewTailPair(4096, 4096)

	err := d.Run(context.Background(), model.JobParams{Category: "technology", Limit: 1, MaxPages: 1}, tails)
	require.NoError(t, err)
	require.NotEmpty(t, snapshots)
	assert.Contains(t, snapshots[len(snapshots)-1], "two")
}

func TestSubprocessDiscoverer_CancelledContext(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	d := &SubprocessDiscoverer{Binary: script}
	tails := NewTailPair(4096, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Run(ctx, model.JobParams{Category: "technology", Limit: 1, MaxPages: 1}, tails)
	assert.Error(t, err)
}
