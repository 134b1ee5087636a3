package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/model"
)

// DiscoverRunner runs the discovery stage for one job, writing any captured
// output into tails.
type DiscoverRunner interface {
	Run(ctx context.Context, params model.JobParams, tails *TailPair) error
}

// SubprocessDiscoverer runs discovery as a child process of the current
// binary, invoking its own discover subcommand. Keeping the crawl in a
// separate process isolates the API server from crawler crashes and lets
// the orchestrator treat the stage as an opaque exit code plus output.
type SubprocessDiscoverer struct {
	// Binary overrides the executable to run. Empty means the current
	// binary.
	Binary string

	// OnOutput, when set, is called after every captured line with the
	// current tail contents.
	OnOutput func(stdoutTail, stderrTail string)
}

func (d *SubprocessDiscoverer) Run(ctx context.Context, params model.JobParams, tails *TailPair) error {
	bin := d.Binary
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return eris.Wrap(err, "orchestrator: resolve executable")
		}
		bin = exe
	}

	args := []string{
		"discover",
		"--category", params.Category,
		"--limit", strconv.Itoa(params.Limit),
		"--max-pages", strconv.Itoa(params.MaxPages),
	}
	if params.Region != "" {
		args = append(args, "--region", params.Region)
	}
	if params.RegionID != "" {
		args = append(args, "--region-id", params.RegionID)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return eris.Wrap(err, "orchestrator: stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return eris.Wrap(err, "orchestrator: stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return eris.Wrap(err, "orchestrator: start discover process")
	}
	zap.L().Info("discover process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("category", params.Category))

	var wg sync.WaitGroup
	wg.Add(2)
	go d.capture(&wg, stdout, tails.Stdout, tails)
	go d.capture(&wg, stderr, tails.Stderr, tails)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "orchestrator: discover cancelled")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return eris.Errorf("orchestrator: discover exited with code %d", exitErr.ExitCode())
		}
		return eris.Wrap(err, "orchestrator: discover process")
	}
	return nil
}

// capture drains one stream line by line into its tail. The scanner stops
// on EOF when the process exits.
func (d *SubprocessDiscoverer) capture(wg *sync.WaitGroup, r io.Reader, tail *Tail, tails *TailPair) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		tail.WriteLine(sc.Text())
		if d.OnOutput != nil {
			d.OnOutput(tails.Stdout.String(), tails.Stderr.String())
		}
	}
}
