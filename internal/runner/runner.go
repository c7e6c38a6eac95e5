// Package runner supervises external tool processes (ffmpeg, aria2c,
// yt-dlp). It owns spawning, line-by-line output streaming, cancellation
// with a graceful-termination window, and exit status classification.
package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a cancelled child gets to exit after
// SIGTERM before it is force-killed.
const DefaultGracePeriod = 5 * time.Second

// stderrTailLines bounds the diagnostic tail kept per process.
const stderrTailLines = 40

// Outcome classifies how a supervised process ended.
type Outcome int

const (
	// OutcomeOK means the process exited with status 0.
	OutcomeOK Outcome = iota
	// OutcomeNonZero means the process exited with a nonzero status.
	OutcomeNonZero
	// OutcomeSignaled means the process was terminated by a signal
	// not sent by the supervisor.
	OutcomeSignaled
	// OutcomeSpawnFailed means the process never started.
	OutcomeSpawnFailed
	// OutcomeCancelled means the caller's context ended the process.
	OutcomeCancelled
)

// Result describes a finished supervised process.
type Result struct {
	Outcome    Outcome
	ExitCode   int
	StderrTail string
	Err        error
}

// Failed reports whether the process ended any way other than exit 0.
func (r Result) Failed() bool {
	return r.Outcome != OutcomeOK
}

// Command describes one external process invocation.
type Command struct {
	Binary string
	Args   []string
	// Env entries are appended to the inherited environment.
	Env []string
	Dir string

	// Stdin, when set, is streamed to the child until exhausted.
	Stdin io.Reader

	// OnStdoutLine and OnStderrLine receive each output line as it is
	// produced. A bare carriage return counts as a line terminator,
	// since encoders and downloaders rewrite progress in place.
	OnStdoutLine func(line string)
	OnStderrLine func(line string)

	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration
}

// Run launches the command and blocks until it exits or ctx is done.
// On cancellation the child receives SIGTERM, then SIGKILL after the
// grace period. Output sinks are fully drained before Run returns.
func Run(ctx context.Context, logger *slog.Logger, c Command) Result {
	if logger == nil {
		logger = slog.Default()
	}

	grace := c.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}
	// On cancellation the child gets SIGTERM so it can flush its last
	// output; WaitDelay force-kills it and closes the pipes if it
	// lingers past the grace period.
	cmd.Cancel = func() error {
		logger.Debug("terminating process on cancellation",
			slog.String("binary", c.Binary),
			slog.Int("pid", cmd.Process.Pid),
		)
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Outcome: OutcomeSpawnFailed, ExitCode: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{Outcome: OutcomeSpawnFailed, ExitCode: -1, Err: err}
	}

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled, ExitCode: -1, Err: ctx.Err()}
		}
		return Result{Outcome: OutcomeSpawnFailed, ExitCode: -1, Err: err}
	}

	logger.Debug("spawned process",
		slog.String("binary", c.Binary),
		slog.Int("pid", cmd.Process.Pid),
	)

	tail := newTailBuffer(stderrTailLines)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, c.OnStdoutLine)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			tail.add(line)
			if c.OnStderrLine != nil {
				c.OnStderrLine(line)
			}
		})
	}()

	// Wait closes the pipes once the child exits, so the scanners must
	// drain them to EOF first or the last buffered lines are lost. On
	// cancellation WaitDelay unblocks them by killing a lingering child.
	wg.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return Result{Outcome: OutcomeCancelled, ExitCode: -1, StderrTail: tail.String(), Err: ctx.Err()}
	}
	if waitErr == nil {
		return Result{Outcome: OutcomeOK, StderrTail: tail.String()}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return Result{Outcome: OutcomeSignaled, ExitCode: -1, StderrTail: tail.String(), Err: waitErr}
		}
		return Result{
			Outcome:    OutcomeNonZero,
			ExitCode:   exitErr.ExitCode(),
			StderrTail: tail.String(),
			Err:        waitErr,
		}
	}
	return Result{Outcome: OutcomeNonZero, ExitCode: -1, StderrTail: tail.String(), Err: waitErr}
}

// scanLines streams r line by line into fn. Reading continues to EOF
// even without a sink so the child never blocks on a full pipe.
func scanLines(r io.Reader, fn func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	sc.Split(scanCRorLF)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if fn != nil {
			fn(line)
		}
	}
}

// scanCRorLF is bufio.ScanLines extended to treat a bare '\r' as a line
// terminator, which is how ffmpeg and yt-dlp redraw progress lines.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\n':
			line := data[:i]
			if i > 0 && data[i-1] == '\r' {
				line = data[:i-1]
			}
			return i + 1, line, nil
		case '\r':
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			if i+1 < len(data) || atEOF {
				return i + 1, data[:i], nil
			}
			// Might be the first half of CRLF; ask for more data.
			return 0, nil, nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the most recent n lines, dropping the oldest.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
