package ffmpeg

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// killGracePeriod is how long a worker gets to exit after SIGTERM before it
// is force-killed.
const killGracePeriod = 5 * time.Second

// Worker is a handle to one running (or exited) encoder process. A Worker is
// created by Driver.Start and reaped exactly once by an internal goroutine;
// all accessors are safe for concurrent use.
type Worker struct {
	StartSegment   uint64
	StartOffsetSec float64

	cmd     *exec.Cmd
	logFile *os.File
	args    []string

	done chan struct{}

	mu       sync.Mutex
	stopped  bool
	waitErr  error
	exitCode int
}

func newWorker(cmd *exec.Cmd, logFile *os.File, p TranscodeParams) *Worker {
	return &Worker{
		StartSegment:   p.StartSegment,
		StartOffsetSec: p.StartOffsetSec,
		cmd:            cmd,
		logFile:        logFile,
		args:           cmd.Args,
		done:           make(chan struct{}),
	}
}

func (w *Worker) start() error {
	if err := w.cmd.Start(); err != nil {
		return err
	}
	go func() {
		err := w.cmd.Wait()
		w.mu.Lock()
		w.waitErr = err
		w.exitCode = w.cmd.ProcessState.ExitCode()
		w.mu.Unlock()
		w.logFile.Close()
		close(w.done)
	}()
	return nil
}

// Exited reports whether the process has been reaped.
func (w *Worker) Exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// ExitCode is only meaningful once Exited returns true. A negative value
// means the process was killed by a signal.
func (w *Worker) ExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitCode
}

// Stopped reports whether Stop was called, which distinguishes a deliberate
// teardown from a worker failure.
func (w *Worker) Stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Pid is exposed for diagnostics.
func (w *Worker) Pid() int {
	if w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// RedactedCommand returns the worker's command line with the header blob
// masked, for logs and status endpoints.
func (w *Worker) RedactedCommand() string {
	return RedactArgs(w.args)
}

// Stop terminates the worker: SIGTERM first, SIGKILL after the grace period.
// It blocks until the process has been reaped and is idempotent; stopping an
// already-exited worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.waitDone()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if w.cmd.Process != nil {
		_ = w.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-w.done:
	case <-time.After(killGracePeriod):
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
		w.waitDone()
	}
}

func (w *Worker) waitDone() {
	<-w.done
}
