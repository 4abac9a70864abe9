// Package worker manages detector worker subprocesses and the scan channel
// wire protocol over their standard streams.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"barscan/internal/errors"
	"barscan/internal/logging"
	"barscan/internal/models"
	"barscan/pkg/utils"
)

// readyLine is the literal handshake line a worker emits on startup and
// after completing each request.
const readyLine = "READY"

// Config holds detector worker configuration.
type Config struct {
	Command         string
	Args            []string
	Env             []string
	ReadyTimeout    time.Duration
	ReadyPoll       time.Duration
	ResponseTimeout time.Duration
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig(command string, args ...string) Config {
	return Config{
		Command:         command,
		Args:            args,
		ReadyTimeout:    10 * time.Second,
		ReadyPoll:       100 * time.Millisecond,
		ResponseTimeout: 120 * time.Second,
	}
}

// Worker is a handle to one long-lived detector subprocess. It is owned
// exclusively by the controller that spawned it; one request may be
// outstanding at a time, enforced by the Ready/Busy state rather than a
// lock abstraction.
type Worker struct {
	ticker string
	cfg    Config
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	log    zerolog.Logger

	ready      atomic.Bool
	terminated atomic.Bool
	done       chan struct{}

	// Number of requests that timed out and may still produce a late
	// response. Late responses without a requestId are dropped against it.
	lateResponses atomic.Int32

	respCh  chan models.ScanResponse
	writeMu sync.Mutex
}

// Spawn starts one detector worker subprocess for a ticker in persistent
// protocol mode. Startup failures are retried with backoff; a process that
// starts but never emits READY is caught later by WaitReady.
func Spawn(ctx context.Context, ticker string, cfg Config, logger zerolog.Logger) (*Worker, error) {
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.ReadyPoll == 0 {
		cfg.ReadyPoll = 100 * time.Millisecond
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = 120 * time.Second
	}

	w, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (*Worker, error) {
		return start(ticker, cfg, logger)
	})
	if err != nil {
		return nil, errors.NewWorkerError(ticker, "starting", "spawn failed", err)
	}
	return w, nil
}

func start(ticker string, cfg Config, logger zerolog.Logger) (*Worker, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Env = append(cmd.Env, "PERSISTENT_MODE=true")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrWorkerStartup, err)
	}

	w := &Worker{
		ticker: ticker,
		cfg:    cfg,
		cmd:    cmd,
		stdin:  stdin,
		log:    logging.WithWorker(logging.WithTicker(logger, ticker), cmd.Process.Pid),
		done:   make(chan struct{}),
		// Buffered so a stale response and its replacement can both sit in
		// the channel while the consumer discards the stale one.
		respCh: make(chan models.ScanResponse, 4),
	}

	go w.readLoop(stdout)
	go w.drainStderr(stderr)
	go w.waitLoop()

	w.log.Debug().Str("command", cfg.Command).Msg("Detector worker started")
	return w, nil
}

// readLoop consumes worker stdout. READY lines flip the ready flag; all
// other lines are accumulated and re-parsed until the buffer forms a valid
// ScanResponse, which supports detectors that emit multi-line JSON.
func (w *Worker) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var buf strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == readyLine {
			if buf.Len() > 0 {
				w.log.Debug().Int("bytes", buf.Len()).Msg("Discarding unparsed worker output at READY")
				buf.Reset()
			}
			w.ready.Store(true)
			continue
		}
		if line == "" {
			continue
		}

		buf.WriteString(line)
		var resp models.ScanResponse
		if err := json.Unmarshal([]byte(buf.String()), &resp); err != nil {
			// Still accumulating a partial response.
			continue
		}
		buf.Reset()

		select {
		case w.respCh <- resp:
		default:
			w.log.Warn().Str("request_id", resp.RequestID).Msg("Dropping unawaited worker response")
		}
	}
}

func (w *Worker) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		w.log.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
}

func (w *Worker) waitLoop() {
	err := w.cmd.Wait()
	w.ready.Store(false)
	w.terminated.Store(true)
	close(w.done)
	if err != nil {
		w.log.Warn().Err(err).Msg("Detector worker exited")
	} else {
		w.log.Debug().Msg("Detector worker exited")
	}
}

// Pid returns the worker's process id.
func (w *Worker) Pid() int {
	return w.cmd.Process.Pid
}

// Terminated reports whether the worker process has exited.
func (w *Worker) Terminated() bool {
	return w.terminated.Load()
}

// WaitReady blocks until the worker has emitted READY, polling at the
// configured interval up to the ready timeout.
func (w *Worker) WaitReady(ctx context.Context) error {
	deadline := time.Now().Add(w.cfg.ReadyTimeout)
	for {
		if w.terminated.Load() {
			return errors.NewWorkerError(w.ticker, "starting", "process exited before READY", errors.ErrWorkerTerminated)
		}
		if w.ready.Load() {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.NewWorkerError(w.ticker, "starting", "READY handshake timed out", errors.ErrWorkerNotReady)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.ReadyPoll):
		}
	}
}

// Scan sends one ScanRequest and waits for the matching ScanResponse. Only
// one request may be outstanding; a response that never arrives within the
// response timeout is returned as a failure and the worker is left usable
// for a subsequent attempt (a recoverable degradation, not a restart).
func (w *Worker) Scan(ctx context.Context, req models.ScanRequest) (*models.ScanResponse, error) {
	if w.terminated.Load() {
		return nil, errors.NewWorkerError(w.ticker, "terminated", "scan after exit", errors.ErrWorkerTerminated)
	}
	if err := w.WaitReady(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewProtocolError(req.RequestID, "marshal request", err)
	}

	// Ready -> Busy. The READY line following the response flips it back.
	w.ready.Store(false)

	w.writeMu.Lock()
	_, err = w.stdin.Write(append(payload, '\n'))
	w.writeMu.Unlock()
	if err != nil {
		return nil, errors.NewWorkerError(w.ticker, "busy", "write request", err)
	}

	timer := time.NewTimer(w.cfg.ResponseTimeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-w.respCh:
			if w.isStale(resp, req.RequestID) {
				w.log.Debug().Str("request_id", resp.RequestID).Msg("Dropping stale worker response")
				continue
			}
			return &resp, nil
		case <-timer.C:
			w.lateResponses.Add(1)
			return nil, errors.NewProtocolError(req.RequestID, "response timeout", errors.ErrWorkerTimeout)
		case <-w.done:
			return nil, errors.NewWorkerError(w.ticker, "busy", "process exited mid-request", errors.ErrWorkerTerminated)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// isStale reports whether a buffered response belongs to an earlier request.
// A mismatched requestId is always stale; a response carrying no requestId is
// stale only while a timed-out request's answer may still be in flight.
func (w *Worker) isStale(resp models.ScanResponse, wantID string) bool {
	if resp.RequestID != "" {
		if resp.RequestID == wantID {
			return false
		}
		w.settleLateResponse()
		return true
	}
	return w.settleLateResponse()
}

// settleLateResponse consumes one outstanding timed-out request, reporting
// whether there was one.
func (w *Worker) settleLateResponse() bool {
	for {
		n := w.lateResponses.Load()
		if n == 0 {
			return false
		}
		if w.lateResponses.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Close kills the worker process and waits for it to exit. Safe to call
// more than once and from deferred cleanup paths.
func (w *Worker) Close() error {
	if w.terminated.Load() {
		return nil
	}
	w.stdin.Close()
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		return errors.NewWorkerError(w.ticker, "terminated", "process did not exit after kill", nil)
	}
	return nil
}
