// Package aria2 runs transfers through the aria2c command line tool.
package aria2

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/port"
)

var (
	ErrEmptyPath   = errors.New("path cannot be empty")
	ErrInvalidPath = errors.New("path contains invalid characters")
	ErrEmptyURL    = errors.New("url cannot be empty")
)

// diagnosticLines bounds how much output is kept for a failed transfer.
const diagnosticLines = 20

type Transferer struct {
	binary      string
	connections int
}

func NewTransferer(binary string, connections int) *Transferer {
	if binary == "" {
		binary = "aria2c"
	}
	if connections < 1 {
		connections = 16
	}
	return &Transferer{binary: binary, connections: connections}
}

func (t *Transferer) Available() error {
	if _, err := exec.LookPath(t.binary); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrCapabilityUnavailable, t.binary, err)
	}
	return nil
}

func (t *Transferer) args(req port.TransferRequest) []string {
	conns := strconv.Itoa(t.connections)
	return []string{
		"-x", conns,
		"-s", conns,
		"-k", "2M",
		"-o", req.Filename,
		"-d", req.Dir,
		"--check-certificate=false",
		"--retry-wait=5",
		"--max-tries=5",
		"--timeout=60",
		"--connect-timeout=30",
		"--max-file-not-found=5",
		"--allow-overwrite=true",
		"--auto-file-renaming=false",
		"--continue=true",
		"--summary-interval=1",
		"--console-log-level=warn",
		"--download-result=hide",
		req.URL,
	}
}

func (t *Transferer) Start(ctx context.Context, req port.TransferRequest) (port.TransferHandle, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, ErrEmptyURL
	}
	if err := validatePath(req.Dir); err != nil {
		return nil, fmt.Errorf("dir: %w", err)
	}
	if err := validatePath(req.Filename); err != nil {
		return nil, fmt.Errorf("filename: %w", err)
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, t.binary, t.args(req)...)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", t.binary, err)
	}

	h := &handle{
		cmd:      cmd,
		cancel:   cancel,
		progress: make(chan int, 1),
		done:     make(chan struct{}),
		output:   newTail(diagnosticLines),
	}
	go h.run(stdout)
	return h, nil
}

type handle struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	progress chan int
	done     chan struct{}
	output   *tail

	mu      sync.Mutex
	outcome port.TransferOutcome
}

func (h *handle) Progress() <-chan int  { return h.progress }
func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Outcome() port.TransferOutcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

func (h *handle) Cancel() {
	h.cancel()
	<-h.done
}

func (h *handle) run(stdout io.Reader) {
	defer h.cancel()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := scanner.Text()
		if domain.IsErrorLine(line) {
			h.output.add(line)
			continue
		}
		if pct, ok := parsePercent(line); ok {
			h.publish(pct)
			if progressLine.MatchString(line) {
				continue
			}
		}
		h.output.add(line)
	}
	// keep draining so the process never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stdout)

	err := h.cmd.Wait()

	diag := h.output.String()
	if err != nil {
		diag = strings.TrimSpace(diag + "\n" + err.Error())
	}

	h.mu.Lock()
	h.outcome = port.TransferOutcome{Success: err == nil, Diagnostic: diag}
	h.mu.Unlock()

	close(h.progress)
	close(h.done)
}

// publish replaces any unread value so the reader always sees the latest
// percentage and the scanner never blocks.
func (h *handle) publish(pct int) {
	select {
	case <-h.progress:
	default:
	}
	select {
	case h.progress <- pct:
	default:
	}
}

// validatePath rejects paths that would confuse argument handling.
func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, '\x00') {
		return ErrInvalidPath
	}
	return nil
}

var _ port.Transferer = (*Transferer)(nil)
