package domain

import (
	"strings"
	"time"
)

// Policy holds the retry limits and delays applied by the worker pools.
// The pools only execute it; every decision lives in the methods below.
type Policy struct {
	ResolutionCap      int
	TransferCap        int
	ResolutionCooldown time.Duration
	TransferCooldown   time.Duration
	ResolutionRetry    time.Duration // pause after requeueing a failed resolution
	NotFoundDelay      time.Duration
	BackoffStep        time.Duration
	BackoffMax         time.Duration
	ProgressHeartbeat  time.Duration
	PollInterval       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		ResolutionCap:      3,
		TransferCap:        5,
		ResolutionCooldown: 30 * time.Second,
		TransferCooldown:   10 * time.Second,
		ResolutionRetry:    2 * time.Second,
		NotFoundDelay:      10 * time.Second,
		BackoffStep:        5 * time.Second,
		BackoffMax:         30 * time.Second,
		ProgressHeartbeat:  2 * time.Second,
		PollInterval:       500 * time.Millisecond,
	}
}

// ResolutionExhausted reports whether an item that has failed `attempts`
// resolutions must move to failed instead of back to pending.
func (p Policy) ResolutionExhausted(attempts int) bool {
	return attempts >= p.ResolutionCap
}

// TransferBackoff is the wait before the next attempt after a generic failure
// of attempt number `attempt` (1-based): min(max, step*attempt).
func (p Policy) TransferBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BackoffStep * time.Duration(attempt)
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// RetryDelay returns the wait before retrying a transfer that failed with the
// given class, and whether a retry is allowed at all.
func (p Policy) RetryDelay(class FailureClass, attempt int) (time.Duration, bool) {
	switch class {
	case FailureExpiredURL:
		return 0, false
	case FailureNotFound:
		return p.NotFoundDelay, true
	default:
		return p.TransferBackoff(attempt), true
	}
}

type FailureClass int

const (
	FailureGeneric FailureClass = iota
	FailureExpiredURL
	FailureNotFound
)

func (c FailureClass) Err() error {
	switch c {
	case FailureExpiredURL:
		return ErrExpiredURL
	case FailureNotFound:
		return ErrResourceNotFound
	default:
		return ErrTransferFailed
	}
}

var (
	expiredSignatures  = []string{"Unrecognized URI", "unsupported protocol"}
	notFoundSignatures = []string{"No such file or directory", "Not Found"}
)

// causeWindow bounds the text classified when no line reports an error.
const causeWindow = 150

// ClassifyTransferFailure maps the first cause in the diagnostic text of a
// failed transfer onto the transfer failure taxonomy. Expired signatures win
// over not-found.
func ClassifyTransferFailure(diagnostic string) FailureClass {
	cause := FirstCause(diagnostic)
	for _, sig := range expiredSignatures {
		if strings.Contains(cause, sig) {
			return FailureExpiredURL
		}
	}
	for _, sig := range notFoundSignatures {
		if strings.Contains(cause, sig) {
			return FailureNotFound
		}
	}
	return FailureGeneric
}

// IsErrorLine reports whether a line of tool output reports an error.
func IsErrorLine(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "error") || strings.Contains(l, "exception")
}

// FirstCause returns the first error record of a diagnostic: the first line
// reporting an error plus the exception lines chained under it. Without such
// a line it returns the leading causeWindow bytes.
func FirstCause(diagnostic string) string {
	lines := strings.Split(diagnostic, "\n")
	start := -1
	for i, line := range lines {
		if IsErrorLine(line) {
			start = i
			break
		}
	}
	if start < 0 {
		if len(diagnostic) > causeWindow {
			return diagnostic[:causeWindow]
		}
		return diagnostic
	}

	end := start + 1
	for end < len(lines) && chainedLine(lines[end]) {
		end++
	}
	return strings.Join(lines[start:end], "\n")
}

// chainedLine matches aria2's continuation of an error record.
func chainedLine(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "->") || strings.HasPrefix(line, "Exception:")
}

// FetchableURL reports whether a resolved URL can be handed to the transfer tool.
func FetchableURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
