package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusResolving    Status = "resolving"
	StatusReady        Status = "ready"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Stages lists every pipeline stage in processing order.
var Stages = []Status{
	StatusPending,
	StatusResolving,
	StatusReady,
	StatusTransferring,
	StatusCompleted,
	StatusFailed,
}

func (s Status) Valid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether items in this stage are finished for the run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusResolving: true,
		StatusFailed:    true, // capability unavailable
	},
	StatusResolving: {
		StatusPending: true,
		StatusReady:   true,
		StatusFailed:  true,
	},
	StatusReady: {
		StatusTransferring: true,
		StatusFailed:       true,
	},
	StatusTransferring: {
		StatusReady:     true, // stop mid-transfer
		StatusPending:   true, // restore after crash
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {},
	StatusFailed: {
		StatusPending: true, // explicit retry
	},
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

type Quality string

const (
	Quality360p      Quality = "360p"
	Quality480p      Quality = "480p"
	Quality720p      Quality = "720p"
	Quality1080p     Quality = "1080p"
	QualityAudio48k  Quality = "48k"
	QualityAudio128k Quality = "128k"
)

var qualities = map[Quality]bool{
	Quality360p:      true,
	Quality480p:      true,
	Quality720p:      true,
	Quality1080p:     true,
	QualityAudio48k:  true,
	QualityAudio128k: true,
}

func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	if !qualities[q] {
		return "", fmt.Errorf("%w: %q", ErrInvalidQuality, s)
	}
	return q, nil
}

func (q Quality) IsAudio() bool {
	return q == QualityAudio48k || q == QualityAudio128k
}

// Height returns the maximum video height for the tier, 0 for audio tiers.
func (q Quality) Height() int {
	switch q {
	case Quality360p:
		return 360
	case Quality480p:
		return 480
	case Quality720p:
		return 720
	case Quality1080p:
		return 1080
	default:
		return 0
	}
}

// Extension is the container extension used for the final file name.
func (q Quality) Extension() string {
	if q.IsAudio() {
		return ".m4a"
	}
	return ".mp4"
}

type Item struct {
	ID                 string    `json:"id"`
	Locator            string    `json:"locator"`
	Quality            Quality   `json:"quality"`
	Status             Status    `json:"status"`
	ResolvedURL        string    `json:"resolved_url,omitempty"`
	Title              string    `json:"title"`
	SizeEstimate       int64     `json:"size_estimate,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
	ResolutionAttempts int       `json:"resolution_attempts"`
	TransferAttempts   int       `json:"transfer_attempts"`
	LastAttemptAt      time.Time `json:"last_attempt_at,omitzero"`
	OutputPath         string    `json:"output_path,omitempty"`
	FileSize           int64     `json:"file_size,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	CompletedAt        time.Time `json:"completed_at,omitzero"`
}

func NewItem(locator string, quality Quality) (*Item, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, ErrInvalidLocator
	}
	if !qualities[quality] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQuality, quality)
	}

	return &Item{
		ID:        generateID(),
		Locator:   locator,
		Quality:   quality,
		Status:    StatusPending,
		Title:     truncateRunes(locator, 50),
		CreatedAt: time.Now(),
	}, nil
}

func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Resolution is what a resolver hands back for a locator.
type Resolution struct {
	URL       string
	Title     string
	SizeBytes int64
	Ext       string
}

func (i *Item) MarkResolved(r Resolution) {
	i.ResolvedURL = r.URL
	if strings.TrimSpace(r.Title) != "" {
		i.Title = r.Title
	}
	i.SizeEstimate = r.SizeBytes
	i.ResolutionAttempts = 0
	i.LastError = ""
}

func (i *Item) MarkCompleted(outputPath string, fileSize int64) {
	i.OutputPath = outputPath
	i.FileSize = fileSize
	i.CompletedAt = time.Now()
	i.LastError = ""
}

func (i *Item) MarkFailed(reason string) {
	i.LastError = reason
}

// ResetForRetry clears per-run counters so the item starts over from pending.
func (i *Item) ResetForRetry() {
	i.ResolutionAttempts = 0
	i.TransferAttempts = 0
	i.LastError = ""
	i.LastAttemptAt = time.Time{}
}

// CoolingDown reports how long the item must still wait before it can be
// re-claimed for a stage whose previous attempt failed. A zero duration means
// the item can be claimed now.
func (i *Item) CoolingDown(attempts int, cooldown time.Duration, now time.Time) time.Duration {
	if attempts == 0 || cooldown <= 0 || i.LastAttemptAt.IsZero() {
		return 0
	}
	wait := i.LastAttemptAt.Add(cooldown).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
