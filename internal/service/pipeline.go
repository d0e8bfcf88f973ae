package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/infrastructure/logger"
	"github.com/bnema/vidpipe/internal/port"
)

var (
	// ErrNoPlaylists is returned by AddPlaylist when no expander was configured.
	ErrNoPlaylists = errors.New("playlist expansion is not configured")
	// ErrAlreadyLoaded is returned by Load once the board holds items.
	ErrAlreadyLoaded = errors.New("pipeline already holds items")
)

// LogFunc is the external log observer. It is called synchronously from
// worker goroutines and must not block.
type LogFunc func(message string, level logger.Level)

type Options struct {
	MaxResolvers int
	MaxTransfers int
	DownloadDir  string
	Quality      domain.Quality
	Policy       domain.Policy
	// JoinTimeout bounds the wait for the resolution phase before transfers
	// start anyway. Zero means no bound.
	JoinTimeout time.Duration

	OnLog      LogFunc
	OnProgress ProgressFunc
	Events     EventPublisher
	Store      port.StateStore
	Playlists  port.PlaylistExpander
}

func (o *Options) applyDefaults() {
	if o.MaxResolvers < 1 {
		o.MaxResolvers = 1
	}
	if o.MaxTransfers < 1 {
		o.MaxTransfers = 1
	}
	if o.Quality == "" {
		o.Quality = domain.Quality480p
	}
	if o.Policy == (domain.Policy{}) {
		o.Policy = domain.DefaultPolicy()
	}
	if o.OnLog == nil {
		o.OnLog = logger.Log
	}
}

// Pipeline drives items through resolution and transfer. One pass runs at a
// time; Pause, Resume and Stop act on the current pass.
type Pipeline struct {
	board     *Board
	resolver  port.Resolver
	transfers port.Transferer
	opts      Options
	gate      *PauseGate
	tracker   *ProgressTracker
	stager    *Stager
	persist   *persister

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPipeline(resolver port.Resolver, transfers port.Transferer, opts Options) *Pipeline {
	opts.applyDefaults()

	p := &Pipeline{
		board:     NewBoard(),
		resolver:  resolver,
		transfers: transfers,
		opts:      opts,
		gate:      NewPauseGate(),
		tracker:   NewProgressTracker(opts.OnProgress, opts.Events),
		stager:    NewStager(opts.DownloadDir),
	}

	if opts.Store != nil {
		p.persist = &persister{store: opts.Store, onErr: func(err error) {
			p.logf(logger.LevelError, "persist state: %v", err)
		}}
		p.board.OnChange(p.persist.save)
	}
	return p
}

// Load restores the board from the state store. Items frozen mid-resolution
// or mid-transfer by a crash go back to pending with their transfer counter
// cleared. It must run before any item is added.
func (p *Pipeline) Load() error {
	if p.Running() {
		return domain.ErrRunning
	}
	if p.board.Total() > 0 {
		return ErrAlreadyLoaded
	}
	if p.opts.Store == nil {
		return nil
	}

	state, err := p.opts.Store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	restored := port.State{Stages: make(map[domain.Status][]domain.Item, len(domain.Stages))}
	for _, st := range domain.Stages {
		restored.Stages[st] = append([]domain.Item(nil), state.Stages[st]...)
	}
	readmitted := 0
	for _, st := range []domain.Status{domain.StatusResolving, domain.StatusTransferring} {
		for _, it := range state.Stages[st] {
			it.Status = domain.StatusPending
			it.TransferAttempts = 0
			it.LastError = ""
			restored.Stages[domain.StatusPending] = append(restored.Stages[domain.StatusPending], it)
			readmitted++
		}
		restored.Stages[st] = nil
	}

	p.board.Restore(restored)
	p.logf(logger.LevelInfo, "restored %d items (%d re-admitted to pending)", restored.Len(), readmitted)
	return nil
}

// Add appends a new item to pending and returns its id.
func (p *Pipeline) Add(locator string, quality domain.Quality) (string, error) {
	if quality == "" {
		quality = p.opts.Quality
	}
	item, err := domain.NewItem(locator, quality)
	if err != nil {
		return "", err
	}
	if err := p.board.Enqueue(domain.StatusPending, *item); err != nil {
		return "", err
	}

	p.logf(logger.LevelInfo, "added %s (%s)", logger.SanitizeForLog(item.Locator), item.Quality)
	p.publishStatus(*item, "")
	return item.ID, nil
}

// AddPlaylist expands a playlist locator and enqueues every entry.
func (p *Pipeline) AddPlaylist(ctx context.Context, locator string, quality domain.Quality) ([]string, error) {
	if p.opts.Playlists == nil {
		return nil, ErrNoPlaylists
	}
	if quality == "" {
		quality = p.opts.Quality
	}

	entries, err := p.opts.Playlists.Expand(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("expand playlist: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		item, err := domain.NewItem(e.Locator, quality)
		if err != nil {
			p.logf(logger.LevelWarn, "skip playlist entry %q: %v", logger.SanitizeForLog(e.Locator), err)
			continue
		}
		if e.Title != "" {
			item.Title = e.Title
		}
		if err := p.board.Enqueue(domain.StatusPending, *item); err != nil {
			return ids, err
		}
		ids = append(ids, item.ID)
	}

	p.logf(logger.LevelInfo, "added %d items from playlist %s", len(ids), logger.SanitizeForLog(locator))
	return ids, nil
}

// Run executes one pass and blocks until it ends or is stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	return p.pass(runCtx)
}

// Start executes one pass in the background.
func (p *Pipeline) Start(ctx context.Context) error {
	runCtx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		if err := p.pass(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.logf(logger.LevelError, "pipeline pass: %v", err)
		}
	}()
	return nil
}

func (p *Pipeline) begin(ctx context.Context) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil, domain.ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	return runCtx, nil
}

func (p *Pipeline) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel()
	p.running = false
	close(p.done)
}

func (p *Pipeline) pass(ctx context.Context) error {
	defer p.finish()

	if err := p.transfers.Available(); err != nil {
		if !errors.Is(err, domain.ErrCapabilityUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrCapabilityUnavailable, err)
		}
		p.failUnrunnable(err)
		return err
	}
	if err := p.stager.Prepare(); err != nil {
		return err
	}

	p.logf(logger.LevelInfo, "pass started: %d pending, %d ready", p.board.Len(domain.StatusPending), p.board.Len(domain.StatusReady))

	var wg sync.WaitGroup
	defer wg.Wait()

	p.runResolutionPhase(ctx, &wg)
	if ctx.Err() != nil {
		p.logf(logger.LevelInfo, "pass stopped during resolution")
		return ctx.Err()
	}

	p.runTransferPhase(ctx, &wg)
	if ctx.Err() != nil {
		p.logf(logger.LevelInfo, "pass stopped")
		return ctx.Err()
	}

	counts := p.board.Counts()
	p.logf(logger.LevelInfo, "pass finished: %d completed, %d failed", counts[domain.StatusCompleted], counts[domain.StatusFailed])
	return nil
}

// failUnrunnable fails every item that can no longer make progress because
// the transfer tool is missing.
func (p *Pipeline) failUnrunnable(cause error) {
	reason := cause.Error()
	p.logf(logger.LevelError, "transfer tool unavailable: %s", reason)
	for _, st := range []domain.Status{domain.StatusPending, domain.StatusReady} {
		for _, it := range p.board.Snapshot(st) {
			moved, err := p.board.Move(it.ID, st, domain.StatusFailed, func(i *domain.Item) {
				i.MarkFailed(reason)
			})
			if err == nil {
				p.publishStatus(moved, reason)
			}
		}
	}
}

func (p *Pipeline) Pause() {
	if p.gate.Pause() {
		p.logf(logger.LevelInfo, "pipeline paused")
	}
}

func (p *Pipeline) Resume() {
	if p.gate.Resume() {
		p.logf(logger.LevelInfo, "pipeline resumed")
	}
}

// Stop cancels the current pass. Calling it when nothing runs, or more than
// once, is a no-op.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	running, cancel := p.running, p.cancel
	p.mu.Unlock()

	if !running {
		return
	}
	cancel()
	p.gate.Resume()
	p.logf(logger.LevelInfo, "pipeline stopping")
}

// Wait blocks until the current pass, if any, has returned.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Reset drops every item. It refuses while a pass runs.
func (p *Pipeline) Reset() error {
	if p.Running() {
		return domain.ErrRunning
	}
	dropped := p.board.Drain(domain.Stages...)
	p.tracker.Reset()
	p.logf(logger.LevelInfo, "reset: dropped %d items", len(dropped))
	return nil
}

// ClearFinished drops completed and failed items and returns how many.
func (p *Pipeline) ClearFinished() int {
	dropped := p.board.Drain(domain.StatusCompleted, domain.StatusFailed)
	for _, it := range dropped {
		p.tracker.Forget(it.ID)
	}
	return len(dropped)
}

// RetryFailed moves every failed item back to pending with its counters
// cleared. This is also how an item whose resolved URL expired gets resolved
// again.
func (p *Pipeline) RetryFailed() int {
	n := 0
	for _, it := range p.board.Snapshot(domain.StatusFailed) {
		moved, err := p.board.Move(it.ID, domain.StatusFailed, domain.StatusPending, func(i *domain.Item) {
			i.ResetForRetry()
		})
		if err != nil {
			continue
		}
		n++
		p.publishStatus(moved, "")
	}
	if n > 0 {
		p.logf(logger.LevelInfo, "requeued %d failed items", n)
	}
	return n
}

func (p *Pipeline) Items() port.State {
	return p.board.State()
}

func (p *Pipeline) Item(id string) (domain.Item, bool) {
	return p.board.Get(id)
}

func (p *Pipeline) Counts() map[domain.Status]int {
	return p.board.Counts()
}

func (p *Pipeline) Progress(id string) (Progress, bool) {
	return p.tracker.Get(id)
}

func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) Paused() bool {
	return p.gate.Paused()
}

func (p *Pipeline) logf(level logger.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.opts.OnLog(msg, level)
	if p.opts.Events != nil {
		p.opts.Events.Publish(Event{Type: EventLog, Message: msg, Level: string(level)})
	}
}

func (p *Pipeline) publishStatus(item domain.Item, message string) {
	if p.opts.Events == nil {
		return
	}
	p.opts.Events.Publish(Event{
		Type:    EventStatus,
		ItemID:  item.ID,
		Status:  string(item.Status),
		Title:   item.Title,
		Message: message,
	})
}

// sleepCtx waits for d or until ctx is done. It reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// persister saves board snapshots in version order, skipping any snapshot
// older than the last one written.
type persister struct {
	mu      sync.Mutex
	store   port.StateStore
	written uint64
	onErr   func(error)
}

func (ps *persister) save(state port.State, version uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if version <= ps.written {
		return
	}
	if err := ps.store.Save(state); err != nil {
		if ps.onErr != nil {
			ps.onErr(err)
		}
		return
	}
	ps.written = version
}
