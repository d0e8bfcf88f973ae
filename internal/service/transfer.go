package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/infrastructure/logger"
	"github.com/bnema/vidpipe/internal/infrastructure/mediafile"
	"github.com/bnema/vidpipe/internal/port"
)

// errStopped marks an attempt abandoned because the pass was stopped.
var errStopped = errors.New("transfer stopped")

// runTransferPhase runs the transfer pool until there is nothing left to
// fetch, with a supervisor topping up ready from pending.
func (p *Pipeline) runTransferPhase(ctx context.Context, wg *sync.WaitGroup) {
	workers := p.opts.MaxTransfers

	var pool sync.WaitGroup
	for i := range workers {
		pool.Add(1)
		go func() {
			defer pool.Done()
			p.runTransferer(ctx, i)
		}()
	}
	p.logf(logger.LevelDebug, "started %d transfer workers", workers)

	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.superviseTopUp(ctx, done)
	}()

	pool.Wait()
	close(done)
}

// superviseTopUp keeps ready fed while transfers run. At most the resolver
// pool size of top-ups run at once.
func (p *Pipeline) superviseTopUp(ctx context.Context, done <-chan struct{}) {
	sem := make(chan struct{}, p.resolverPoolSize())
	var inflight sync.WaitGroup
	defer inflight.Wait()

	ticker := time.NewTicker(p.opts.Policy.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}

		if p.gate.Paused() || !p.needsTopUp() {
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer func() { <-sem }()
			p.topUp(ctx)
		}()
	}
}

func (p *Pipeline) needsTopUp() bool {
	c := p.board.Counts()
	if c[domain.StatusPending] == 0 {
		return false
	}
	return c[domain.StatusReady]+c[domain.StatusTransferring]+c[domain.StatusResolving] < p.opts.MaxTransfers
}

// drained reports whether no item can reach ready any more in this pass.
func (p *Pipeline) drained() bool {
	c := p.board.Counts()
	return c[domain.StatusPending] == 0 && c[domain.StatusResolving] == 0 && c[domain.StatusReady] == 0
}

func (p *Pipeline) runTransferer(ctx context.Context, id int) {
	poll := p.opts.Policy.PollInterval
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.gate.Wait(ctx); err != nil {
			return
		}

		item, wait, ok := p.board.ClaimOldest(domain.StatusReady, domain.StatusTransferring, p.transferCooldown)
		if !ok {
			if wait == 0 && p.drained() {
				p.logf(logger.LevelDebug, "transfer worker %d: nothing left", id)
				return
			}
			if wait == 0 || wait > poll {
				wait = poll
			}
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}

		p.transferItem(ctx, item)
	}
}

func (p *Pipeline) transferCooldown(it domain.Item, now time.Time) time.Duration {
	return it.CoolingDown(it.TransferAttempts, p.opts.Policy.TransferCooldown, now)
}

// transferItem owns an item in transferring until it completes, fails or the
// pass is stopped.
func (p *Pipeline) transferItem(ctx context.Context, item domain.Item) {
	policy := p.opts.Policy
	p.publishStatus(item, "")

	if !domain.FetchableURL(item.ResolvedURL) {
		p.failTransfer(item, domain.ErrExpiredURL.Error())
		return
	}

	staged := StagedName(item.ID)
	filename := mediafile.FinalName(item.Title, string(item.Quality), item.Quality.Extension())
	reason := ""

	for {
		attempt := item.TransferAttempts + 1
		if attempt > policy.TransferCap {
			p.failTransfer(item, exhaustedReason(reason, policy.TransferCap))
			return
		}

		updated, err := p.board.Update(item.ID, domain.StatusTransferring, func(i *domain.Item) {
			i.TransferAttempts = attempt
			i.LastAttemptAt = time.Now()
		})
		if err != nil {
			p.logf(logger.LevelError, "update %s: %v", item.ID, err)
			return
		}
		item = updated

		p.logf(logger.LevelInfo, "transfer attempt %d/%d: %q", attempt, policy.TransferCap, logger.SanitizeForLog(item.Title))
		path, size, class, err := p.attemptTransfer(ctx, item, staged, filename)

		if errors.Is(err, errStopped) {
			p.stager.Discard(staged)
			p.returnToReady(item, attempt-1)
			return
		}
		if err == nil {
			p.completeTransfer(item, path, size)
			return
		}

		if class == domain.FailureNotFound {
			reason = domain.ErrResourceNotFound.Error()
		}
		delay, retry := policy.RetryDelay(class, attempt)
		if !retry {
			p.failTransfer(item, class.Err().Error())
			return
		}
		if attempt >= policy.TransferCap {
			p.failTransfer(item, exhaustedReason(reason, policy.TransferCap))
			return
		}

		p.logf(logger.LevelWarn, "transfer attempt %d for %q failed: %v; retrying in %s",
			attempt, logger.SanitizeForLog(item.Title), err, delay)
		if !sleepCtx(ctx, delay) {
			p.returnToReady(item, attempt)
			return
		}
	}
}

func exhaustedReason(recorded string, limit int) string {
	if recorded != "" {
		return recorded
	}
	return fmt.Sprintf("exhausted %d transfer attempts", limit)
}

// attemptTransfer runs a single transfer. While the pipeline is paused it
// neither consumes progress nor finalizes the result; the process itself is
// left running.
func (p *Pipeline) attemptTransfer(ctx context.Context, item domain.Item, staged, filename string) (string, int64, domain.FailureClass, error) {
	handle, err := p.transfers.Start(ctx, port.TransferRequest{
		URL:      item.ResolvedURL,
		Dir:      p.stager.Dir(),
		Filename: staged,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, domain.FailureGeneric, errStopped
		}
		return "", 0, domain.FailureGeneric, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}

	gate := newProgressGate(p.opts.Policy.ProgressHeartbeat)
	progress := handle.Progress()

	for finished := false; !finished; {
		select {
		case <-p.gate.Opened():
		case <-ctx.Done():
			handle.Cancel()
			return "", 0, domain.FailureGeneric, errStopped
		}

		halted := p.gate.Halted()
		select {
		case <-ctx.Done():
			handle.Cancel()
			return "", 0, domain.FailureGeneric, errStopped
		case <-halted:
		case pct, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			if gate.allow(pct, time.Now()) {
				p.tracker.Report(item.ID, pct, string(domain.StatusTransferring))
			}
		case <-handle.Done():
			finished = !p.gate.Paused()
		}
	}

	outcome := handle.Outcome()
	if !outcome.Success {
		class := domain.ClassifyTransferFailure(outcome.Diagnostic)
		return "", 0, class, fmt.Errorf("%w: %s", class.Err(), logger.Truncate(outcome.Diagnostic, 200))
	}

	path, size, err := p.stager.Commit(staged, filename, item.ID, p.outputOwnedByOther(item.ID))
	if err != nil {
		return "", 0, domain.FailureGeneric, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	return path, size, domain.FailureGeneric, nil
}

// outputOwnedByOther reports whether a completed item other than id already
// holds a path as its output.
func (p *Pipeline) outputOwnedByOther(id string) func(string) bool {
	return func(path string) bool {
		for _, it := range p.board.Snapshot(domain.StatusCompleted) {
			if it.ID != id && it.OutputPath == path {
				return true
			}
		}
		return false
	}
}

func (p *Pipeline) completeTransfer(item domain.Item, path string, size int64) {
	moved, err := p.board.Move(item.ID, domain.StatusTransferring, domain.StatusCompleted, func(i *domain.Item) {
		i.MarkCompleted(path, size)
	})
	if err != nil {
		p.logf(logger.LevelError, "move %s to completed: %v", item.ID, err)
		return
	}
	p.tracker.Report(item.ID, 100, string(domain.StatusCompleted))
	p.logf(logger.LevelInfo, "completed %q (%s)", logger.SanitizeForLog(moved.Title), domain.FormatSize(size))
	p.publishStatus(moved, "")
}

func (p *Pipeline) failTransfer(item domain.Item, reason string) {
	moved, err := p.board.Move(item.ID, domain.StatusTransferring, domain.StatusFailed, func(i *domain.Item) {
		i.MarkFailed(reason)
	})
	if err != nil {
		p.logf(logger.LevelError, "move %s to failed: %v", item.ID, err)
		return
	}
	p.logf(logger.LevelError, "transfer of %q failed: %s", logger.SanitizeForLog(item.Title), reason)
	p.publishStatus(moved, reason)
}

// returnToReady hands an item back after a stop, neither completed nor failed.
func (p *Pipeline) returnToReady(item domain.Item, attempts int) {
	moved, err := p.board.Move(item.ID, domain.StatusTransferring, domain.StatusReady, func(i *domain.Item) {
		i.TransferAttempts = attempts
	})
	if err != nil {
		p.logf(logger.LevelError, "return %s to ready: %v", item.ID, err)
		return
	}
	p.publishStatus(moved, "")
}
