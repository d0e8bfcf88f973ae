package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/infrastructure/logger"
)

// resolveBudget caps the number of resolutions one pass may start.
type resolveBudget struct {
	left atomic.Int64
}

func newResolveBudget(n int) *resolveBudget {
	b := &resolveBudget{}
	b.left.Store(int64(n))
	return b
}

func (b *resolveBudget) take() bool {
	return b.left.Add(-1) >= 0
}

func (b *resolveBudget) refund() {
	b.left.Add(1)
}

func (p *Pipeline) resolverPoolSize() int {
	return min(p.opts.MaxResolvers, p.opts.MaxTransfers)
}

// runResolutionPhase starts the resolution pool and waits for it, at most
// JoinTimeout. Workers still running after the timeout keep going and are
// tracked by wg.
func (p *Pipeline) runResolutionPhase(ctx context.Context, wg *sync.WaitGroup) {
	if p.board.Len(domain.StatusPending) == 0 {
		return
	}

	size := p.resolverPoolSize()
	budget := newResolveBudget(2 * p.opts.MaxTransfers)

	var phase sync.WaitGroup
	for i := range size {
		wg.Add(1)
		phase.Add(1)
		go func() {
			defer wg.Done()
			defer phase.Done()
			p.runResolver(ctx, i, budget)
		}()
	}
	p.logf(logger.LevelDebug, "started %d resolution workers", size)

	joined := make(chan struct{})
	go func() {
		phase.Wait()
		close(joined)
	}()

	var timeout <-chan time.Time
	if p.opts.JoinTimeout > 0 {
		t := time.NewTimer(p.opts.JoinTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-joined:
	case <-timeout:
		p.logf(logger.LevelWarn, "resolution phase still running after %s, starting transfers", p.opts.JoinTimeout)
	case <-ctx.Done():
		<-joined
	}
}

func (p *Pipeline) runResolver(ctx context.Context, id int, budget *resolveBudget) {
	policy := p.opts.Policy
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.gate.Wait(ctx); err != nil {
			return
		}
		if !budget.take() {
			p.logf(logger.LevelDebug, "resolver %d: pass budget reached", id)
			return
		}

		item, wait, ok := p.board.ClaimOldest(domain.StatusPending, domain.StatusResolving, p.resolutionCooldown)
		if !ok {
			budget.refund()
			if wait == 0 {
				return
			}
			if !sleepCtx(ctx, min(wait, policy.PollInterval)) {
				return
			}
			continue
		}

		if !p.resolveItem(ctx, item) {
			// requeued after a failure
			if !sleepCtx(ctx, policy.ResolutionRetry) {
				return
			}
		}
	}
}

func (p *Pipeline) resolutionCooldown(it domain.Item, now time.Time) time.Duration {
	return it.CoolingDown(it.ResolutionAttempts, p.opts.Policy.ResolutionCooldown, now)
}

// resolveItem runs the resolver for an item already claimed into resolving
// and moves it on. It reports whether the item left resolving for good
// (ready, failed, or handed back on stop).
func (p *Pipeline) resolveItem(ctx context.Context, item domain.Item) bool {
	p.publishStatus(item, "")
	p.logf(logger.LevelDebug, "resolving %s", logger.SanitizeForLog(item.Locator))

	res, err := p.resolver.Resolve(ctx, item.Locator, item.Quality)
	if ctx.Err() != nil {
		// stopped: hand the item back without counting the attempt
		if _, err := p.board.MoveFront(item.ID, domain.StatusResolving, domain.StatusPending, nil); err != nil {
			p.logf(logger.LevelError, "return %s to pending: %v", item.ID, err)
		}
		return true
	}
	if err == nil && strings.TrimSpace(res.URL) == "" {
		err = fmt.Errorf("%w: empty result", domain.ErrResolutionFailed)
	}

	if err == nil {
		moved, merr := p.board.Move(item.ID, domain.StatusResolving, domain.StatusReady, func(i *domain.Item) {
			i.MarkResolved(res)
		})
		if merr != nil {
			p.logf(logger.LevelError, "move %s to ready: %v", item.ID, merr)
			return true
		}
		p.logf(logger.LevelInfo, "resolved %q", logger.SanitizeForLog(moved.Title))
		p.publishStatus(moved, "")
		return true
	}

	attempts := item.ResolutionAttempts + 1
	if p.opts.Policy.ResolutionExhausted(attempts) {
		reason := fmt.Sprintf("resolution exhausted after %d attempts: %v", attempts, err)
		moved, merr := p.board.Move(item.ID, domain.StatusResolving, domain.StatusFailed, func(i *domain.Item) {
			i.ResolutionAttempts = attempts
			i.MarkFailed(reason)
		})
		if merr != nil {
			p.logf(logger.LevelError, "move %s to failed: %v", item.ID, merr)
			return true
		}
		p.logf(logger.LevelError, "%s: %s", logger.SanitizeForLog(item.Locator), reason)
		p.publishStatus(moved, reason)
		return true
	}

	moved, merr := p.board.MoveFront(item.ID, domain.StatusResolving, domain.StatusPending, func(i *domain.Item) {
		i.ResolutionAttempts = attempts
	})
	if merr != nil {
		p.logf(logger.LevelError, "requeue %s: %v", item.ID, merr)
		return true
	}
	p.logf(logger.LevelWarn, "resolution attempt %d/%d for %s failed: %v",
		attempts, p.opts.Policy.ResolutionCap, logger.SanitizeForLog(item.Locator), err)
	p.publishStatus(moved, err.Error())
	return false
}

// topUp resolves one more pending item when the transfer pool is running
// short of work. It is called from the transfer phase supervisor.
func (p *Pipeline) topUp(ctx context.Context) {
	item, _, ok := p.board.ClaimOldest(domain.StatusPending, domain.StatusResolving, p.resolutionCooldown)
	if !ok {
		return
	}
	p.resolveItem(ctx, item)
}
