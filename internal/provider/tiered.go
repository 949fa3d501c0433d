package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"supportbot/internal/domain"
	"supportbot/internal/metrics"
)

// Tier is one completer in an escalation chain, raced against its deadline.
// A zero deadline means wait for the completer (bounded only by ctx).
type Tier struct {
	Completer domain.Completer
	Deadline  time.Duration
}

// Tiered escalates through an ordered list of completers. Each tier's call
// is raced against that tier's deadline: the tier's own result, success or
// error, is final, and only the deadline elapsing moves on to the next tier.
// A losing call is not cancelled at the transport level; its result is
// discarded when it eventually arrives.
type Tiered struct {
	tiers     []Tier
	serialize bool
	mu        sync.Mutex
	logger    *slog.Logger
}

type TieredConfig struct {
	Tiers []Tier
	// Serialize limits in-flight completions to one at a time, the legacy
	// admission-control mode.
	Serialize bool
	Logger    *slog.Logger
}

func NewTiered(cfg TieredConfig) *Tiered {
	return &Tiered{
		tiers:     cfg.Tiers,
		serialize: cfg.Serialize,
		logger:    cfg.Logger,
	}
}

func (t *Tiered) Name() string {
	names := make([]string, len(t.tiers))
	for i, tier := range t.tiers {
		names[i] = tier.Completer.Name()
	}
	return "tiered(" + strings.Join(names, ",") + ")"
}

func (t *Tiered) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if t.serialize {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	if len(t.tiers) == 0 {
		return "", fmt.Errorf("tiered: no completers configured")
	}

	start := time.Now()
	defer func() {
		metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	}()

	for i, tier := range t.tiers {
		metrics.CompletionsTotal.Inc()

		type result struct {
			text string
			err  error
		}
		// Buffered so the losing call can complete and be collected
		// without anyone listening.
		resCh := make(chan result, 1)
		go func(c domain.Completer) {
			text, err := c.Complete(ctx, req)
			resCh <- result{text, err}
		}(tier.Completer)

		var timeout <-chan time.Time
		if tier.Deadline > 0 {
			timer := time.NewTimer(tier.Deadline)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case res := <-resCh:
			if res.err != nil {
				return "", fmt.Errorf("completer %s: %w", tier.Completer.Name(), res.err)
			}
			return res.text, nil
		case <-timeout:
			if i == len(t.tiers)-1 {
				return "", fmt.Errorf("completer %s: deadline %s elapsed, no further tier", tier.Completer.Name(), tier.Deadline)
			}
			metrics.FallbacksTotal.Inc()
			t.logger.Warn("completion deadline elapsed, escalating",
				"completer", tier.Completer.Name(),
				"deadline", tier.Deadline,
				"next", t.tiers[i+1].Completer.Name(),
			)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	// Unreachable: the last tier always returns from the select above.
	return "", fmt.Errorf("tiered: exhausted")
}
