// Package notify fans a qualified-lead notification out to the configured
// channels. Channels are independent: one failing, timing out, or being
// rate-limited never blocks or fails the others, and the notifier as a whole
// never returns an error to the pipeline. Outcomes are reported per channel
// and recorded in the store for daily-cap accounting.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadsense/internal/config"
	"github.com/sells-group/leadsense/internal/model"
	"github.com/sells-group/leadsense/internal/resilience"
	"github.com/sells-group/leadsense/internal/store"
)

// ScoreResult is the scoring block carried in outbound payloads.
type ScoreResult struct {
	Score     int                 `json:"score"`
	Qualified bool                `json:"qualified"`
	Rationale []model.ScoreFactor `json:"rationale"`
}

// Notification is the cross-channel payload. Lead is expected to be
// pre-redacted by the caller when PII redaction is enabled.
type Notification struct {
	Event     model.TriggerEvent `json:"event"`
	Timestamp time.Time          `json:"timestamp"`
	Lead      model.Lead         `json:"lead"`
	Score     ScoreResult        `json:"score"`
}

// Channel delivers one notification to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// ChannelResult is the per-channel delivery outcome.
type ChannelResult struct {
	Channel string `json:"channel"`
	Sent    bool   `json:"sent"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Notifier owns the channel set and the shared outbound budget.
type Notifier struct {
	channels      []Channel
	store         store.Store
	limiter       *rate.Limiter
	policy        resilience.Policy
	maxDaily      int
	maxConcurrent int
	now           func() time.Time
}

// New builds a Notifier from config. Channels with no endpoint configured
// are simply absent.
func New(cfg config.NotifyConfig, st store.Store) *Notifier {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var channels []Channel
	if cfg.WebhookURL != "" {
		channels = append(channels, NewWebhook(cfg.WebhookURL, cfg.WebhookSecret, timeout))
	}
	if cfg.ChatOpsURL != "" {
		channels = append(channels, NewChatOps(cfg.ChatOpsURL, timeout))
	}

	rps := cfg.OutboundRPS
	if rps <= 0 {
		rps = 10
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	policy := resilience.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}

	return &Notifier{
		channels:      channels,
		store:         st,
		limiter:       rate.NewLimiter(rate.Limit(rps), max(int(rps), 1)),
		policy:        policy,
		maxDaily:      cfg.MaxDailyNotifications,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Channels returns the configured channel names.
func (n *Notifier) Channels() []string {
	names := make([]string, len(n.channels))
	for i, ch := range n.channels {
		names[i] = ch.Name()
	}
	return names
}

// Notify delivers the notification to every channel concurrently and
// reports per-channel outcomes. It never returns an error: delivery
// failures are logged, recorded in the result, and swallowed.
func (n *Notifier) Notify(ctx context.Context, note Notification) []ChannelResult {
	if len(n.channels) == 0 {
		return nil
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = n.now().UTC()
	}

	if !n.claimCapSlot(ctx, note) {
		zap.L().Warn("notify: daily cap reached, skipping",
			zap.String("lead_id", note.Lead.ID),
			zap.String("tenant_id", note.Lead.TenantID),
			zap.Int("max_daily", n.maxDaily),
		)
		results := make([]ChannelResult, len(n.channels))
		for i, ch := range n.channels {
			results[i] = ChannelResult{Channel: ch.Name(), Skipped: true}
		}
		return results
	}

	results := make([]ChannelResult, len(n.channels))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(n.maxConcurrent)

	for i, ch := range n.channels {
		g.Go(func() error {
			res := ChannelResult{Channel: ch.Name()}

			err := n.deliver(gCtx, ch, note)
			if err != nil {
				res.Error = err.Error()
				zap.L().Error("notify: channel delivery failed",
					zap.String("channel", ch.Name()),
					zap.String("lead_id", note.Lead.ID),
					zap.Error(err),
				)
			} else {
				res.Sent = true
			}

			mu.Lock()
			results[i] = res
			mu.Unlock()
			// Channel errors are isolated, never fail the group.
			return nil
		})
	}
	g.Wait()

	return results
}

// deliver sends to one channel with rate limiting and transient-error retry.
func (n *Notifier) deliver(ctx context.Context, ch Channel, note Notification) error {
	p := n.policy
	p.OnRetry = resilience.RetryLogger(ch.Name(), "notify")
	return resilience.Do(ctx, p, func(ctx context.Context) error {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		return ch.Send(ctx, note)
	})
}

// claimCapSlot atomically checks the tenant's UTC-day notification count
// against the cap and records the send in one store operation, so concurrent
// notifications cannot both pass the check. Store errors fail open so a
// hiccup cannot mute notifications.
func (n *Notifier) claimCapSlot(ctx context.Context, note Notification) bool {
	midnight := n.now().UTC().Truncate(24 * time.Hour)
	claimed, err := n.store.RecordNotification(ctx, note.Lead.ID, note.Lead.TenantID, midnight, n.maxDaily)
	if err != nil {
		zap.L().Warn("notify: notification claim failed", zap.Error(err))
		return true
	}
	return claimed
}
