package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

// Refresher periodically checks the store's remaining validity and swaps in a fresh
// issuance before expiry. A failed refresh is logged and retried on the next tick;
// it only becomes fatal if the active credential actually expires, which the session
// observes as a credential_expired media failure.
type Refresher struct {
	store    *Store
	issuer   Issuer
	lesson   *models.Lesson
	viewerID uuid.UUID
	role     string

	interval time.Duration
	margin   time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// onReplace is invoked after a successful swap (e.g. to push the new set to the player).
	onReplace func(models.StreamingCredentialSet)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// RefresherConfig bundles the refresher policy knobs.
type RefresherConfig struct {
	Interval     time.Duration // tick cadence, capped at 60s by config loading
	Margin       time.Duration // refresh when remaining validity drops below this
	FetchTimeout time.Duration
}

// NewRefresher creates a refresher for one session.
func NewRefresher(store *Store, issuer Issuer, lesson *models.Lesson, viewerID uuid.UUID, role string, cfg RefresherConfig, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Refresher{
		store:    store,
		issuer:   issuer,
		lesson:   lesson,
		viewerID: viewerID,
		role:     role,
		interval: cfg.Interval,
		margin:   cfg.Margin,
		timeout:  cfg.FetchTimeout,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// SetOnReplace registers the swap notification callback. Call before Start.
func (r *Refresher) SetOnReplace(fn func(models.StreamingCredentialSet)) {
	r.onReplace = fn
}

// Start begins the periodic check. Call Stop to release the timer.
func (r *Refresher) Start() {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(ctx)
}

// Stop stops the periodic check. Idempotent; returns once the loop has exited.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	<-r.done
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one refresh check: if the active issuance is within the safety margin of
// expiry, fetch a replacement and swap it in. Exported so tests drive ticks directly.
func (r *Refresher) Tick(ctx context.Context) {
	remaining := r.store.TimeRemaining(r.now())
	if remaining >= r.margin {
		return
	}
	if err := r.RefreshNow(ctx); err != nil {
		r.logger.Warn("credential refresh failed, will retry on next tick",
			zap.String("lesson_id", r.lesson.ID.String()),
			zap.Duration("remaining", remaining),
			zap.Error(err))
	}
}

// RefreshNow forces a refresh regardless of remaining validity. The session uses it
// for the one automatic recovery attempt after a credential_expired media failure.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	set, err := r.issuer.Refresh(ctx, r.lesson, r.viewerID, r.role, r.store.Active())
	if err != nil {
		return err
	}
	if !r.store.Replace(set) {
		r.logger.Warn("stale credential issuance rejected",
			zap.String("lesson_id", r.lesson.ID.String()),
			zap.Time("expires_at", set.ExpiresAt()))
		return nil
	}
	r.logger.Debug("credentials replaced",
		zap.String("lesson_id", r.lesson.ID.String()),
		zap.Time("expires_at", set.ExpiresAt()))
	if r.onReplace != nil {
		r.onReplace(set)
	}
	return nil
}
