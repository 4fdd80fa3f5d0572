package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/userstack/backend/internal/domain/billing"
	"github.com/userstack/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// PendingUpgradeSweeper expires upgrade intents that never saw a
// confirming payment. Without it a pending_upgrade with an abandoned
// checkout would linger forever.
type PendingUpgradeSweeper struct {
	subscriptions billing.SubscriptionRepository
	eventBus      shared.EventBus
	window        time.Duration
	interval      time.Duration
	logger        *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PendingUpgradeSweeperConfig contains configuration for the sweeper
type PendingUpgradeSweeperConfig struct {
	Subscriptions billing.SubscriptionRepository
	EventBus      shared.EventBus
	Window        time.Duration // how long an upgrade may stay pending
	Interval      time.Duration // how often to sweep
	Logger        *zap.Logger
}

// NewPendingUpgradeSweeper creates a sweeper; call Start to run it
func NewPendingUpgradeSweeper(cfg PendingUpgradeSweeperConfig) *PendingUpgradeSweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &PendingUpgradeSweeper{
		subscriptions: cfg.Subscriptions,
		eventBus:      cfg.EventBus,
		window:        window,
		interval:      interval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the sweep loop
func (s *PendingUpgradeSweeper) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("Pending upgrade sweeper started",
		zap.Duration("window", s.window),
		zap.Duration("interval", s.interval))
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish
func (s *PendingUpgradeSweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *PendingUpgradeSweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SweepOnce(context.Background()); err != nil {
				s.logger.Error("Pending upgrade sweep failed", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

// SweepOnce expires every pending upgrade older than the window
func (s *PendingUpgradeSweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-s.window)
	pending, err := s.subscriptions.FindPendingSince(ctx, cutoff)
	if err != nil {
		return err
	}

	for i := range pending {
		sub := &pending[i]
		if err := sub.ExpirePending(); err != nil {
			s.logger.Warn("Skipping subscription that left pending state",
				zap.String("group_id", sub.GroupID.String()),
				zap.Error(err))
			continue
		}
		if err := s.subscriptions.Save(ctx, sub); err != nil {
			s.logger.Error("Failed to save expired subscription",
				zap.String("group_id", sub.GroupID.String()),
				zap.Error(err))
			continue
		}

		if s.eventBus != nil {
			if events := sub.GetDomainEvents(); len(events) > 0 {
				if err := s.eventBus.Publish(ctx, events...); err != nil {
					s.logger.Warn("Failed to publish expiry events", zap.Error(err))
				}
				sub.ClearDomainEvents()
			}
		}

		s.logger.Info("Expired abandoned pending upgrade",
			zap.String("group_id", sub.GroupID.String()),
			zap.String("state", string(sub.State)))
	}

	return nil
}
