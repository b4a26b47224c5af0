package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetentionPolicy defines how long the audit trail is kept.
type RetentionPolicy struct {
	// Days is how long to keep events. Zero keeps them forever.
	Days int

	// Interval is how often Run purges.
	Interval time.Duration
}

// DefaultRetentionPolicy keeps one year of events, purged daily.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{Days: 365, Interval: 24 * time.Hour}
}

// CleanupReport summarizes one purge.
type CleanupReport struct {
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Cutoff        time.Time `json:"cutoff"`
	EventsDeleted int64     `json:"events_deleted"`
}

// Retention purges audit events older than the policy allows.
type Retention struct {
	store  Store
	policy RetentionPolicy
	log    *zap.Logger
	now    func() time.Time
}

// NewRetention creates a retention job over store.
func NewRetention(store Store, policy RetentionPolicy, log *zap.Logger) *Retention {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultRetentionPolicy().Interval
	}
	return &Retention{store: store, policy: policy, log: log, now: time.Now}
}

// RunCleanup purges once. A zero-day policy purges nothing.
func (r *Retention) RunCleanup(ctx context.Context) (*CleanupReport, error) {
	start := r.now().UTC()
	report := &CleanupReport{StartTime: start}
	if r.policy.Days <= 0 {
		report.EndTime = start
		return report, nil
	}

	report.Cutoff = start.AddDate(0, 0, -r.policy.Days)
	n, err := r.store.Purge(ctx, report.Cutoff)
	report.EventsDeleted = n
	report.EndTime = r.now().UTC()
	if err != nil {
		return report, err
	}
	return report, nil
}

// Run purges on every interval tick until ctx is done.
func (r *Retention) Run(ctx context.Context) {
	ticker := time.NewTicker(r.policy.Interval)
	defer ticker.Stop()

	for {
		report, err := r.RunCleanup(ctx)
		if err != nil {
			r.log.Error("audit retention purge failed", zap.Error(err))
		} else if report.EventsDeleted > 0 {
			r.log.Info("audit retention purge",
				zap.Int64("deleted", report.EventsDeleted),
				zap.Time("cutoff", report.Cutoff),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
