package hierarchy

import "time"

// ScheduleRecord holds per-view refresh bookkeeping. It is owned by the
// refresh scheduler and mutated only while the view's lock is held.
type ScheduleRecord struct {
	ViewName            string        `json:"viewName"`
	LastRefreshAt       time.Time     `json:"lastRefreshAt"`
	LastRefreshDuration time.Duration `json:"lastRefreshDuration"`
	LastSuccess         bool          `json:"lastSuccess"`
	RefreshCount        int64         `json:"refreshCount"`
	FailureCount        int64         `json:"failureCount"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastFailureReason   string        `json:"lastFailureReason,omitempty"`
	AutoRefreshEnabled  bool          `json:"autoRefreshEnabled"`

	// Trigger thresholds: refresh when the pending change count reaches
	// ChangeCountThreshold OR the snapshot is older than TimeThreshold.
	ChangeCountThreshold int           `json:"changeCountThreshold"`
	TimeThreshold        time.Duration `json:"timeThreshold"`
}

// RefreshStrategy identifies which recomputation path executed.
type RefreshStrategy string

const (
	// StrategyConcurrent rebuilds into a shadow table and swaps it in,
	// leaving readers on the previous snapshot until the swap commits.
	StrategyConcurrent RefreshStrategy = "concurrent"
	// StrategyBlocking recomputes in place inside one transaction.
	StrategyBlocking RefreshStrategy = "blocking"
	// StrategyNone means no refresh ran.
	StrategyNone RefreshStrategy = "none"
)

// RefreshStatus is the terminal state of one scheduling evaluation.
type RefreshStatus string

const (
	StatusRefreshed                  RefreshStatus = "refreshed"
	StatusSkippedInsufficientChanges RefreshStatus = "skipped-insufficient-changes"
	StatusSkippedAlreadyInProgress   RefreshStatus = "skipped-already-in-progress"
	StatusFailed                     RefreshStatus = "failed"
)

// RefreshOutcome reports what a single evaluation did.
type RefreshOutcome struct {
	ViewName      string          `json:"viewName"`
	Status        RefreshStatus   `json:"status"`
	Strategy      RefreshStrategy `json:"strategy"`
	RecentChanges int             `json:"recentChanges"`
	Duration      time.Duration   `json:"duration"`
	Err           error           `json:"-"`
}

// Skipped reports whether the evaluation ended without a refresh attempt.
func (o RefreshOutcome) Skipped() bool {
	return o.Status == StatusSkippedInsufficientChanges || o.Status == StatusSkippedAlreadyInProgress
}
