// Package scheduler runs the per-tenant decision cycle: on a fixed
// cadence (default 15 min) and on demand, it loads every relevant
// AdState for a tenant in one consistent snapshot, scores
// and allocates budget across them, and writes the resulting intents
// onto the durable change queue the Safe Executor drains. Concurrent
// cycles for the same tenant are prevented by a named Postgres advisory
// lock; cycles across tenants run freely in parallel.
package scheduler

import (
	"context"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
)

// AdCandidate bundles one ad's durable state with the context the
// scorer and allocator need but that doesn't live on AdState itself:
// the ad's platform identity, its account cohort baseline, and any
// externally computed DNA-similarity boost.
type AdCandidate struct {
	Ad    models.Ad
	State models.AdState

	CohortMeanCTR  float64
	CohortMeanROAS float64
	DNABoost       float64
}

// Store is the read/write boundary the scheduler depends on: a
// consistent snapshot of one tenant's ads, and the per-tenant
// single-flight lock that keeps concurrent cycles for the same tenant
// from racing.
type Store interface {
	// LoadCandidates returns every ad a decision cycle should consider
	// for tenantID, as of asOf, read inside a single transaction so the
	// scorer sees one consistent snapshot.
	LoadCandidates(ctx context.Context, tenantID string, asOf time.Time) ([]AdCandidate, error)

	// TotalBudgetCents returns the tenant's total daily budget to
	// allocate across its candidate ads.
	TotalBudgetCents(ctx context.Context, tenantID string) (int64, error)

	// AdvisoryLock acquires a session-scoped Postgres advisory lock
	// keyed on tenantID for the duration of one cycle. It blocks until
	// acquired or ctx is done, and returns a release func that must be
	// called exactly once. acquired is false only if ctx was canceled
	// first.
	AdvisoryLock(ctx context.Context, tenantID string) (release func(), acquired bool, err error)

	// UpdateConsecutiveLowROASEvals persists the per-ad low-ROAS streak
	// computed this cycle, consumed by the allocator's kill rule next
	// cycle.
	UpdateConsecutiveLowROASEvals(ctx context.Context, adID string, count int) error
}

// ChangeQueue is the write boundary: recommendations become
// PendingAdChanges on the same durable queue the Safe Executor drains.
// executor.PostgresStore satisfies this by its Enqueue method alone, so
// the scheduler package never imports pkg/executor.
type ChangeQueue interface {
	Enqueue(ctx context.Context, change *models.PendingAdChange) (id string, deduped bool, err error)
}

// RecommendationRecorder persists the latest cycle's recommendations
// for the GET /recommendations query surface. Optional: a nil recorder
// means recommendations are enqueued but not separately retained for
// inspection.
type RecommendationRecorder interface {
	RecordRecommendations(ctx context.Context, tenantID string, cycleID string, at time.Time, recs []CycleRecommendation) error
}

// CycleRecommendation is one ad's allocator output plus the ad/account
// identity needed to route and explain it, the shape persisted for
// later querying and handed to the change queue.
type CycleRecommendation struct {
	AdID              string
	AccountID         string
	Action            string
	RecommendedBudget int64
	PreviousBudget    int64
	Confidence        float64
	Reason            string
}
