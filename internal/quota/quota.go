// Package quota enforces the free-plan monthly cap on real runs and records
// usage best-effort.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/store"
)

// DefaultFreeRunsPerMonth is the reference free-tier cap.
const DefaultFreeRunsPerMonth = 3

// Counter gates real runs by calendar-month usage. Simulated runs never
// touch it.
type Counter struct {
	store store.Store
	cap   int
}

// New builds a Counter. A non-positive cap falls back to the default.
func New(st store.Store, monthlyCap int) *Counter {
	if monthlyCap <= 0 {
		monthlyCap = DefaultFreeRunsPerMonth
	}
	return &Counter{store: st, cap: monthlyCap}
}

// Check blocks a real run on the free plan once the month's count reached
// the cap. The returned RunError carries used/remaining so callers can
// decide to upgrade or wait. Paid plans always pass.
func (c *Counter) Check(ctx context.Context, agentID string, now time.Time) (*model.RunError, error) {
	plan, err := c.store.GetPlan(ctx, agentID)
	if err != nil {
		return nil, eris.Wrap(err, "quota: get plan")
	}
	if plan != model.PlanFree {
		return nil, nil
	}

	used, err := c.store.CountRunsThisMonth(ctx, agentID, now)
	if err != nil {
		return nil, eris.Wrap(err, "quota: count runs")
	}
	if used < c.cap {
		return nil, nil
	}

	runErr := model.NewRunError(model.ErrRateLimited,
		fmt.Sprintf("free plan allows %d runs per month; %d used", c.cap, used))
	runErr.Details = map[string]any{
		"limit":     c.cap,
		"used":      used,
		"remaining": 0,
	}
	return runErr, nil
}

// Record appends a usage row for an executed real run. Best-effort: a
// usage-tracking outage must not block a committed run from returning.
func (c *Counter) Record(ctx context.Context, agentID string) {
	if err := c.store.RecordRun(ctx, agentID); err != nil {
		zap.L().Error("quota: failed to record run usage",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
	}
}
