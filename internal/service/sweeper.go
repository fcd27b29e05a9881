package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// sweepTimeout bounds one healing pass.
const sweepTimeout = 5 * time.Minute

// RecurrenceSweeper runs the chain-healing pass on a cron schedule.
// MarkPaid generates successors inline; the sweeper only covers chains
// broken by a crash between the payment and the successor insert.
type RecurrenceSweeper struct {
	billing  *BillingService
	logger   *zap.Logger
	schedule string
	cron     *cron.Cron
}

// NewRecurrenceSweeper creates a sweeper. schedule is a standard 5-field
// cron expression, e.g. "15 3 * * *" for 03:15 daily.
func NewRecurrenceSweeper(billing *BillingService, schedule string, logger *zap.Logger) *RecurrenceSweeper {
	return &RecurrenceSweeper{
		billing:  billing,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the job and launches the scheduler. Overlapping runs
// are skipped rather than stacked.
func (r *RecurrenceSweeper) Start() error {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(r.run))
	if _, err := r.cron.AddJob(r.schedule, wrapped); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("recurrence sweeper started", zap.String("schedule", r.schedule))
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (r *RecurrenceSweeper) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("recurrence sweeper stopped")
}

func (r *RecurrenceSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	healed, err := r.billing.HealMissingSuccessors(ctx)
	if err != nil {
		r.logger.Error("recurrence sweep failed", zap.Error(err))
		return
	}
	if healed > 0 {
		r.logger.Info("recurrence sweep finished", zap.Int("healed", healed))
	}
}
