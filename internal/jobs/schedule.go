package jobs

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Registrar is the part of *asynq.Scheduler used to install periodic tasks.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// RegisterPeriodic installs a purge every purgeEvery and a warm of today's
// line for each domain every warmEvery. A zero warmEvery disables warming.
func RegisterPeriodic(r Registrar, domains []string, purgeEvery, warmEvery time.Duration) error {
	if purgeEvery <= 0 {
		return fmt.Errorf("purge interval must be positive, got %s", purgeEvery)
	}
	if _, err := r.Register("@every "+purgeEvery.String(), NewPurgeTask()); err != nil {
		return fmt.Errorf("register purge: %w", err)
	}
	if warmEvery <= 0 {
		return nil
	}
	for _, d := range domains {
		t, err := NewWarmTask(d, "")
		if err != nil {
			return err
		}
		// unique per domain so a slow warm does not stack up duplicates
		if _, err := r.Register("@every "+warmEvery.String(), t, asynq.Unique(warmEvery)); err != nil {
			return fmt.Errorf("register warm %s: %w", d, err)
		}
	}
	return nil
}
