package jobs

import (
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const queueDrainJob = "queue-drain"

// Starter starts a run; Manager implements it.
type Starter interface {
	Start(trigger string) error
}

// Start schedules a queue drain every interval. An interval of zero
// disables scheduling and returns a nil scheduler.
func Start(runner Starter, interval time.Duration, log *zap.Logger) (*gocron.Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		log.Info("Schedule interval is 0, scheduled downloads are disabled.")
		return nil, nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	log.Info("Scheduling job", zap.String("job", queueDrainJob), zap.Duration("interval", interval))
	_, err := s.Every(interval).Do(func() {
		log.Debug("Scheduler is triggering job", zap.String("job", queueDrainJob))
		// Go through the runner so scheduled and manual runs never overlap.
		if err := runner.Start(TriggerSchedule); err != nil {
			log.Info("Scheduled job could not start", zap.String("job", queueDrainJob), zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}

	log.Info("Starting background job scheduler...")
	s.StartAsync()
	return s, nil
}
