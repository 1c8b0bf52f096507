package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/repository"
)

// RetentionJob prunes old dedup claims. Claims only need to outlive the
// window in which the provider can redeliver an event, so rows past the
// retention cutoff are safe to drop.
type RetentionJob struct {
	processedRepo repository.ProcessedEventRepository
	retention     time.Duration
	interval      time.Duration
	done          chan struct{}
}

func NewRetentionJob(
	processedRepo repository.ProcessedEventRepository,
	retention time.Duration,
	interval time.Duration,
) *RetentionJob {
	return &RetentionJob{
		processedRepo: processedRepo,
		retention:     retention,
		interval:      interval,
		done:          make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("retention job started")
}

func (j *RetentionJob) Stop() {
	close(j.done)
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.prune()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *RetentionJob) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.retention)
	count, err := j.processedRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune processed events")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("pruned processed events")
	}
}
