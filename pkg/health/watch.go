package health

import (
	"context"
	"time"

	"github.com/cuemby/icecream/pkg/log"
	"github.com/cuemby/icecream/pkg/metrics"
)

// Watch runs checker every cfg.Interval until ctx is cancelled and
// publishes the outcome as a component of the health endpoints. The first
// check runs immediately.
func Watch(ctx context.Context, checker Checker, cfg Config) error {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}

	logger := log.WithComponent("health").With().Str("check", checker.Name()).Logger()
	metrics.RegisterComponent(checker.Name(), false, "not checked yet")

	status := &Status{}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		result := checker.Check(ctx)
		if status.Update(result, cfg) {
			if status.Healthy {
				logger.Info().Str("result", result.Message).Msg("Check passing")
			} else {
				logger.Error().Str("result", result.Message).Msg("Check failing")
			}
		}
		metrics.UpdateComponent(checker.Name(), status.Healthy, result.Message)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
