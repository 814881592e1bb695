package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/batch/job"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (*job.Result, error) {
		logger.Info("job started",
			slog.String("job_id", j.ID),
			slog.String("job_type", string(j.Type)),
			slog.String("input", j.Input),
			slog.Int("attempt", j.Attempt),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		if failure := Failure(res, err); failure != nil {
			logger.Error("job failed",
				slog.String("job_id", j.ID),
				slog.String("job_type", string(j.Type)),
				slog.Duration("elapsed", elapsed),
				slog.String("error", failure.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_id", j.ID),
				slog.String("job_type", string(j.Type)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return res, err
	}
}
