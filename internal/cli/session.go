package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/batch"
	audithook "github.com/xraph/batch/audit_hook"
	"github.com/xraph/batch/executor"
	"github.com/xraph/batch/job"
	"github.com/xraph/batch/manager"
	"github.com/xraph/batch/recovery"
	"github.com/xraph/batch/recovery/redisstore"
	"github.com/xraph/batch/worker"
)

// openStore returns the configured checkpoint store and a function
// releasing its connection.
func (a *app) openStore(ctx context.Context) (recovery.Store, func() error, error) {
	if a.cfg.Redis.Addr == "" {
		fs, err := recovery.NewFileStore(a.cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() error { return nil }, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	store := redisstore.New(client,
		redisstore.WithNamespace(a.cfg.Redis.Namespace),
		redisstore.WithLogger(a.logger),
	)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client.Close, nil
}

// newManager builds a manager with the built-in executors.
func (a *app) newManager(ctx context.Context) (*manager.Manager, func() error, error) {
	executors := map[job.Type]worker.Executor{
		job.TypeValidate: executor.NewValidate(executor.WithValidateLogger(a.logger)),
		job.TypeMock:     executor.NewMock(),
	}
	opts := []manager.Option{manager.WithLogger(a.logger)}
	var closers []func() error
	release := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	if a.cfg.Audit.File != "" {
		f, err := os.OpenFile(a.cfg.Audit.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit file: %w", err)
		}
		closers = append(closers, f.Close)
		opts = append(opts, manager.WithExtension(
			audithook.New(audithook.NewJSONRecorder(f), audithook.WithLogger(a.logger)),
		))
	}
	if a.cfg.EnableRecovery {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, nil, errors.Join(err, release())
		}
		closers = append(closers, closeStore)
		opts = append(opts, manager.WithStore(store))
	}

	m, err := manager.New(a.cfg.Config, executors, opts...)
	if err != nil {
		return nil, nil, errors.Join(err, release())
	}
	return m, release, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// process starts m, reports progress to out until the queue drains or
// ctx is cancelled, and shuts m down.
func (a *app) process(ctx context.Context, out io.Writer, m *manager.Manager) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- m.Wait(ctx) }()

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-tick.C:
			printProgress(out, m.Summary())
		}
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()
	shutdownErr := m.Shutdown(sctx)

	s := m.Summary()
	if waitErr != nil {
		a.logger.Warn("processing interrupted", slog.Any("error", waitErr))
		fmt.Fprintf(out, "interrupted with %d jobs left", s.Pending+s.Running)
		if a.cfg.EnableRecovery {
			fmt.Fprint(out, "; run 'batchq recover' to resume")
		}
		fmt.Fprintln(out)
		return errors.Join(shutdownErr, context.Cause(ctx))
	}

	printReport(out, s, m.Jobs())
	if shutdownErr != nil {
		return shutdownErr
	}
	if s.Failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", s.Failed, s.Total)
	}
	return nil
}

func printProgress(out io.Writer, s batch.Summary) {
	fmt.Fprintf(out, "[%5.1f%%] %d/%d done, %d running, %d failed, %d awaiting retry\n",
		s.OverallProgress, s.Completed, s.Total, s.Running, s.Failed, s.PendingRetries)
}

func printReport(out io.Writer, s batch.Summary, jobs []job.Job) {
	fmt.Fprintf(out, "completed %d, failed %d, total %d\n", s.Completed, s.Failed, s.Total)
	for _, j := range jobs {
		if j.Status == job.StatusFailed {
			fmt.Fprintf(out, "  FAILED %s: %s\n", j.Input, j.ErrorMessage)
		}
	}
}
