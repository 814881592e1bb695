package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/batch"
)

func (a *app) recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resume the session left behind by an interrupted run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.EnableRecovery {
				return batch.ErrRecoveryDisabled
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			m, release, err := a.newManager(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			rec, err := m.RecoverSession(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recovered session %s: %d jobs, %d interrupted\n",
				rec.SessionID, len(rec.Jobs), len(rec.Reset))

			err = a.process(ctx, out, m)
			if errors.Is(err, batch.ErrNoPendingJobs) {
				fmt.Fprintln(out, "nothing left to process")
				return m.Shutdown(ctx)
			}
			return err
		},
	}
}
