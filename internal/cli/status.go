package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/batch"
	"github.com/xraph/batch/recovery"
)

func (a *app) statusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recoverable session, if any",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			out := cmd.OutOrStdout()
			info, err := recovery.NewManager(store, nil, nil, recovery.WithLogger(a.logger)).RecoveryInfo(cmd.Context())
			if errors.Is(err, batch.ErrNoRecoverableSession) {
				a.logger.Debug("no checkpoint", "error", err)
				fmt.Fprintln(out, "no recoverable session")
				return nil
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "session:         %s\n", info.SessionID)
			fmt.Fprintf(out, "started:         %s\n", info.StartTime.Local().Format(time.DateTime))
			fmt.Fprintf(out, "last checkpoint: %s\n", info.LastCheckpoint.Local().Format(time.DateTime))
			fmt.Fprintf(out, "progress:        %.1f%%\n", info.OverallProgress)
			fmt.Fprintf(out, "jobs:            %d (%d to resume)\n", info.TotalJobs, info.Pending())
			for _, st := range slices.Sorted(maps.Keys(info.ByStatus)) {
				fmt.Fprintf(out, "  %-10s %d\n", st, info.ByStatus[st])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session info as JSON")
	return cmd
}
