package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/batch/executor"
	"github.com/xraph/batch/job"
	"github.com/xraph/batch/manager"
)

func (a *app) runCmd() *cobra.Command {
	var (
		outDir     string
		jobType    string
		recursive  bool
		extensions []string
		level      string
		priority   int
		discard    bool
	)
	cmd := &cobra.Command{
		Use:   "run <path>...",
		Short: "Scan inputs and process one job per file",
		Example: `  batchq run models/ --out reports/ --type validate --workers 4
  batchq run part.stl --type validate --level strict`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			m, release, err := a.newManager(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			if a.cfg.EnableRecovery && !discard && m.CanRecover(ctx) {
				return errors.New("a previous session can be recovered; run 'batchq recover' or pass --discard")
			}

			req := manager.ScanRequest{
				Paths:      args,
				Type:       job.Type(jobType),
				OutputDir:  outDir,
				Recursive:  recursive,
				Extensions: extensions,
				Priority:   priority,
			}
			if req.Type == job.TypeValidate {
				req.Options = map[string]any{"validation_level": level}
			}
			added, err := m.ScanAndAddJobs(ctx, req)
			if err != nil {
				return err
			}
			if len(added) == 0 {
				return fmt.Errorf("no input files found in %v", args)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d %s jobs\n", len(added), jobType)
			return a.process(ctx, cmd.OutOrStdout(), m)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&outDir, "out", "o", "", "output directory (default: next to each input)")
	f.StringVarP(&jobType, "type", "t", string(job.TypeValidate), "job type (validate, mock)")
	f.BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")
	f.StringSliceVar(&extensions, "ext", nil, "input extensions (default .stl)")
	f.StringVar(&level, "level", executor.LevelStandard, "validation level (basic, standard, strict)")
	f.IntVar(&priority, "priority", 0, "priority of the queued jobs")
	f.BoolVar(&discard, "discard", false, "start fresh even if a previous session can be recovered")
	return cmd
}
