package cmd

import (
	"errors"
	"fmt"
	"strings"

	"marketsync/scheduler"

	"github.com/spf13/cobra"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var task string

	names := make([]string, 0, len(scheduler.Kinds))
	for _, k := range scheduler.Kinds {
		names = append(names, string(k))
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one job immediately",
		Long:  "Runs a single job outside its schedule. Available tasks: " + strings.Join(names, ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := scheduler.ParseJobKind(task); err != nil {
				return err
			}

			a, err := newApp(*opts)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.scheduler.RunTaskNow(cmd.Context(), task)
			out := cmd.OutOrStdout()
			if !res.Success {
				fmt.Fprintf(out, "FAILED %s: %s\n", task, res.Error)
				if res.Message != "" {
					fmt.Fprintln(out, res.Message)
				}
				return errors.New("task failed")
			}
			fmt.Fprintf(out, "OK %s: %s\n", task, res.Message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&task, "task", "t", "", "task name")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
