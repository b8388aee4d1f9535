package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func weeklyCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Send the weekly report if it is due",
		Long: `Checks the weekly schedule and sends the report when due. With --force the
report for the trailing 7 days is sent immediately and the schedule state is left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if problems := cfg.Validate(); len(problems) > 0 {
				return errors.New("configuration: " + strings.Join(problems, "; "))
			}

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now()
			if force {
				s, err := a.weekly.Run(ctx, now)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent %s: %d calls\n", s.WeekKey, s.Count)
				return nil
			}

			fired, err := a.weekly.MaybeRun(ctx, now)
			if err != nil {
				return err
			}
			if !fired {
				fmt.Fprintln(cmd.OutOrStdout(), "weekly report not due")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "send now regardless of schedule")
	return cmd
}
