package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single poll tick and exit",
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

			if err := a.proc.Tick(ctx); err != nil {
				return err
			}
			st := a.proc.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d failed=%d degraded=%d\n", st.Processed, st.Failed, st.Degraded)
			return nil
		},
	}
}
