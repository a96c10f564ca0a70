package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	auditRepair     bool
	auditJSONOutput bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run storage maintenance now",
	Long: `Run the maintenance tasks for the configured backend once.

file:   report images without sidecars, orphan sidecars and stale temp files
sqlite: integrity check and ANALYZE of every chat database

With --repair, stale temp files are removed (file) or databases are vacuumed (sqlite).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		cfg := env.config

		scheduler := newScheduler(cfg, cfg.StorageRoot(env.dataDir.Root()), auditRepair, nil)
		results := scheduler.RunNow(context.Background())
		if len(results) == 0 {
			return fmt.Errorf("no maintenance tasks for the %s backend", cfg.Storage.Backend)
		}

		if auditJSONOutput {
			return printJSON(cmd.OutOrStdout(), results)
		}

		out := cmd.OutOrStdout()
		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		sort.Strings(names)

		failed := false
		for _, name := range names {
			r := results[name]
			if !r.Success {
				failed = true
				color.New(color.FgRed).Fprintf(out, "%s: FAILED", name)
				fmt.Fprintf(out, " %s: %v\n", r.Message, r.Error)
				continue
			}
			c := color.New(color.FgGreen)
			if r.Total() > 0 {
				c = color.New(color.FgYellow)
			}
			c.Fprintf(out, "%s: %s", name, r.Message)
			fmt.Fprintln(out)
			kinds := make([]string, 0, len(r.Findings))
			for k := range r.Findings {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				fmt.Fprintf(out, "  %-16s %d\n", k, r.Findings[k])
			}
			if r.SpaceReclaimed > 0 {
				fmt.Fprintf(out, "  reclaimed %s\n", formatSize(r.SpaceReclaimed))
			}
		}
		if failed {
			return fmt.Errorf("maintenance failed")
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditRepair, "repair", false, "Remove stale temp files / vacuum databases")
	auditCmd.Flags().BoolVar(&auditJSONOutput, "json", false, "Output in JSON format")
	rootCmd.AddCommand(auditCmd)
}
