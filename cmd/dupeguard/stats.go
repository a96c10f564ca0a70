package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dupeguard/internal/dedup"
)

var statsJSONOutput bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored images per chat",
	Long:  `Load every chat found in storage and print its image count. Only the file and sqlite backends can be listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		cfg := env.config
		root := cfg.StorageRoot(env.dataDir.Root())

		chats, err := dedup.DiscoverChats(cfg.Storage.Backend, root)
		if err != nil {
			return err
		}

		ctx := context.Background()
		svc, err := dedup.New(ctx, cfg, env.dataDir.Root(), nil)
		if err != nil {
			return err
		}
		defer svc.Close()

		var failed []string
		for _, chat := range chats {
			if _, err := svc.Load(ctx, chat); err != nil {
				failed = append(failed, fmt.Sprintf("chat %d: %v", chat, err))
			}
		}
		stats := svc.Stats()

		if statsJSONOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"backend": cfg.Storage.Backend,
				"chats":   stats,
				"errors":  failed,
			})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Backend: %s\nStorage: %s\n\n", cfg.Storage.Backend, root)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHAT\tIMAGES")
		total := 0
		for _, s := range stats {
			fmt.Fprintf(w, "%d\t%d\n", s.ChatID, s.Images)
			total += s.Images
		}
		w.Flush()
		fmt.Fprintf(out, "\n%d chats, %d images\n", len(stats), total)

		for _, f := range failed {
			color.New(color.FgRed).Fprintf(out, "FAILED %s\n", f)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSONOutput, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statsCmd)
}
