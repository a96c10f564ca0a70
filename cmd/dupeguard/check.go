package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dupeguard/imagedb"
	"dupeguard/imagedb/fingerprint"
	"dupeguard/internal/config"
	"dupeguard/internal/dedup"
)

var checkJSONOutput bool

// checkResult is one line of "check" output.
type checkResult struct {
	File      string  `json:"file"`
	Duplicate bool    `json:"duplicate"`
	Nearest   string  `json:"nearest,omitempty"`
	Distance  float64 `json:"distance,omitempty"`
	Error     string  `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check <chat-id> <files...>",
	Short: "Check images against a chat without storing them",
	Long: `Classify local image files against the stored images of one chat.
Nothing is written; files are checked independently of each other.
Group chat IDs are negative, so pass them after "--":

  dupeguard check -- -100123 photo.jpg`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseChatID(args[0])
		if err != nil {
			return err
		}

		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		ctx := context.Background()
		svc, err := dedup.New(ctx, env.config, env.dataDir.Root(), nil)
		if err != nil {
			return err
		}
		defer svc.Close()

		stored := chatStored(env.config, env.dataDir.Root(), chatID)
		results := make([]checkResult, 0, len(args)-1)
		for _, file := range args[1:] {
			results = append(results, checkFile(ctx, svc, chatID, file, stored))
		}

		if checkJSONOutput {
			return printJSON(cmd.OutOrStdout(), results)
		}
		printCheckResults(cmd, results)
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSONOutput, "json", false, "Output in JSON format")
	rootCmd.AddCommand(checkCmd)
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", s)
	}
	return id, nil
}

// chatStored reports whether chatID may have stored images. Opening the
// storage of an unknown file or sqlite chat would create it.
func chatStored(cfg *config.Config, dataRoot string, chatID int64) bool {
	chats, err := dedup.DiscoverChats(cfg.Storage.Backend, cfg.StorageRoot(dataRoot))
	if err != nil {
		return true
	}
	for _, c := range chats {
		if c == chatID {
			return true
		}
	}
	return false
}

func checkFile(ctx context.Context, svc *dedup.Service, chatID int64, file string, stored bool) checkResult {
	res := checkResult{File: filepath.Base(file)}

	data, err := os.ReadFile(file)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if !stored {
		if _, _, err := fingerprint.Decode(data); err != nil {
			res.Error = "not a supported image"
		}
		return res
	}

	match, err := svc.Lookup(ctx, chatID, data)
	if err != nil {
		if errors.Is(err, imagedb.ErrDecode) {
			res.Error = "not a supported image"
		} else {
			res.Error = err.Error()
		}
		return res
	}

	res.Duplicate = match.IsDuplicate()
	if !math.IsInf(match.Distance, 1) {
		res.Nearest = match.Nearest.Name
		res.Distance = match.Distance
	}
	return res
}

func printCheckResults(cmd *cobra.Command, results []checkResult) {
	out := cmd.OutOrStdout()
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	for _, r := range results {
		switch {
		case r.Error != "":
			yellow.Fprintf(out, "%-8s", "error")
			fmt.Fprintf(out, " %s: %s\n", r.File, r.Error)
		case r.Duplicate:
			red.Fprintf(out, "%-8s", "repost")
			fmt.Fprintf(out, " %s ~ %s (distance %.0f)\n", r.File, r.Nearest, r.Distance)
		default:
			green.Fprintf(out, "%-8s", "new")
			if r.Nearest != "" {
				fmt.Fprintf(out, " %s (nearest %s, distance %.0f)\n", r.File, r.Nearest, r.Distance)
			} else {
				fmt.Fprintf(out, " %s\n", r.File)
			}
		}
	}
}
