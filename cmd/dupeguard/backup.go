package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dupeguard/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Backup and restore stored images",
	Long:  `Create, restore, and inspect portable snapshots of the image storage and config.`,
}

// backup create flags
var (
	backupOutput     string
	backupSecrets    bool
	backupJSONOutput bool
)

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup archive",
	Long:  `Create a .tar.gz archive of the file or sqlite storage and the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}

		out := backupOutput
		if out == "" {
			out = filepath.Join(env.dataDir.BackupDir(),
				fmt.Sprintf("dupeguard-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		result, err := backup.CreateBackup(ctx, backup.BackupOptions{
			ConfigPath:     env.configPath,
			DataRoot:       env.dataDir.Root(),
			OutputPath:     out,
			IncludeSecrets: backupSecrets,
		})
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		if backupJSONOutput {
			return printJSON(cmd.OutOrStdout(), result)
		}

		w := cmd.OutOrStdout()
		color.New(color.FgGreen).Fprintf(w, "Backup created: %s\n", result.ArchivePath)
		fmt.Fprintf(w, "Files: %d\n", result.FileCount)
		fmt.Fprintf(w, "Size: %s\n", formatSize(result.TotalSize))
		fmt.Fprintf(w, "Components: %s\n", result.Components)
		fmt.Fprintf(w, "Duration: %v\n", result.Duration.Round(time.Millisecond))
		for _, warn := range result.Warnings {
			color.New(color.FgYellow).Fprintf(w, "WARNING: %s\n", warn)
		}
		return nil
	},
}

// backup restore flags
var (
	restoreDryRun      bool
	restoreForce       bool
	restoreSkipConfig  bool
	restoreConfigPath  string
	restoreStoragePath string
	restoreJSONOutput  bool
)

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Restore from a backup archive",
	Long:  `Restore stored images and config from a previously created backup archive. Stop the bot first.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := backup.RestoreOptions{
			BackupPath:  args[0],
			DryRun:      restoreDryRun,
			Force:       restoreForce,
			SkipConfig:  restoreSkipConfig,
			ConfigPath:  restoreConfigPath,
			StoragePath: restoreStoragePath,
			Verbose:     verbose,
			In:          cmd.InOrStdin(),
			Out:         cmd.OutOrStdout(),
		}

		result, err := backup.RestoreBackup(opts)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		if restoreJSONOutput {
			return printJSON(cmd.OutOrStdout(), result)
		}

		w := cmd.OutOrStdout()
		if !opts.DryRun {
			color.New(color.FgGreen).Fprintln(w, "Restore complete.")
			fmt.Fprintf(w, "Files restored: %d\n", result.FilesRestored)
			fmt.Fprintf(w, "Files skipped: %d\n", result.FilesSkipped)
			fmt.Fprintf(w, "Components: %s\n", result.Components)
		}
		for _, warn := range result.Warnings {
			color.New(color.FgYellow).Fprintf(w, "WARNING: %s\n", warn)
		}
		return nil
	},
}

// backup list flags
var (
	listJSONOutput bool
	listVerbose    bool
)

var backupListCmd = &cobra.Command{
	Use:   "list <backup-file>",
	Short: "Inspect a backup archive",
	Long:  `Display the contents and metadata of a backup archive.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := backup.ListOptions{
			BackupPath: args[0],
			JSONOutput: listJSONOutput,
			Verbose:    listVerbose || verbose,
		}

		result, err := backup.ListBackup(opts)
		if err != nil {
			return fmt.Errorf("list failed: %w", err)
		}
		return backup.PrintListResult(cmd.OutOrStdout(), result, opts)
	},
}

func init() {
	backupCreateCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path (default: <data dir>/backups/dupeguard-backup-YYYYMMDD-HHMMSS.tar.gz)")
	backupCreateCmd.Flags().BoolVar(&backupSecrets, "include-secrets", false, "Include the secrets file")
	backupCreateCmd.Flags().BoolVar(&backupJSONOutput, "json", false, "Output results in JSON format")

	backupRestoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Preview restore without writing files")
	backupRestoreCmd.Flags().BoolVar(&restoreForce, "force", false, "Skip confirmation prompt")
	backupRestoreCmd.Flags().BoolVar(&restoreSkipConfig, "skip-config", false, "Don't restore config and secrets")
	backupRestoreCmd.Flags().StringVar(&restoreConfigPath, "config-path", "", "Override config destination path")
	backupRestoreCmd.Flags().StringVar(&restoreStoragePath, "storage-path", "", "Override storage destination path")
	backupRestoreCmd.Flags().BoolVar(&restoreJSONOutput, "json", false, "Output results in JSON format")

	backupListCmd.Flags().BoolVar(&listJSONOutput, "json", false, "Output in JSON format")
	backupListCmd.Flags().BoolVar(&listVerbose, "files", false, "Show all files in archive")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupListCmd)

	rootCmd.AddCommand(backupCmd)
}
