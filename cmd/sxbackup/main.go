package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sxbackup-go/internal/app"
	"sxbackup-go/internal/config"
	"sxbackup-go/internal/sx"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// confirm prompts y/N on stdin and returns true for an affirmative answer.
// Skipped (treated as confirmed) when stdin isn't an interactive terminal,
// so destroy stays scriptable in cron/CI without requiring --yes.
func confirm(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// terminalWidth returns the current terminal column width, falling back to
// 80 when stdout isn't a terminal or the size can't be determined.
func terminalWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 80
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// commandRan is set by every RunE as its first statement, so main can tell
// a usage error (bad args, unknown flag, caught before any RunE runs) apart
// from a failure the command itself reported.
var commandRan bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		var interrupted *sx.Interrupted
		switch {
		case errors.As(err, &interrupted):
			os.Exit(130)
		case !commandRan:
			os.Exit(2)
		default:
			os.Exit(1)
		}
	}
}

// newApp reads the daemon config and creates an App. The caller must defer
// app.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, "")
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// interruptContext returns a context cancelled on SIGINT/SIGTERM, so an
// in-flight transfer gets a chance to shut down its pipeline gracefully
// instead of leaving a half-written snapshot behind.
func interruptContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

var rootCmd = &cobra.Command{
	Use:   "sxbackup",
	Short: "btrfs snapshot backup orchestrator",
}

// config command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage daemon configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize daemon configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View daemon configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Log dir:                       %s\n", cfg.LogDir)
		fmt.Printf("History DB:                    %s\n", cfg.HistoryDBPath)
		fmt.Printf("Default source retention:      %s\n", cfg.DefaultSourceRetention)
		fmt.Printf("Default destination retention: %s\n", cfg.DefaultDestinationRetention)
		fmt.Printf("Default compress:              %v\n", cfg.DefaultCompress)
		return nil
	},
}

// init command

var initCmd = &cobra.Command{
	Use:   "init SOURCE_SUBVOLUME DESTINATION",
	Short: "Create a new backup job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sourceRetention, _ := cmd.Flags().GetString("source-retention")
		destRetention, _ := cmd.Flags().GetString("destination-retention")
		compress, _ := cmd.Flags().GetBool("compress")

		opts := sx.InitOptions{
			SourceEndpointURL:      args[0],
			DestinationEndpointURL: args[1],
			SourceRetention:        sourceRetention,
			DestinationRetention:   destRetention,
			Compress:               compress,
		}
		if err := a.Init(opts); err != nil {
			return fmt.Errorf("initializing job: %w", err)
		}

		fmt.Printf("Job initialized: %s -> %s\n", args[0], args[1])
		return nil
	},
}

// update command

var updateCmd = &cobra.Command{
	Use:   "update LOCATION",
	Short: "Update retention or compression settings for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var opts sx.UpdateOptions
		if v, _ := cmd.Flags().GetString("source-retention"); v != "" {
			opts.SourceRetention = &v
		}
		if v, _ := cmd.Flags().GetString("destination-retention"); v != "" {
			opts.DestinationRetention = &v
		}
		if cmd.Flags().Changed("compress") {
			v, _ := cmd.Flags().GetBool("compress")
			opts.Compress = &v
		}

		if err := a.Update(args[0], opts); err != nil {
			return fmt.Errorf("updating job: %w", err)
		}

		fmt.Println("Job updated.")
		return nil
	},
}

// run / transfer command

func runCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " LOCATION",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commandRan = true
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := interruptContext()
			defer cancel()

			result, err := a.Run(ctx, args[0])
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}

			kind := "incremental"
			if result.FullTransfer {
				kind = "full"
			}
			fmt.Printf("Created and transferred snapshot %s (%s transfer)\n", result.NewSnapshot.Name(), kind)
			if len(result.SourceDropped) > 0 {
				fmt.Printf("Retention removed %d source snapshot(s)\n", len(result.SourceDropped))
			}
			if len(result.DestDropped) > 0 {
				fmt.Printf("Retention removed %d destination snapshot(s)\n", len(result.DestDropped))
			}
			return nil
		},
	}
}

// info command

var infoCmd = &cobra.Command{
	Use:   "info LOCATION",
	Short: "Show job configuration and snapshot inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.Info(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job:                 %s\n", info.Descriptor.UUID)
		fmt.Printf("Source:              %s (%s)\n", info.SourceEndpointName, info.Descriptor.SourceContainerPath)
		if info.SourceToolVersions != "" {
			fmt.Printf("  %s\n", info.SourceToolVersions)
		}
		fmt.Printf("Destination:         %s (%s)\n", info.DestEndpointName, info.Descriptor.DestinationContainerPath)
		if info.DestToolVersions != "" {
			fmt.Printf("  %s\n", info.DestToolVersions)
		}
		fmt.Printf("Source retention:      %s\n", info.Descriptor.SourceRetention)
		fmt.Printf("Destination retention: %s\n", info.Descriptor.DestinationRetention)
		fmt.Printf("Compress:            %v\n", info.Descriptor.Compress)
		fmt.Printf("Last sync:           %s\n", info.Descriptor.LastSyncName)
		fmt.Println()
		width := terminalWidth()
		fmt.Printf("Source snapshots (%d):\n", len(info.SourceSnapshots))
		printSnapshotColumns(info.SourceSnapshots, width)
		fmt.Printf("Destination snapshots (%d):\n", len(info.DestSnapshots))
		printSnapshotColumns(info.DestSnapshots, width)
		return nil
	},
}

// printSnapshotColumns lays out snapshot names in as many fixed-width
// columns as fit in width, the way `ls` packs a directory listing.
func printSnapshotColumns(snaps []sx.Snapshot, width int) {
	if len(snaps) == 0 {
		fmt.Println("  (none)")
		return
	}

	const nameWidth = len("sx-20060102-150405-utc") + 2
	cols := width / nameWidth
	if cols < 1 {
		cols = 1
	}

	for i, s := range snaps {
		if i%cols == 0 {
			fmt.Print("  ")
		}
		fmt.Printf("%-*s", nameWidth, s.Name())
		if i%cols == cols-1 || i == len(snaps)-1 {
			fmt.Println()
		}
	}
}

// purge command

var purgeCmd = &cobra.Command{
	Use:   "purge LOCATION",
	Short: "Apply retention policy without transferring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sourceOverride, _ := cmd.Flags().GetString("source-retention")
		destOverride, _ := cmd.Flags().GetString("destination-retention")

		sourceDropped, destDropped, err := a.Purge(args[0], sx.PurgeOptions{
			SourceRetentionOverride:      sourceOverride,
			DestinationRetentionOverride: destOverride,
		})
		if err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}

		fmt.Printf("Removed %d source snapshot(s), %d destination snapshot(s)\n", len(sourceDropped), len(destDropped))
		return nil
	},
}

// destroy command

var destroyCmd = &cobra.Command{
	Use:   "destroy LOCATION",
	Short: "Remove a job and optionally its managed snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		purge, _ := cmd.Flags().GetBool("purge")

		prompt := fmt.Sprintf("Remove job at %s?", args[0])
		if purge {
			prompt = fmt.Sprintf("Remove job at %s and delete every managed snapshot?", args[0])
		}
		if !confirm(prompt) {
			fmt.Println("Aborted.")
			return nil
		}

		skipped, err := a.Destroy(args[0], purge)
		if err != nil {
			return fmt.Errorf("destroy failed: %w", err)
		}

		if skipped {
			fmt.Println("Job removed. Destination was unreachable; its state was left as-is.")
		} else {
			fmt.Println("Job removed.")
		}
		return nil
	},
}

// history command

var historyCmd = &cobra.Command{
	Use:   "history LOCATION",
	Short: "Show recorded run history for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.Info(args[0])
		if err != nil {
			return err
		}

		runs, err := a.History(info.Descriptor.UUID, limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt.Valid {
				duration = r.FinishedAt.Time.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-10s  %s\n",
				r.ID, r.Operation, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, duration)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	initCmd.Flags().String("source-retention", "", "Source retention expression (defaults to daemon config)")
	initCmd.Flags().String("destination-retention", "", "Destination retention expression (defaults to daemon config)")
	initCmd.Flags().Bool("compress", false, "Compress the transfer stream")
	rootCmd.AddCommand(initCmd)

	updateCmd.Flags().String("source-retention", "", "New source retention expression")
	updateCmd.Flags().String("destination-retention", "", "New destination retention expression")
	updateCmd.Flags().Bool("compress", false, "Compress the transfer stream")
	rootCmd.AddCommand(updateCmd)

	rootCmd.AddCommand(runCommand("run", "Take a snapshot, transfer it, and apply retention"))
	rootCmd.AddCommand(runCommand("transfer", "Alias of run"))

	rootCmd.AddCommand(infoCmd)

	purgeCmd.Flags().String("source-retention", "", "Override source retention for this purge")
	purgeCmd.Flags().String("destination-retention", "", "Override destination retention for this purge")
	rootCmd.AddCommand(purgeCmd)

	destroyCmd.Flags().Bool("purge", false, "Remove every managed snapshot before removing the job")
	rootCmd.AddCommand(destroyCmd)

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(historyCmd)
}
