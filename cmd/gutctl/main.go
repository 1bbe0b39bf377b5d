package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gutlog/backend/internal/app"
	"github.com/gutlog/backend/pkg/config"
	appLogger "github.com/gutlog/backend/pkg/logger"
)

var (
	configPath string
	asJSON     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gutctl",
		Short:         "Classify stool photos and inspect the gut log",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return appLogger.Init("warn", "console", "stderr")
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")

	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(weeklyCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(tipCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openApp(ctx context.Context, withModel bool) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if withModel {
		return app.New(ctx, cfg)
	}
	return app.OpenReadOnly(ctx, cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <image>",
		Short: "Classify a photo and add it to the log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			saved, err := a.Uploads.Save(filepath.Base(args[0]), data, time.Now())
			if err != nil {
				return err
			}

			p, err := a.Tracker.ClassifyAndLog(ctx, data, saved.Ref)
			if err != nil {
				a.Uploads.Remove(saved)
				return err
			}

			if asJSON {
				return printJSON(p)
			}
			fmt.Printf("#%d %s (%.2f%%)\n", p.ID, p.Label, p.Confidence*100)
			fmt.Printf("Image: %s\n", p.ImageURL)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List logged classifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Tracker.History(ctx)
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			if asJSON {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("No logs yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tLABEL\tCONFIDENCE")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\n", e.ID, e.Timestamp.In(a.Location).Format("2006-01-02 15:04"), e.Label, e.Confidence)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max entries to show (0 for all)")
	return cmd
}

func weeklyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weekly",
		Short: "Show the last seven days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			week, err := a.Tracker.WeeklyView(ctx, time.Now())
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(map[string]any{"week_logs": week})
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, d := range week {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Date, d.Time, d.Label)
			}
			return w.Flush()
		},
	}
}

func calendarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calendar",
		Short: "Show log counts per day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := a.Tracker.CalendarCounts(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(counts)
			}
			days := make([]string, 0, len(counts))
			for d := range counts {
				days = append(days, d)
			}
			sort.Strings(days)
			for _, d := range days {
				fmt.Printf("%s  %d\n", d, counts[d])
			}
			return nil
		},
	}
}

func tipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tip",
		Short: "Advice based on yesterday's most recent log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			tip, err := a.Tracker.DailyTip(ctx, time.Now())
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(tip)
			}
			fmt.Printf("%s: %s\n", tip.Status, tip.Tip)
			return nil
		},
	}
}
