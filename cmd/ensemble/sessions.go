package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	sessionsLimit     int
	sessionsOlderThan time.Duration
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect persisted sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently updated sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		ids, err := db.ListSessionIDs(ctx, sessionsLimit)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions yet. Run 'ensemble run <message>' to start one.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tTURNS\tCOST\tEVENTS\tUPDATED")
		for _, id := range ids {
			rec, err := db.LoadSession(ctx, id)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t$%.4f\t%d\t%s\n", rec.SessionID, rec.TurnIndex, rec.CostUSD, len(rec.Events), rec.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's history and event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		rec, err := db.LoadSession(context.Background(), args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("session %s not found", args[0])
		}

		out := cmd.OutOrStdout()
		color.New(color.Bold).Fprintf(out, "Session %s\n", rec.SessionID)
		fmt.Fprintf(out, "Turns: %d  Cost: $%.4f  Updated: %s\n\n", rec.TurnIndex, rec.CostUSD, rec.UpdatedAt.Local().Format(time.RFC3339))
		for i, h := range rec.History {
			fmt.Fprintf(out, "%d. %s\n", i+1, h.UserMessage)
			if h.Summary != "" {
				color.New(color.Faint).Fprintf(out, "   %s\n", firstLine(h.Summary, 100))
			}
		}
		if len(rec.Events) > 0 {
			fmt.Fprintln(out)
			p := newEventPrinter(out)
			for _, e := range rec.Events {
				p.print(e)
			}
		}
		return nil
	},
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete sessions and metrics older than a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionsOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		sessions, err := db.PurgeOldSessions(ctx, sessionsOlderThan)
		if err != nil {
			return err
		}
		records, err := db.PurgeMetrics(ctx, sessionsOlderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d sessions and %d metric records.\n", sessions, records)
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")
	sessionsPurgeCmd.Flags().DurationVar(&sessionsOlderThan, "older-than", 30*24*time.Hour, "Age threshold")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsPurgeCmd)
}
