package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"evolve/internal/domain"
	"evolve/internal/store"
)

const clockLayout = "2006-01-02 15:04"

func scanCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one reminder cycle now and print the report",
		Long: `Runs a single reminder scan outside the scheduler. Recipients are not
connected to this process, so every reminder is recorded as undelivered;
use it to check which tasks are due and what the generator writes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now().In(a.loc)
			if at != "" {
				if now, err = time.ParseInLocation(clockLayout, at, a.loc); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}

			report, err := a.service.RunCycle(cmd.Context(), now)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", `scan as if the local time were this ("2006-01-02 15:04")`)
	return cmd
}

// openStore opens the configured database without the rest of the app.
func openStore() (*store.Store, *time.Location, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Reminders.Location()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, loc, nil
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(taskAddCmd(), taskListCmd(), taskStatusCmd())
	return cmd
}

func taskAddCmd() *cobra.Command {
	var (
		user, desc, date, clock, priority string
		spent                             int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a task for a recipient",
		Example: `  evolve task add --user 42 --desc "Write report" --time 15:30
  evolve task add --user 42 --desc "Gym" --date 2025-03-04 --time 07:00 --priority High`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, loc, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			it := domain.ScheduledItem{
				RecipientID:   user,
				Description:   desc,
				Priority:      domain.Priority(priority),
				ActualMinutes: spent,
			}
			day := time.Now().In(loc)
			if date != "" {
				if day, err = time.ParseInLocation("2006-01-02", date, loc); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			civil := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
			it.ScheduledDate = &civil
			if clock != "" {
				tod, err := domain.ParseTimeOfDay(clock)
				if err != nil {
					return fmt.Errorf("--time: %w", err)
				}
				it.ScheduledTime = &tod
			}

			id, err := st.CreateTask(cmd.Context(), it)
			if err != nil {
				return err
			}
			if due, ok := it.DueAt(loc); ok {
				fmt.Printf("task %d scheduled for %s (%s)\n", id, due.Format(clockLayout), humanize.Time(due))
			} else {
				fmt.Printf("task %d added without a time; it will not be reminded\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "recipient id (required)")
	cmd.Flags().StringVar(&desc, "desc", "", "task description (required)")
	cmd.Flags().StringVar(&date, "date", "", "scheduled date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&clock, "time", "", "scheduled time HH:MM")
	cmd.Flags().StringVar(&priority, "priority", string(domain.PriorityMedium), "Low | Medium | High | Urgent")
	cmd.Flags().IntVar(&spent, "spent", 0, "minutes already spent; postpones the reminder")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("desc")
	return cmd
}

func taskListCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks scheduled for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, loc, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			day := time.Now().In(loc)
			if date != "" {
				if day, err = time.ParseInLocation("2006-01-02", date, loc); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			items, err := st.TasksScheduledOn(cmd.Context(), day)
			if err != nil {
				return err
			}
			return printTasks(items, loc, time.Now())
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to list YYYY-MM-DD (default: today)")
	return cmd
}

func printTasks(items []domain.ScheduledItem, loc *time.Location, now time.Time) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tDUE\tPRIORITY\tSTATUS\tDESCRIPTION")
	for _, it := range items {
		due := "-"
		if at, ok := it.DueAt(loc); ok {
			due = at.Format("15:04") + " (" + humanize.RelTime(at, now, "ago", "from now") + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", it.ID, it.RecipientID, due, it.Priority, it.Status, it.Description)
	}
	return tw.Flush()
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [id] [status]",
		Short: "Set a task's status (Pending, In Progress, Completed, Cancelled, Discarded)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			status, err := parseStatus(args[1])
			if err != nil {
				return err
			}
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SetTaskStatus(cmd.Context(), id, status); err != nil {
				return err
			}
			fmt.Printf("task %d is now %s\n", id, status)
			return nil
		},
	}
}

func parseStatus(s string) (domain.Status, error) {
	for _, st := range []domain.Status{
		domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted,
		domain.StatusCancelled, domain.StatusDiscarded,
	} {
		if strings.EqualFold(strings.ReplaceAll(s, "_", " "), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func notificationsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications [user_id]",
		Short: "Show the most recent notifications recorded for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			recs, err := st.ListNotifications(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Printf("no notifications for %s\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SENT\tDELIVERED\tTASK\tMESSAGE")
			for _, r := range recs {
				task := "-"
				if r.ItemID != 0 {
					task = strconv.FormatInt(r.ItemID, 10)
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", humanize.Time(r.SentAt), r.Delivered, task, truncateText(r.Message, 80))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	return cmd
}

func truncateText(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

