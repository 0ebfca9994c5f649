package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/herald/pkg/client"
	"github.com/cuemby/herald/pkg/recurrence"
	"github.com/cuemby/herald/pkg/types"
	"github.com/spf13/cobra"
)

var reminderCmd = &cobra.Command{
	Use:   "reminder",
	Short: "Compile and manage reminders",
}

var reminderCompileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Show the schedule a reminder description compiles to",
	Long: `Compile a reminder description into the schedule the queue would run,
without contacting a server.

Examples:
  # Every Monday and Friday at 09:30 local time
  herald reminder compile --time 09:30 --type weekly --days monday,friday

  # Daily for 5 repetitions starting on a date
  herald reminder compile --time 08:00 --type limited --start-date 2025-03-01 \
    --ends after_repetitions --ends-value 5

  # A single run
  herald reminder compile --time 18:45 --one-time-date 2025-12-24`,
	RunE: runReminderCompile,
}

var reminderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's reminders",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		reminders, err := c.ListReminders(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list reminders: %v", err)
		}

		if len(reminders) == 0 {
			fmt.Println("No reminders found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTIME\tRECURRENCE\tDESCRIPTION")
		for _, r := range reminders {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.Time, recurrenceType(r), r.TaskDescription)
		}
		return w.Flush()
	},
}

var reminderCancelCmd = &cobra.Command{
	Use:   "cancel REMINDER_ID",
	Short: "Cancel a reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		res, err := c.CancelReminder(ctx, userID, args[0])
		if err != nil {
			return fmt.Errorf("failed to cancel reminder: %v", err)
		}
		if !res.Success {
			return fmt.Errorf("failed to cancel reminder: %s", res.Message)
		}

		fmt.Printf("✓ Reminder %s cancelled\n", args[0])
		return nil
	},
}

func init() {
	reminderCompileCmd.Flags().String("time", "", "Time of day as HH:mm (required)")
	reminderCompileCmd.Flags().String("type", "", "Recurrence type: once, daily, weekly, limited")
	reminderCompileCmd.Flags().StringSlice("days", nil, "Weekdays for weekly reminders")
	reminderCompileCmd.Flags().String("start-date", "", "First day of a limited reminder (YYYY-MM-DD)")
	reminderCompileCmd.Flags().String("one-time-date", "", "Date of a one-time reminder (YYYY-MM-DD)")
	reminderCompileCmd.Flags().String("ends", "", "End condition: after_repetitions or on_date")
	reminderCompileCmd.Flags().String("ends-value", "", "Repetition count or end date")
	reminderCompileCmd.Flags().String("timezone", "", "Time zone of the wall-clock values (default from config)")
	reminderCompileCmd.Flags().IntP("count", "n", 5, "Number of upcoming runs to print")
	_ = reminderCompileCmd.MarkFlagRequired("time")

	for _, c := range []*cobra.Command{reminderListCmd, reminderCancelCmd} {
		c.Flags().String("addr", "127.0.0.1:7070", "Server gRPC address")
		c.Flags().String("user", "", "User ID (required)")
		_ = c.MarkFlagRequired("user")
	}

	reminderCmd.AddCommand(reminderCompileCmd)
	reminderCmd.AddCommand(reminderListCmd)
	reminderCmd.AddCommand(reminderCancelCmd)
}

func runReminderCompile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tz, _ := cmd.Flags().GetString("timezone")
	if tz == "" {
		tz = cfg.Timezone
	}
	loc, err := recurrence.LoadLocation(tz)
	if err != nil {
		return err
	}

	req, err := compileRequest(cmd)
	if err != nil {
		return err
	}

	sched, err := recurrence.NewCompiler(loc).Compile(req)
	if err != nil {
		return err
	}

	count, _ := cmd.Flags().GetInt("count")
	printSchedule(sched, loc, count)
	return nil
}

func compileRequest(cmd *cobra.Command) (recurrence.Request, error) {
	hhmm, _ := cmd.Flags().GetString("time")
	kind, _ := cmd.Flags().GetString("type")
	days, _ := cmd.Flags().GetStringSlice("days")
	startDate, _ := cmd.Flags().GetString("start-date")
	oneTimeDate, _ := cmd.Flags().GetString("one-time-date")
	endsType, _ := cmd.Flags().GetString("ends")
	endsValue, _ := cmd.Flags().GetString("ends-value")

	req := recurrence.Request{
		Time:        hhmm,
		OneTimeDate: oneTimeDate,
	}
	if kind != "" || len(days) > 0 || startDate != "" {
		req.Recurrence = &types.Recurrence{
			Type:      types.RecurrenceType(strings.ToLower(kind)),
			Days:      days,
			StartDate: startDate,
		}
	}
	if endsType != "" {
		if endsValue == "" {
			return req, fmt.Errorf("--ends-value is required with --ends")
		}
		req.Ends = &types.Ends{Type: types.EndsType(endsType), Value: endsValue}
	}
	return req, nil
}

func printSchedule(sched recurrence.Schedule, loc *time.Location, count int) {
	if sched.Kind == recurrence.KindOnce {
		fmt.Println("Kind:    once")
		fmt.Printf("Run at:  %s (%s)\n", sched.RunAt.Format(time.RFC3339), sched.RunAt.In(loc).Format(time.RFC3339))
		fmt.Printf("Delay:   %s\n", sched.Delay.Round(time.Second))
		return
	}

	rule := sched.Repeat
	fmt.Println("Kind:    repeat")
	fmt.Printf("Pattern: %s (UTC)\n", rule.Pattern)
	if rule.StartDate != nil {
		fmt.Printf("Starts:  %s\n", rule.StartDate.Format(time.RFC3339))
	}
	if rule.EndDate != nil {
		fmt.Printf("Ends:    %s\n", rule.EndDate.Format(time.RFC3339))
	}

	runs := recurrence.NextRuns(rule, time.Now(), count)
	if len(runs) == 0 {
		fmt.Println("No upcoming runs")
		return
	}
	fmt.Println("Next runs:")
	for _, t := range runs {
		fmt.Printf("  %s  (%s)\n", t.UTC().Format(time.RFC3339), t.In(loc).Format("Mon 2006-01-02 15:04 MST"))
	}
}

func recurrenceType(r *types.Reminder) string {
	if r.Recurrence == nil || r.Recurrence.Type == "" {
		if r.OneTimeDate != "" {
			return string(types.RecurrenceOnce)
		}
		return "-"
	}
	return string(r.Recurrence.Type)
}

func dial(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	c, err := client.NewClient(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %v", err)
	}
	return c, nil
}
