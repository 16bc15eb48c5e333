package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/ui"
)

var dayCmd = &cobra.Command{
	Use:     "day",
	GroupID: "data",
	Short:   "Show or record daily progress",
}

var dayShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a day's progress",
	Long: `Show the progress recorded for a day (default: today).

Example:
  cutburn day show --date yesterday`,
	Run: func(cmd *cobra.Command, args []string) {
		format := outputFormat()
		dateStr, _ := cmd.Flags().GetString("date")
		date := mustParseDay(dateStr)

		s := mustOpenSession(context.Background())
		d, err := s.repo.GetDayProgress(s.cfg.UserID, date)
		if err != nil {
			s.fail("%v", err)
		}
		status := s.engine.Status()
		s.Close()

		if err := ui.Print(os.Stdout, format, d, func(w io.Writer) error {
			printDay(w, d, status.Online, status.Pending, status.DeadLetters)
			return nil
		}); err != nil {
			exitf("%v", err)
		}
	},
}

var daySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Record progress for a day",
	Long: `Record progress for a day (default: today). Only the flags you pass change.

The write lands in the local cache immediately and is synced in the
background; offline writes are queued until the remote is reachable.

Examples:
  cutburn day set --water 1000
  cutburn day set --add-water 250 --complete workout
  cutburn day set --date 2024-06-01 --calories 1850 --weight 81.2`,
	Run: func(cmd *cobra.Command, args []string) {
		format := outputFormat()
		dateStr, _ := cmd.Flags().GetString("date")
		date := mustParseDay(dateStr)

		patch, addWater, err := progressPatchFromFlags(cmd)
		if err != nil {
			exitf("%v", err)
		}
		if patch.IsEmpty() && addWater == 0 {
			exitf("nothing to update (see --help for fields)")
		}

		s := mustOpenSession(context.Background())
		if addWater != 0 {
			current, err := s.repo.GetDayProgress(s.cfg.UserID, date)
			if err != nil {
				s.fail("%v", err)
			}
			water := current.WaterMl + addWater
			if patch.WaterMl != nil {
				water = *patch.WaterMl + addWater
			}
			patch.WaterMl = &water
		}

		d, err := s.repo.UpdateDayProgress(s.cfg.UserID, date, patch)
		if err != nil {
			s.fail("%v", err)
		}
		status := s.settle()
		s.Close()

		if err := ui.Print(os.Stdout, format, d, func(w io.Writer) error {
			fmt.Fprintf(w, "%s Recorded %s\n", ui.RenderPass("✓"), date)
			printDay(w, d, status.Online, status.Pending, status.DeadLetters)
			return nil
		}); err != nil {
			exitf("%v", err)
		}
	},
}

var dayListCmd = &cobra.Command{
	Use:   "list",
	Short: "List days with recorded progress",
	Run: func(cmd *cobra.Command, args []string) {
		format := outputFormat()
		s := mustOpenSession(context.Background())

		dates, err := s.repo.ListDays(s.cfg.UserID)
		if err != nil {
			s.fail("%v", err)
		}
		days := make([]*schema.DailyProgress, 0, len(dates))
		for _, date := range dates {
			d, err := s.repo.GetDayProgress(s.cfg.UserID, date)
			if err != nil {
				s.fail("%v", err)
			}
			days = append(days, d)
		}
		s.Close()

		if err := ui.Print(os.Stdout, format, days, func(w io.Writer) error {
			if len(days) == 0 {
				fmt.Fprintln(w, "No progress recorded yet")
				return nil
			}
			fmt.Fprintf(w, "%-12s %8s %8s %8s  %s\n", "DATE", "WATER", "KCAL", "WEIGHT", "ACTIONS")
			for _, d := range days {
				weight := "-"
				if d.WeightKg != 0 {
					weight = fmt.Sprintf("%g", d.WeightKg)
				}
				fmt.Fprintf(w, "%-12s %8d %8d %8s  %s\n", d.Date, d.WaterMl, d.Calories, weight, strings.Join(d.Actions, ","))
			}
			return nil
		}); err != nil {
			exitf("%v", err)
		}
	},
}

func init() {
	dayShowCmd.Flags().String("date", "", "Day to show: YYYY-MM-DD or e.g. \"yesterday\" (default today)")

	addDaySetFlags(daySetCmd)

	dayCmd.AddCommand(dayShowCmd, daySetCmd, dayListCmd)
	rootCmd.AddCommand(dayCmd)
}

func addDaySetFlags(cmd *cobra.Command) {
	cmd.Flags().String("date", "", "Day to record: YYYY-MM-DD or e.g. \"yesterday\" (default today)")
	cmd.Flags().Int("water", 0, "Water drunk in ml")
	cmd.Flags().Int("add-water", 0, "Add ml to the day's water total")
	cmd.Flags().Int("calories", 0, "Calories eaten")
	cmd.Flags().Float64("weight", 0, "Weigh-in in kg")
	cmd.Flags().Int("supplements", 0, "Supplements taken")
	cmd.Flags().StringSlice("complete", nil, "Mark actions done (workout, shot, meal_prep, steps, ...)")
	cmd.Flags().StringSlice("uncomplete", nil, "Unmark actions")
}

// progressPatchFromFlags builds a patch from the flags that were set. The
// --add-water delta is returned separately since it depends on the stored
// value.
func progressPatchFromFlags(cmd *cobra.Command) (schema.ProgressPatch, int, error) {
	var patch schema.ProgressPatch
	flags := cmd.Flags()

	ints := []struct {
		name string
		dst  **int
	}{
		{"water", &patch.WaterMl},
		{"calories", &patch.Calories},
		{"supplements", &patch.Supplements},
	}
	for _, f := range ints {
		if flags.Changed(f.name) {
			v, _ := flags.GetInt(f.name)
			*f.dst = &v
		}
	}
	if flags.Changed("weight") {
		v, _ := flags.GetFloat64("weight")
		patch.WeightKg = &v
	}
	patch.Complete, _ = flags.GetStringSlice("complete")
	patch.Uncomplete, _ = flags.GetStringSlice("uncomplete")

	if err := patch.Validate(); err != nil {
		return patch, 0, err
	}

	addWater, _ := flags.GetInt("add-water")
	return patch, addWater, nil
}

func printDay(w io.Writer, d *schema.DailyProgress, online bool, pending, dead int) {
	fmt.Fprintf(w, "%s %s  %s %s\n", ui.RenderAccent("Day"), ui.RenderBold(d.Date),
		ui.ConnectivityBadge(online), ui.PendingBadge(pending, dead))
	fmt.Fprintf(w, "  Water:       %d ml\n", d.WaterMl)
	fmt.Fprintf(w, "  Calories:    %d kcal\n", d.Calories)
	fmt.Fprintf(w, "  Weight:      %s\n", orDash(d.WeightKg != 0, fmt.Sprintf("%g kg", d.WeightKg)))
	fmt.Fprintf(w, "  Supplements: %d\n", d.Supplements)

	actions := []string{schema.ActionWorkout, schema.ActionShot, schema.ActionMealPrep, schema.ActionSteps}
	for _, a := range d.Actions {
		if !contains(actions, a) {
			actions = append(actions, a)
		}
	}
	for _, a := range actions {
		mark := ui.RenderMuted("○")
		if d.HasAction(a) {
			mark = ui.RenderPass("●")
		}
		fmt.Fprintf(w, "  %s %s\n", mark, a)
	}
	if d.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "  %s\n", ui.RenderMuted("nothing recorded"))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
