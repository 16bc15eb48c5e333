package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "data",
	Short:   "Show or edit your profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current profile",
	Run: func(cmd *cobra.Command, args []string) {
		format := outputFormat()
		s := mustOpenSession(context.Background())

		p, err := s.repo.GetProfile(s.cfg.UserID)
		if err != nil {
			s.fail("%v", err)
		}
		status := s.engine.Status()
		s.Close()

		if err := ui.Print(os.Stdout, format, p, func(w io.Writer) error {
			printProfile(w, p, status.Online, status.Pending, status.DeadLetters)
			return nil
		}); err != nil {
			exitf("%v", err)
		}
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update profile fields",
	Long: `Update one or more profile fields. Only the flags you pass change.

Example:
  cutburn profile set --current-weight 82.4 --goal lose`,
	Run: func(cmd *cobra.Command, args []string) {
		patch, err := profilePatchFromFlags(cmd)
		if err != nil {
			exitf("%v", err)
		}
		if patch.IsEmpty() {
			exitf("nothing to update (see --help for fields)")
		}
		applyProfilePatch(patch)
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the profile interactively",
	Run: func(cmd *cobra.Command, args []string) {
		s := mustOpenSession(context.Background())
		p, err := s.repo.GetProfile(s.cfg.UserID)
		if err != nil {
			s.fail("%v", err)
		}

		patch, err := ui.EditProfile(p)
		if err != nil {
			s.fail("%v", err)
		}
		if patch.IsEmpty() {
			s.Close()
			fmt.Println("No changes")
			return
		}
		updateProfile(s, patch)
	},
}

func init() {
	addProfileSetFlags(profileSetCmd)

	profileCmd.AddCommand(profileShowCmd, profileSetCmd, profileEditCmd)
	rootCmd.AddCommand(profileCmd)
}

func addProfileSetFlags(cmd *cobra.Command) {
	cmd.Flags().Int("age", 0, "Age in years")
	cmd.Flags().Float64("height", 0, "Height in cm")
	cmd.Flags().Float64("start-weight", 0, "Start weight in kg")
	cmd.Flags().Float64("current-weight", 0, "Current weight in kg")
	cmd.Flags().Float64("target-weight", 0, "Target weight in kg")
	cmd.Flags().String("activity", "", "Activity level: sedentary, light, moderate, active, very_active")
	cmd.Flags().String("goal", "", "Goal: lose, maintain, gain")
}

// profilePatchFromFlags builds a patch from the flags that were set.
func profilePatchFromFlags(cmd *cobra.Command) (schema.ProfilePatch, error) {
	var patch schema.ProfilePatch
	flags := cmd.Flags()

	if flags.Changed("age") {
		v, _ := flags.GetInt("age")
		patch.Age = &v
	}
	floats := []struct {
		name string
		dst  **float64
	}{
		{"height", &patch.HeightCm},
		{"start-weight", &patch.StartWeightKg},
		{"current-weight", &patch.CurrentWeightKg},
		{"target-weight", &patch.TargetWeightKg},
	}
	for _, f := range floats {
		if flags.Changed(f.name) {
			v, _ := flags.GetFloat64(f.name)
			*f.dst = &v
		}
	}
	if flags.Changed("activity") {
		v, _ := flags.GetString("activity")
		a := schema.ActivityLevel(v)
		if !a.Valid() {
			return patch, fmt.Errorf("invalid activity level %q", v)
		}
		patch.Activity = &a
	}
	if flags.Changed("goal") {
		v, _ := flags.GetString("goal")
		g := schema.Goal(v)
		if !g.Valid() {
			return patch, fmt.Errorf("invalid goal %q", v)
		}
		patch.Goal = &g
	}
	return patch, nil
}

func applyProfilePatch(patch schema.ProfilePatch) {
	s := mustOpenSession(context.Background())
	updateProfile(s, patch)
}

func updateProfile(s *session, patch schema.ProfilePatch) {
	format := outputFormat()

	p, err := s.repo.UpdateProfile(s.cfg.UserID, patch)
	if err != nil {
		s.fail("%v", err)
	}
	status := s.settle()
	s.Close()

	if err := ui.Print(os.Stdout, format, p, func(w io.Writer) error {
		fmt.Fprintf(w, "%s Profile updated\n", ui.RenderPass("✓"))
		printProfile(w, p, status.Online, status.Pending, status.DeadLetters)
		return nil
	}); err != nil {
		exitf("%v", err)
	}
}

func printProfile(w io.Writer, p *schema.UserProfile, online bool, pending, dead int) {
	fmt.Fprintf(w, "%s %s  %s %s\n", ui.RenderAccent("Profile"), ui.RenderBold(p.UserID),
		ui.ConnectivityBadge(online), ui.PendingBadge(pending, dead))
	fmt.Fprintf(w, "  Age:            %s\n", orDash(p.Age != 0, fmt.Sprint(p.Age)))
	fmt.Fprintf(w, "  Height:         %s\n", orDash(p.HeightCm != 0, fmt.Sprintf("%g cm", p.HeightCm)))
	fmt.Fprintf(w, "  Start weight:   %s\n", orDash(p.StartWeightKg != 0, fmt.Sprintf("%g kg", p.StartWeightKg)))
	fmt.Fprintf(w, "  Current weight: %s\n", orDash(p.CurrentWeightKg != 0, fmt.Sprintf("%g kg", p.CurrentWeightKg)))
	fmt.Fprintf(w, "  Target weight:  %s\n", orDash(p.TargetWeightKg != 0, fmt.Sprintf("%g kg", p.TargetWeightKg)))
	fmt.Fprintf(w, "  Activity:       %s\n", p.Activity)
	fmt.Fprintf(w, "  Goal:           %s\n", p.Goal)
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "  %s\n", ui.RenderMuted("updated "+p.UpdatedAt.Local().Format("2006-01-02 15:04")))
	}
}

func orDash(ok bool, s string) string {
	if !ok {
		return ui.RenderMuted("-")
	}
	return s
}
