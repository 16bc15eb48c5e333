package ui

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

// ProfileValues holds the editable profile fields as form strings.
type ProfileValues struct {
	Age             string
	HeightCm        string
	StartWeightKg   string
	CurrentWeightKg string
	TargetWeightKg  string
	Activity        schema.ActivityLevel
	Goal            schema.Goal
}

// ProfileValuesFrom seeds form values from the current profile.
func ProfileValuesFrom(p *schema.UserProfile) ProfileValues {
	return ProfileValues{
		Age:             formatInt(p.Age),
		HeightCm:        formatFloat(p.HeightCm),
		StartWeightKg:   formatFloat(p.StartWeightKg),
		CurrentWeightKg: formatFloat(p.CurrentWeightKg),
		TargetWeightKg:  formatFloat(p.TargetWeightKg),
		Activity:        p.Activity,
		Goal:            p.Goal,
	}
}

// Patch returns a patch holding only the fields that differ from p.
func (v ProfileValues) Patch(p *schema.UserProfile) (schema.ProfilePatch, error) {
	var patch schema.ProfilePatch

	if age, err := parseInt(v.Age); err != nil {
		return patch, fmt.Errorf("age: %w", err)
	} else if age != p.Age {
		patch.Age = &age
	}

	floats := []struct {
		name string
		in   string
		cur  float64
		dst  **float64
	}{
		{"height", v.HeightCm, p.HeightCm, &patch.HeightCm},
		{"start weight", v.StartWeightKg, p.StartWeightKg, &patch.StartWeightKg},
		{"current weight", v.CurrentWeightKg, p.CurrentWeightKg, &patch.CurrentWeightKg},
		{"target weight", v.TargetWeightKg, p.TargetWeightKg, &patch.TargetWeightKg},
	}
	for _, f := range floats {
		val, err := parseFloat(f.in)
		if err != nil {
			return patch, fmt.Errorf("%s: %w", f.name, err)
		}
		if val != f.cur {
			*f.dst = &val
		}
	}

	if v.Activity != p.Activity {
		a := v.Activity
		patch.Activity = &a
	}
	if v.Goal != p.Goal {
		g := v.Goal
		patch.Goal = &g
	}
	return patch, nil
}

// EditProfile runs an interactive form over the profile and returns the
// resulting patch. It requires a terminal.
func EditProfile(p *schema.UserProfile) (schema.ProfilePatch, error) {
	if !IsInteractive() {
		return schema.ProfilePatch{}, fmt.Errorf("profile edit needs an interactive terminal; use 'profile set' instead")
	}

	v := ProfileValuesFrom(p)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Age").Value(&v.Age).Validate(validateInt),
			huh.NewInput().Title("Height (cm)").Value(&v.HeightCm).Validate(validateFloat),
		),
		huh.NewGroup(
			huh.NewInput().Title("Start weight (kg)").Value(&v.StartWeightKg).Validate(validateFloat),
			huh.NewInput().Title("Current weight (kg)").Value(&v.CurrentWeightKg).Validate(validateFloat),
			huh.NewInput().Title("Target weight (kg)").Value(&v.TargetWeightKg).Validate(validateFloat),
		),
		huh.NewGroup(
			huh.NewSelect[schema.ActivityLevel]().
				Title("Activity level").
				Options(huh.NewOptions(schema.ActivityLevels...)...).
				Value(&v.Activity),
			huh.NewSelect[schema.Goal]().
				Title("Goal").
				Options(huh.NewOptions(schema.Goals...)...).
				Value(&v.Goal),
		),
	).WithAccessible(os.Getenv("ACCESSIBLE") != "")

	if err := form.Run(); err != nil {
		return schema.ProfilePatch{}, err
	}
	return v.Patch(p)
}

func validateInt(s string) error {
	_, err := parseInt(s)
	return err
}

func validateFloat(s string) error {
	_, err := parseFloat(s)
	return err
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a whole number: %q", s)
	}
	return n, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

func formatInt(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Confirm asks a yes/no question. It requires a terminal.
func Confirm(title, description string) (bool, error) {
	if !IsInteractive() {
		return false, fmt.Errorf("confirmation needs an interactive terminal; pass --force")
	}
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).WithAccessible(os.Getenv("ACCESSIBLE") != "").Run()
	return ok, err
}
