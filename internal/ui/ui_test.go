package ui

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	m.Run()
}

func TestBadges(t *testing.T) {
	if got := ConnectivityBadge(true); got != "● online" {
		t.Errorf("ConnectivityBadge(true) = %q", got)
	}
	if got := ConnectivityBadge(false); got != "○ offline" {
		t.Errorf("ConnectivityBadge(false) = %q", got)
	}

	tests := []struct {
		pending, dead int
		want          string
	}{
		{0, 0, ""},
		{3, 0, "3 pending"},
		{0, 1, "1 rejected"},
		{2, 1, "2 pending 1 rejected"},
	}
	for _, tt := range tests {
		if got := PendingBadge(tt.pending, tt.dead); got != tt.want {
			t.Errorf("PendingBadge(%d, %d) = %q, want %q", tt.pending, tt.dead, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"toml", FormatTOML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestPrint(t *testing.T) {
	day := schema.NewDailyProgress("user-1", "2024-06-01")
	day.WaterMl = 1000
	day.Actions = []string{"workout"}

	tests := []struct {
		format Format
		want   []string
	}{
		{FormatJSON, []string{`"water_ml": 1000`, `"date": "2024-06-01"`}},
		{FormatYAML, []string{"water_ml: 1000", "2024-06-01", "- workout"}},
		{FormatTOML, []string{"water_ml = 1000", `date = "2024-06-01"`, `actions = ["workout"]`}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Print(&buf, tt.format, day, nil); err != nil {
				t.Fatalf("Print failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
		})
	}
}

func TestPrint_TOMLWrapsLists(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(&buf, FormatTOML, []string{"2024-06-01", "2024-06-02"}, nil); err != nil {
		t.Fatalf("Print failed: %v", err)
	}
	if !strings.Contains(buf.String(), `items = ["2024-06-01", "2024-06-02"]`) {
		t.Errorf("output = %s", buf.String())
	}
}

func TestPrint_Text(t *testing.T) {
	var buf bytes.Buffer
	err := Print(&buf, FormatText, nil, func(w io.Writer) error {
		_, err := io.WriteString(w, "hello")
		return err
	})
	if err != nil || buf.String() != "hello" {
		t.Errorf("Print text = %q, %v", buf.String(), err)
	}
}

func TestProfileValues_Patch(t *testing.T) {
	p := schema.NewUserProfile("user-1")
	p.Age = 30
	p.CurrentWeightKg = 80

	v := ProfileValuesFrom(p)
	patch, err := v.Patch(p)
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if !patch.IsEmpty() {
		t.Errorf("unchanged values should produce an empty patch: %+v", patch)
	}

	v.CurrentWeightKg = "78.5"
	v.Goal = schema.GoalMaintain
	patch, err = v.Patch(p)
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if patch.CurrentWeightKg == nil || *patch.CurrentWeightKg != 78.5 {
		t.Errorf("CurrentWeightKg = %v", patch.CurrentWeightKg)
	}
	if patch.Goal == nil || *patch.Goal != schema.GoalMaintain {
		t.Errorf("Goal = %v", patch.Goal)
	}
	if patch.Age != nil {
		t.Errorf("Age should be untouched, got %d", *patch.Age)
	}

	v.Age = "thirty"
	if _, err := v.Patch(p); err == nil {
		t.Error("expected error for non-numeric age")
	}
}
