package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known completed-action tags. Other lowercase tags are accepted.
const (
	ActionWorkout  = "workout"
	ActionShot     = "shot"
	ActionMealPrep = "meal_prep"
	ActionSteps    = "steps"
)

// maxActionLen bounds a single action tag.
const maxActionLen = 64

// DailyProgress is the per-user, per-day record. It is created lazily the
// first time a value is written for a day.
type DailyProgress struct {
	// ===== Natural key =====
	UserID string `json:"user_id"`
	Date   string `json:"date"` // YYYY-MM-DD

	// ===== Counters =====
	WaterMl     int     `json:"water_ml"`
	Calories    int     `json:"calories"`
	WeightKg    float64 `json:"weight_kg,omitempty"`
	Supplements int     `json:"supplements"`

	// ===== Completed actions (sorted set) =====
	Actions []string `json:"actions,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewDailyProgress returns the empty record for a user's day.
func NewDailyProgress(userID, date string) *DailyProgress {
	return &DailyProgress{UserID: userID, Date: date, Actions: []string{}}
}

// Key returns the record's natural key.
func (d *DailyProgress) Key() NaturalKey {
	return ProgressKey(d.UserID, d.Date)
}

// Validate checks if the record has valid field values.
func (d *DailyProgress) Validate() error {
	if err := d.Key().ValidateFor(KindProgress); err != nil {
		return err
	}
	if d.WaterMl < 0 {
		return fmt.Errorf("water_ml must not be negative (got %d)", d.WaterMl)
	}
	if d.Calories < 0 {
		return fmt.Errorf("calories must not be negative (got %d)", d.Calories)
	}
	if d.WeightKg < 0 || d.WeightKg > 700 {
		return fmt.Errorf("weight_kg must be between 0 and 700 (got %g)", d.WeightKg)
	}
	if d.Supplements < 0 {
		return fmt.Errorf("supplements must not be negative (got %d)", d.Supplements)
	}
	for _, a := range d.Actions {
		if err := validateAction(a); err != nil {
			return err
		}
	}
	return nil
}

// HasAction reports whether tag is in the completed set.
func (d *DailyProgress) HasAction(tag string) bool {
	i := sort.SearchStrings(d.Actions, tag)
	return i < len(d.Actions) && d.Actions[i] == tag
}

// ProgressPatch is a partial day update. Nil counters are left untouched.
// Complete adds tags to the completed set, Uncomplete removes them;
// Uncomplete is applied after Complete.
type ProgressPatch struct {
	WaterMl     *int     `json:"water_ml,omitempty"`
	Calories    *int     `json:"calories,omitempty"`
	WeightKg    *float64 `json:"weight_kg,omitempty"`
	Supplements *int     `json:"supplements,omitempty"`
	Complete    []string `json:"complete,omitempty"`
	Uncomplete  []string `json:"uncomplete,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (pp ProgressPatch) IsEmpty() bool {
	return pp.WaterMl == nil && pp.Calories == nil && pp.WeightKg == nil &&
		pp.Supplements == nil && len(pp.Complete) == 0 && len(pp.Uncomplete) == 0
}

// Validate checks the tags carried by the patch.
func (pp ProgressPatch) Validate() error {
	for _, a := range append(append([]string{}, pp.Complete...), pp.Uncomplete...) {
		if err := validateAction(NormalizeAction(a)); err != nil {
			return err
		}
	}
	return nil
}

// Apply copies every non-nil counter onto the record and updates the action set.
func (d *DailyProgress) Apply(pp ProgressPatch) {
	if pp.WaterMl != nil {
		d.WaterMl = *pp.WaterMl
	}
	if pp.Calories != nil {
		d.Calories = *pp.Calories
	}
	if pp.WeightKg != nil {
		d.WeightKg = *pp.WeightKg
	}
	if pp.Supplements != nil {
		d.Supplements = *pp.Supplements
	}

	set := make(map[string]struct{}, len(d.Actions)+len(pp.Complete))
	for _, a := range d.Actions {
		set[a] = struct{}{}
	}
	for _, a := range pp.Complete {
		set[NormalizeAction(a)] = struct{}{}
	}
	for _, a := range pp.Uncomplete {
		delete(set, NormalizeAction(a))
	}
	actions := make([]string, 0, len(set))
	for a := range set {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	d.Actions = actions
}

// Touch stamps the record as modified at now.
func (d *DailyProgress) Touch(now time.Time) {
	d.UpdatedAt = now
}

// NormalizeAction lowercases and trims a tag, mapping spaces and dashes to underscores.
func NormalizeAction(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(tag)
}

func validateAction(tag string) error {
	if tag == "" {
		return fmt.Errorf("action tag must not be empty")
	}
	if len(tag) > maxActionLen {
		return fmt.Errorf("action tag must be %d characters or less (got %d)", maxActionLen, len(tag))
	}
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return fmt.Errorf("action tag %q may only contain a-z, 0-9 and _", tag)
		}
	}
	return nil
}
