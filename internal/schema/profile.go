package schema

import (
	"fmt"
	"time"
)

// ActivityLevel is the self-reported activity level used by the macro formulas.
type ActivityLevel string

const (
	ActivitySedentary  ActivityLevel = "sedentary"
	ActivityLight      ActivityLevel = "light"
	ActivityModerate   ActivityLevel = "moderate"
	ActivityActive     ActivityLevel = "active"
	ActivityVeryActive ActivityLevel = "very_active"
)

// ActivityLevels lists every valid activity level in ascending order.
var ActivityLevels = []ActivityLevel{
	ActivitySedentary, ActivityLight, ActivityModerate, ActivityActive, ActivityVeryActive,
}

// Valid reports whether a is a known activity level.
func (a ActivityLevel) Valid() bool {
	for _, v := range ActivityLevels {
		if a == v {
			return true
		}
	}
	return false
}

// Goal is the user's weight goal.
type Goal string

const (
	GoalLose     Goal = "lose"
	GoalMaintain Goal = "maintain"
	GoalGain     Goal = "gain"
)

// Goals lists every valid goal.
var Goals = []Goal{GoalLose, GoalMaintain, GoalGain}

// Valid reports whether g is a known goal.
func (g Goal) Valid() bool {
	return g == GoalLose || g == GoalMaintain || g == GoalGain
}

// UserProfile is the per-user profile. It is created at first login and
// mutated by profile edits.
type UserProfile struct {
	UserID string `json:"user_id"`

	// ===== Physical attributes =====
	Age             int     `json:"age,omitempty"`
	HeightCm        float64 `json:"height_cm,omitempty"`
	StartWeightKg   float64 `json:"start_weight_kg,omitempty"`
	CurrentWeightKg float64 `json:"current_weight_kg,omitempty"`
	TargetWeightKg  float64 `json:"target_weight_kg,omitempty"`

	// ===== Enumerations =====
	Activity ActivityLevel `json:"activity"`
	Goal     Goal          `json:"goal"`

	// ===== Timestamps (last-write-wins) =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserProfile returns the default profile for a user with no local state.
func NewUserProfile(userID string) *UserProfile {
	p := &UserProfile{UserID: userID}
	p.SetDefaults()
	return p
}

// SetDefaults fills enumerations that were left empty.
func (p *UserProfile) SetDefaults() {
	if p.Activity == "" {
		p.Activity = ActivityModerate
	}
	if p.Goal == "" {
		p.Goal = GoalLose
	}
}

// Key returns the profile's natural key.
func (p *UserProfile) Key() NaturalKey {
	return ProfileKey(p.UserID)
}

// Validate checks if the profile has valid field values.
func (p *UserProfile) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if p.Age < 0 || p.Age > 130 {
		return fmt.Errorf("age must be between 0 and 130 (got %d)", p.Age)
	}
	if p.HeightCm < 0 || p.HeightCm > 300 {
		return fmt.Errorf("height_cm must be between 0 and 300 (got %g)", p.HeightCm)
	}
	for name, w := range map[string]float64{
		"start_weight_kg":   p.StartWeightKg,
		"current_weight_kg": p.CurrentWeightKg,
		"target_weight_kg":  p.TargetWeightKg,
	} {
		if w < 0 || w > 700 {
			return fmt.Errorf("%s must be between 0 and 700 (got %g)", name, w)
		}
	}
	if !p.Activity.Valid() {
		return fmt.Errorf("invalid activity level %q", p.Activity)
	}
	if !p.Goal.Valid() {
		return fmt.Errorf("invalid goal %q", p.Goal)
	}
	return nil
}

// ProfilePatch is a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	Age             *int           `json:"age,omitempty"`
	HeightCm        *float64       `json:"height_cm,omitempty"`
	StartWeightKg   *float64       `json:"start_weight_kg,omitempty"`
	CurrentWeightKg *float64       `json:"current_weight_kg,omitempty"`
	TargetWeightKg  *float64       `json:"target_weight_kg,omitempty"`
	Activity        *ActivityLevel `json:"activity,omitempty"`
	Goal            *Goal          `json:"goal,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (pp ProfilePatch) IsEmpty() bool {
	return pp.Age == nil && pp.HeightCm == nil && pp.StartWeightKg == nil &&
		pp.CurrentWeightKg == nil && pp.TargetWeightKg == nil &&
		pp.Activity == nil && pp.Goal == nil
}

// Apply copies every non-nil patch field onto the profile.
// A first recorded current weight also becomes the start weight.
func (p *UserProfile) Apply(pp ProfilePatch) {
	if pp.Age != nil {
		p.Age = *pp.Age
	}
	if pp.HeightCm != nil {
		p.HeightCm = *pp.HeightCm
	}
	if pp.StartWeightKg != nil {
		p.StartWeightKg = *pp.StartWeightKg
	}
	if pp.CurrentWeightKg != nil {
		p.CurrentWeightKg = *pp.CurrentWeightKg
		if p.StartWeightKg == 0 {
			p.StartWeightKg = *pp.CurrentWeightKg
		}
	}
	if pp.TargetWeightKg != nil {
		p.TargetWeightKg = *pp.TargetWeightKg
	}
	if pp.Activity != nil {
		p.Activity = *pp.Activity
	}
	if pp.Goal != nil {
		p.Goal = *pp.Goal
	}
}

// Touch stamps the profile as modified at now.
func (p *UserProfile) Touch(now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}
