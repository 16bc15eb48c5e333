// Package schema defines the records cutburn keeps in sync between the local
// cache and the remote store.
//
// # Records
//
// Two records are synchronized:
//
//   - UserProfile: one per user, natural key UserID.
//   - DailyProgress: one per user per calendar day, natural key (UserID, Date).
//
// Both are flat JSON documents with last-write-wins semantics. Updates are
// expressed as patches (ProfilePatch, ProgressPatch) whose nil fields are left
// untouched; applying a patch to the current local record yields the full
// record that is written locally and upserted remotely.
//
// # Example
//
//	day := schema.NewDailyProgress("u-1", "2024-06-01")
//	water := 500
//	day.Apply(schema.ProgressPatch{WaterMl: &water, Complete: []string{schema.ActionWorkout}})
//	if err := day.Validate(); err != nil {
//	    return err
//	}
//
// Dates are always calendar days in YYYY-MM-DD form; see ParseDate.
package schema
