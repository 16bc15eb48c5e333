// Package progress is the domain API for a signed-in user's profile and
// daily progress.
//
// Every update is applied to the local cache synchronously and returned to
// the caller at once; the resulting full record is then handed to the sync
// engine, which writes it to the remote store now or later. Remote failures
// never surface here.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/cache"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/queue"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/remote"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/syncengine"
)

// ErrUserMismatch is returned when a call names a user other than the
// session's.
var ErrUserMismatch = errors.New("user does not match the active session")

// Repository reads and writes one user's records.
type Repository struct {
	userID string
	cache  *cache.Cache
	engine *syncengine.Engine
	logger *log.Logger

	// mu serializes read-modify-write cycles on the cache.
	mu  sync.Mutex
	now func() time.Time
}

// New creates a repository for userID's session.
//
// The engine should already be started; the repository stops it on Close.
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	engine, _ := syncengine.New(userID, c, store, monitor)
//	_ = engine.Start(ctx)
//	repo, err := progress.New(userID, c, engine, nil)
//	if err != nil {
//	    return err
//	}
//	defer repo.Close()
func New(userID string, c *cache.Cache, engine *syncengine.Engine, logger *log.Logger) (*Repository, error) {
	if err := schema.ValidateUserID(userID); err != nil {
		return nil, fmt.Errorf("invalid user: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[progress] ", log.LstdFlags)
	}
	return &Repository{
		userID: userID,
		cache:  c,
		engine: engine,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// UserID returns the session's user.
func (r *Repository) UserID() string {
	return r.userID
}

// Engine returns the session's sync engine.
func (r *Repository) Engine() *syncengine.Engine {
	return r.engine
}

// GetProfile returns the local profile, or the default profile when none
// has been stored.
func (r *Repository) GetProfile(userID string) (*schema.UserProfile, error) {
	if err := r.checkUser(userID); err != nil {
		return nil, err
	}
	return r.loadProfile(), nil
}

// UpdateProfile applies patch to the local profile, stores it, queues it for
// the remote and returns the new local state.
func (r *Repository) UpdateProfile(userID string, patch schema.ProfilePatch) (*schema.UserProfile, error) {
	if err := r.checkUser(userID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.loadProfile()
	p.Apply(patch)
	p.Touch(r.now())
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	if err := r.write(schema.KindProfile, p.Key(), cache.ProfileKey(r.userID), p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetDayProgress returns the local record for date, or an empty record when
// nothing has been stored for that day. The empty record is not persisted.
func (r *Repository) GetDayProgress(userID, date string) (*schema.DailyProgress, error) {
	if err := r.checkUser(userID); err != nil {
		return nil, err
	}
	if _, err := schema.ParseDate(date); err != nil {
		return nil, err
	}
	return r.loadDay(date), nil
}

// UpdateDayProgress applies patch to the day's local record, creating it on
// first write, stores it, queues it for the remote and returns the new
// local state.
func (r *Repository) UpdateDayProgress(userID, date string, patch schema.ProgressPatch) (*schema.DailyProgress, error) {
	if err := r.checkUser(userID); err != nil {
		return nil, err
	}
	if _, err := schema.ParseDate(date); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid progress update: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.loadDay(date)
	d.Apply(patch)
	d.Touch(r.now())
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid progress update: %w", err)
	}

	if err := r.write(schema.KindProgress, d.Key(), cache.ProgressKey(r.userID, date), d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDays returns the dates that have a local record, oldest first.
func (r *Repository) ListDays(userID string) ([]string, error) {
	if err := r.checkUser(userID); err != nil {
		return nil, err
	}

	keys, err := r.cache.Keys(cache.ProgressPrefix(r.userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}
	dates := make([]string, 0, len(keys))
	for _, k := range keys {
		if date, ok := cache.DateFromProgressKey(r.userID, k); ok {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// HydrateReport summarizes a Hydrate call.
type HydrateReport struct {
	Updated []string `json:"updated,omitempty"` // natural keys refreshed from the remote
	Skipped []string `json:"skipped,omitempty"` // local copy newer or write pending
	Missing []string `json:"missing,omitempty"` // no remote copy
}

// Hydrate pulls the remote profile and the given days into the cache. A
// remote copy replaces the local one only when it is strictly newer and no
// local write for that record is pending.
func (r *Repository) Hydrate(ctx context.Context, dates ...string) (HydrateReport, error) {
	var report HydrateReport

	for _, date := range dates {
		if _, err := schema.ParseDate(date); err != nil {
			return report, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := schema.ProfileKey(r.userID)
	data, err := r.engine.Fetch(ctx, schema.KindProfile, key)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		report.Missing = append(report.Missing, key.String())
	case err != nil:
		return report, fmt.Errorf("failed to fetch profile: %w", err)
	default:
		var remoteProfile schema.UserProfile
		if err := json.Unmarshal(data, &remoteProfile); err != nil {
			r.logger.Printf("WARNING: remote profile is corrupt, ignoring: %v", err)
			report.Skipped = append(report.Skipped, key.String())
			break
		}
		local := r.loadProfile()
		if r.adopt(schema.KindProfile, key, remoteProfile.UpdatedAt, local.UpdatedAt) {
			if err := r.cache.Set(cache.ProfileKey(r.userID), data); err != nil {
				return report, err
			}
			report.Updated = append(report.Updated, key.String())
		} else {
			report.Skipped = append(report.Skipped, key.String())
		}
	}

	for _, date := range dates {
		key := schema.ProgressKey(r.userID, date)
		data, err := r.engine.Fetch(ctx, schema.KindProgress, key)
		if errors.Is(err, remote.ErrNotFound) {
			report.Missing = append(report.Missing, key.String())
			continue
		}
		if err != nil {
			return report, fmt.Errorf("failed to fetch %s: %w", date, err)
		}

		var remoteDay schema.DailyProgress
		if err := json.Unmarshal(data, &remoteDay); err != nil {
			r.logger.Printf("WARNING: remote record %s is corrupt, ignoring: %v", key, err)
			report.Skipped = append(report.Skipped, key.String())
			continue
		}
		local := r.loadDay(date)
		if !r.adopt(schema.KindProgress, key, remoteDay.UpdatedAt, local.UpdatedAt) {
			report.Skipped = append(report.Skipped, key.String())
			continue
		}
		if err := r.cache.Set(cache.ProgressKey(r.userID, date), data); err != nil {
			return report, err
		}
		report.Updated = append(report.Updated, key.String())
	}

	if len(report.Updated) > 0 {
		r.logger.Printf("Hydrated %d records from remote", len(report.Updated))
	}
	return report, nil
}

// Forget removes every local record and pending write of the session's user,
// e.g. at logout or account removal.
func (r *Repository) Forget(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.engine.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear pending writes: %w", err)
	}
	keys, err := r.cache.Keys(cache.ProgressPrefix(r.userID))
	if err != nil {
		return fmt.Errorf("failed to list days: %w", err)
	}
	n := 0
	for _, k := range keys {
		if _, ok := cache.DateFromProgressKey(r.userID, k); !ok {
			continue
		}
		if err := r.cache.Delete(k); err != nil {
			return err
		}
		n++
	}
	if err := r.cache.Delete(cache.ProfileKey(r.userID)); err != nil {
		return err
	}
	r.logger.Printf("Forgot local data for %s (%d days)", r.userID, n)
	return nil
}

// Close ends the session: writes already submitted are persisted and the
// engine is stopped. The cache stays open.
func (r *Repository) Close() error {
	return r.engine.Stop()
}

func (r *Repository) checkUser(userID string) error {
	if userID != r.userID {
		return fmt.Errorf("%w: %q", ErrUserMismatch, userID)
	}
	return nil
}

// loadProfile reads the cached profile; absent or corrupt means default.
func (r *Repository) loadProfile() *schema.UserProfile {
	p := schema.NewUserProfile(r.userID)
	if !r.cache.GetJSON(cache.ProfileKey(r.userID), p) {
		return schema.NewUserProfile(r.userID)
	}
	p.UserID = r.userID
	p.SetDefaults()
	return p
}

// loadDay reads the cached record; absent or corrupt means empty.
func (r *Repository) loadDay(date string) *schema.DailyProgress {
	d := schema.NewDailyProgress(r.userID, date)
	if !r.cache.GetJSON(cache.ProgressKey(r.userID, date), d) {
		return schema.NewDailyProgress(r.userID, date)
	}
	d.UserID = r.userID
	d.Date = date
	if d.Actions == nil {
		d.Actions = []string{}
	}
	return d
}

// write stores the record locally, then hands it to the engine.
func (r *Repository) write(kind schema.Kind, key schema.NaturalKey, cacheKey string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, key, err)
	}
	if err := r.cache.Set(cacheKey, data); err != nil {
		return fmt.Errorf("failed to save %s %s locally: %w", kind, key, err)
	}
	r.engine.Submit(queue.NewItem(kind, key, data))
	return nil
}

// adopt decides whether a remote copy replaces the local one.
func (r *Repository) adopt(kind schema.Kind, key schema.NaturalKey, remoteAt, localAt time.Time) bool {
	if r.engine.HasPending(kind, key) {
		return false
	}
	return remoteAt.After(localAt)
}
