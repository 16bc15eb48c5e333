package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/cache"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/connectivity"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/queue"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/remote"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

var (
	// ErrNotRunning is returned by calls that need the worker when the engine
	// has not been started or has been stopped.
	ErrNotRunning = errors.New("sync engine is not running")

	// ErrNoRemote is returned by remote operations when no store is configured.
	ErrNoRemote = errors.New("no remote store configured")
)

// Config holds configuration for the engine.
type Config struct {
	// BackoffBase is the first retry delay after a drain leaves transient
	// failures while online. Zero disables retries: queued writes then wait
	// for the next offline -> online transition.
	BackoffBase time.Duration

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration

	// AttemptTimeout bounds a single remote call.
	AttemptTimeout time.Duration

	// Logger for engine activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BackoffBase:    2 * time.Second,
		BackoffMax:     5 * time.Minute,
		AttemptTimeout: 10 * time.Second,
		Logger:         log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// task is one unit of work for the worker. Exactly one field is set.
type task struct {
	submit     *queue.Item
	transition *connectivity.Transition
	drain      string // reason for a background drain
	retryGen   int
	call       func()
}

// Engine replays one user's writes against the remote store.
type Engine struct {
	userID  string
	queue   *queue.Queue
	store   remote.Store
	monitor *connectivity.Monitor
	config  *Config

	inboxMu sync.Mutex
	inbox   []task
	running bool
	wake    chan struct{}

	// Worker-owned retry state.
	retries    int
	retryGen   int
	retryTimer *time.Timer

	statusMu  sync.Mutex
	lastSync  time.Time
	lastError string
	nextRetry time.Time

	subsMu  sync.Mutex
	subs    map[int]func(Event)
	nextSub int

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates an engine for userID with default configuration.
//
// store may be nil, in which case every write stays queued until a store is
// configured. The pending queue is loaded from c.
//
// Use Start() to begin processing.
func New(userID string, c *cache.Cache, store remote.Store, monitor *connectivity.Monitor) (*Engine, error) {
	return NewWithConfig(userID, c, store, monitor, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(userID string, c *cache.Cache, store remote.Store, monitor *connectivity.Monitor, config *Config) (*Engine, error) {
	if c == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultConfig().AttemptTimeout
	}

	qlog := log.New(config.Logger.Writer(), "[queue] ", config.Logger.Flags())
	q, err := queue.Open(c, userID, qlog)
	if err != nil {
		return nil, fmt.Errorf("failed to open pending queue: %w", err)
	}

	return &Engine{
		userID:  userID,
		queue:   q,
		store:   store,
		monitor: monitor,
		config:  config,
		wake:    make(chan struct{}, 1),
		subs:    make(map[int]func(Event)),
	}, nil
}

// Start launches the worker and subscribes to connectivity transitions.
// Writes left in the queue by an earlier session are drained right away when
// online. Start returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.inboxMu.Lock()
	if e.running {
		e.inboxMu.Unlock()
		return fmt.Errorf("sync engine already running")
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.inboxMu.Unlock()

	e.unsubscribe = e.monitor.Subscribe(func(tr connectivity.Transition) {
		e.push(task{transition: &tr})
	})

	e.wg.Add(1)
	go e.run()

	if e.queue.Len() > 0 && e.monitor.Online() {
		e.push(task{drain: "startup"})
	}

	e.config.Logger.Printf("Sync engine started for %s (pending=%d)", e.userID, e.queue.Len())
	return nil
}

// Stop shuts the worker down. Writes already submitted are persisted to the
// queue before Stop returns; a drain in progress is cut short and its
// unattempted items stay queued.
func (e *Engine) Stop() error {
	e.inboxMu.Lock()
	started := e.cancel != nil
	e.running = false
	e.inboxMu.Unlock()

	if !started {
		return nil
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.cancel()
	e.wg.Wait()

	e.config.Logger.Printf("Sync engine stopped (pending=%d)", e.queue.Len())
	return nil
}

// Submit hands a record write to the engine. It never blocks on the network
// and never reports remote failures. When the engine is not running the write
// is queued directly.
func (e *Engine) Submit(item queue.Item) {
	e.inboxMu.Lock()
	if e.running {
		e.inbox = append(e.inbox, task{submit: &item})
		e.inboxMu.Unlock()
		e.signal()
		return
	}
	e.inboxMu.Unlock()

	if err := e.queue.Enqueue(item); err != nil {
		e.config.Logger.Printf("WARNING: failed to queue %s %s: %v", item.Kind, item.Key, err)
	}
}

// Drain runs a drain pass now and returns its report. It fails with
// ErrNoRemote when no store is configured.
func (e *Engine) Drain(ctx context.Context) (queue.DrainReport, error) {
	return call(ctx, e, func() (queue.DrainReport, error) {
		return e.drain(ctx, "manual")
	})
}

// Sync waits until every write submitted before the call has been attempted
// or queued.
func (e *Engine) Sync(ctx context.Context) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		return struct{}{}, nil
	})
	return err
}

// Clear drops every pending write and dead letter, e.g. at logout.
func (e *Engine) Clear(ctx context.Context) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		e.cancelRetry()
		e.retries = 0
		if err := e.queue.Clear(); err != nil {
			return struct{}{}, err
		}
		e.config.Logger.Printf("Cleared pending queue for %s", e.userID)
		e.publish(EventPending, nil, "")
		return struct{}{}, nil
	})
	return err
}

// Requeue moves dead letters back to the pending queue and drains if online.
// Dead letters superseded by a later write for the same record are dropped
// instead. It returns how many items were moved.
func (e *Engine) Requeue(ctx context.Context) (int, error) {
	return call(ctx, e, func() (int, error) {
		dead := len(e.queue.DeadLetters())
		n, err := e.queue.Requeue()
		if err != nil || dead == 0 {
			return n, err
		}
		e.config.Logger.Printf("Requeued %d of %d dead letters", n, dead)
		e.publish(EventPending, nil, "")
		if n == 0 {
			return 0, nil
		}
		if e.store != nil && e.monitor.Online() {
			if _, err := e.drain(ctx, "requeue"); err != nil {
				e.config.Logger.Printf("WARNING: drain after requeue failed: %v", err)
			}
		}
		return n, nil
	})
}

// Fetch reads the remote copy of a record. It runs after every write
// submitted before it.
func (e *Engine) Fetch(ctx context.Context, kind schema.Kind, key schema.NaturalKey) ([]byte, error) {
	return call(ctx, e, func() ([]byte, error) {
		if e.store == nil {
			return nil, ErrNoRemote
		}
		actx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
		defer cancel()
		return e.store.Get(actx, kind, key)
	})
}

// HasPending reports whether a write for the record is queued.
func (e *Engine) HasPending(kind schema.Kind, key schema.NaturalKey) bool {
	return e.queue.HasKey(kind, key)
}

// Pending returns the queued writes in order.
func (e *Engine) Pending() []queue.Item {
	return e.queue.Items()
}

// DeadLetters returns the permanently rejected writes.
func (e *Engine) DeadLetters() []queue.Item {
	return e.queue.DeadLetters()
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.inboxMu.Lock()
	running := e.running
	e.inboxMu.Unlock()

	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return Status{
		UserID:      e.userID,
		Running:     running,
		Online:      e.monitor.Online(),
		Remote:      e.store != nil,
		Pending:     e.queue.Len(),
		DeadLetters: len(e.queue.DeadLetters()),
		LastSync:    e.lastSync,
		LastError:   e.lastError,
		NextRetry:   e.nextRetry,
	}
}

// Subscribe registers fn for engine events. fn runs on the worker goroutine
// and must not block or call back into the engine. The returned function
// removes the subscription.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subs, id)
			e.subsMu.Unlock()
		})
	}
}

// call runs fn on the worker and waits for its result.
func call[T any](ctx context.Context, e *Engine, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)

	var zero T
	if !e.push(task{call: func() {
		v, err := fn()
		done <- result{v, err}
	}}) {
		return zero, ErrNotRunning
	}

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// push appends t to the inbox. It returns false when the engine is stopped.
func (e *Engine) push(t task) bool {
	e.inboxMu.Lock()
	if !e.running {
		e.inboxMu.Unlock()
		return false
	}
	e.inbox = append(e.inbox, t)
	e.inboxMu.Unlock()
	e.signal()
	return true
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) takeInbox() []task {
	e.inboxMu.Lock()
	defer e.inboxMu.Unlock()
	tasks := e.inbox
	e.inbox = nil
	return tasks
}

// run is the worker loop.
func (e *Engine) run() {
	defer e.wg.Done()

	for {
		tasks := e.takeInbox()
		for _, t := range tasks {
			e.handle(t, false)
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-e.wake:
		case <-e.ctx.Done():
			// Nothing can be pushed once running is false, so this sweep
			// sees every accepted task.
			e.inboxMu.Lock()
			e.running = false
			tasks := e.inbox
			e.inbox = nil
			e.inboxMu.Unlock()

			for _, t := range tasks {
				e.handle(t, true)
			}
			e.cancelRetry()
			return
		}
	}
}

// handle processes one task. While stopping, writes are queued without a
// remote attempt and background drains are skipped.
func (e *Engine) handle(t task, stopping bool) {
	switch {
	case t.submit != nil:
		if stopping {
			e.enqueue(*t.submit)
			return
		}
		e.submit(*t.submit)

	case t.transition != nil:
		e.emit(EventConnectivity, t.transition.Online, nil, "")
		e.cancelRetry()
		if !t.transition.Online {
			return
		}
		e.retries = 0
		if !stopping {
			e.backgroundDrain("online")
		}

	case t.drain != "":
		if t.drain == "retry" {
			if t.retryGen != e.retryGen {
				return
			}
			e.retryTimer = nil
			e.statusMu.Lock()
			e.nextRetry = time.Time{}
			e.statusMu.Unlock()
		}
		if !stopping && e.monitor.Online() {
			e.backgroundDrain(t.drain)
		}

	case t.call != nil:
		t.call()
	}
}

// submit tries the remote immediately or queues the write.
func (e *Engine) submit(item queue.Item) {
	if e.store == nil || !e.monitor.Online() || e.queue.HasKey(item.Kind, item.Key) {
		e.enqueue(item)
		return
	}

	err := e.attempt(e.ctx, item)
	switch {
	case err == nil:
		e.recordSuccess()
		n, qerr := e.queue.Supersede(item.Kind, item.Key, item.EnqueuedAt)
		if qerr != nil {
			e.config.Logger.Printf("WARNING: failed to drop superseded dead letters for %s %s: %v", item.Kind, item.Key, qerr)
		}
		if n > 0 {
			e.publish(EventPending, nil, "")
		}
		return
	case remote.IsPermanent(err):
		e.recordError(err)
		if qerr := e.queue.Reject(item, err); qerr != nil {
			e.config.Logger.Printf("WARNING: failed to dead-letter %s %s: %v", item.Kind, item.Key, qerr)
		}
		e.publish(EventDeadLetter, nil, err.Error())
		return
	}

	e.recordError(err)
	e.config.Logger.Printf("Write for %s %s failed, queued: %v", item.Kind, item.Key, err)
	e.enqueue(item)
	if e.monitor.Online() {
		e.scheduleRetry()
	}
}

func (e *Engine) enqueue(item queue.Item) {
	if err := e.queue.Enqueue(item); err != nil {
		e.config.Logger.Printf("WARNING: failed to queue %s %s: %v", item.Kind, item.Key, err)
		return
	}
	e.publish(EventPending, nil, "")
}

// attempt performs one remote upsert bounded by AttemptTimeout.
func (e *Engine) attempt(ctx context.Context, item queue.Item) error {
	actx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	defer cancel()
	return e.store.Upsert(actx, item.Kind, item.Key, item.Payload)
}

// apply adapts attempt to the queue's drain protocol.
func (e *Engine) apply(ctx context.Context, item queue.Item) (queue.Result, error) {
	err := e.attempt(ctx, item)
	switch {
	case err == nil:
		return queue.Applied, nil
	case remote.IsPermanent(err):
		return queue.Reject, err
	default:
		return queue.Retain, err
	}
}

func (e *Engine) backgroundDrain(reason string) {
	if e.store == nil || e.queue.Len() == 0 {
		return
	}
	if _, err := e.drain(e.ctx, reason); err != nil {
		e.config.Logger.Printf("WARNING: drain (%s) failed: %v", reason, err)
	}
}

// drain runs one pass over the queue and schedules a retry when transient
// failures remain while online.
func (e *Engine) drain(ctx context.Context, reason string) (queue.DrainReport, error) {
	if e.store == nil {
		return queue.DrainReport{}, ErrNoRemote
	}

	start := time.Now()
	report, err := e.queue.DrainAll(ctx, e.apply)
	if err != nil {
		return report, fmt.Errorf("failed to drain pending queue: %w", err)
	}

	if report.Applied+report.Retained+report.Rejected+report.Blocked > 0 {
		e.config.Logger.Printf("Drain (%s): applied=%d retained=%d rejected=%d blocked=%d in %v",
			reason, report.Applied, report.Retained, report.Rejected, report.Blocked, time.Since(start))
	}

	var lastErr string
	if report.Applied > 0 {
		e.recordSuccess()
	}
	if pending := e.queue.Items(); len(pending) > 0 {
		lastErr = pending[0].LastError
		if lastErr != "" {
			e.recordError(errors.New(lastErr))
		}
	}

	e.publish(EventSyncComplete, &report, lastErr)
	if report.Rejected > 0 {
		e.publish(EventDeadLetter, &report, "")
	}

	if e.queue.Len() == 0 {
		e.retries = 0
		e.cancelRetry()
	} else if report.Retained > 0 && e.monitor.Online() && ctx.Err() == nil {
		e.scheduleRetry()
	}
	return report, nil
}

// scheduleRetry arms a single backoff timer unless one is pending or retries
// are disabled.
func (e *Engine) scheduleRetry() {
	if e.config.BackoffBase <= 0 || e.retryTimer != nil {
		return
	}

	delay := Backoff(e.config.BackoffBase, e.config.BackoffMax, e.retries)
	e.retries++
	e.retryGen++
	gen := e.retryGen
	e.retryTimer = time.AfterFunc(delay, func() {
		e.push(task{drain: "retry", retryGen: gen})
	})

	e.statusMu.Lock()
	e.nextRetry = time.Now().Add(delay)
	e.statusMu.Unlock()

	e.config.Logger.Printf("Retry #%d scheduled in %v", e.retries, delay)
}

func (e *Engine) cancelRetry() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.retryGen++

	e.statusMu.Lock()
	e.nextRetry = time.Time{}
	e.statusMu.Unlock()
}

func (e *Engine) recordSuccess() {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.lastSync = time.Now()
	e.lastError = ""
}

func (e *Engine) recordError(err error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.lastError = err.Error()
}

// publish delivers an event to subscribers on the worker goroutine.
func (e *Engine) publish(typ EventType, report *queue.DrainReport, errMsg string) {
	e.emit(typ, e.monitor.Online(), report, errMsg)
}

// emit publishes an event carrying the given connectivity state. Transitions
// report their own state since the monitor may have moved on.
func (e *Engine) emit(typ EventType, online bool, report *queue.DrainReport, errMsg string) {
	e.subsMu.Lock()
	if len(e.subs) == 0 {
		e.subsMu.Unlock()
		return
	}
	fns := make([]func(Event), 0, len(e.subs))
	for id := 0; id < e.nextSub; id++ {
		if fn, ok := e.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.subsMu.Unlock()

	ev := Event{
		Type:        typ,
		Online:      online,
		Pending:     e.queue.Len(),
		DeadLetters: len(e.queue.DeadLetters()),
		Report:      report,
		Error:       errMsg,
		At:          time.Now(),
	}
	for _, fn := range fns {
		fn(ev)
	}
}
