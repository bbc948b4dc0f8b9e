package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/locahq/loca-agent/pkg/loca"
	"github.com/rs/zerolog"
)

// consecutive empty fetches before the coordinator warns that the account
// may have no configured devices.
const emptyFetchWarnThreshold = 3

// Fetcher is the slice of the API client the coordinator drives.
type Fetcher interface {
	Login(ctx context.Context) error
	FetchAssets(ctx context.Context) ([]loca.AssetRecord, error)
	FetchGroups(ctx context.Context) ([]loca.GroupRecord, error)
}

// AddressResolver resolves coordinates to a human-readable address for
// records the API returned without one. Optional.
type AddressResolver interface {
	ReverseGeocode(ctx context.Context, latitude, longitude float64) (string, error)
}

// Snapshot is the coordinator's immutable view of all tracked devices.
// Once published it is never mutated; each successful cycle replaces it
// wholesale.
type Snapshot struct {
	Devices   map[string]loca.AssetRecord
	Counter   uint64
	FetchedAt time.Time
}

// Device looks up one record by identifier.
func (s *Snapshot) Device(deviceID string) (loca.AssetRecord, bool) {
	record, ok := s.Devices[deviceID]
	return record, ok
}

// ErrorState is the last classified cycle failure. Cleared on the next
// successful cycle.
type ErrorState struct {
	Kind    loca.ErrorKind
	Message string
	At      time.Time
}

// inflight is the shared handle for one fetch cycle. Waiters attach to it
// instead of triggering duplicate fetches.
type inflight struct {
	done chan struct{}
	err  error
}

// Coordinator drives the repeating fetch-and-publish cycle against the API
// client. Cycles are strictly serialized; manual refresh requests issued
// while one is queued coalesce onto the same pending cycle.
type Coordinator struct {
	fetcher  Fetcher
	resolver AddressResolver
	interval time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	kick    chan struct{}
	updates chan struct{}

	mu      sync.Mutex
	running *inflight
	pending *inflight

	snapshot    atomic.Pointer[Snapshot]
	errState    atomic.Pointer[ErrorState]
	counter     atomic.Uint64
	emptyStreak atomic.Int64
}

// New creates a Coordinator polling at the given interval. resolver may be
// nil to disable reverse geocoding.
func New(fetcher Fetcher, resolver AddressResolver, interval time.Duration, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		fetcher:  fetcher,
		resolver: resolver,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		updates:  make(chan struct{}, 1),
	}
	c.snapshot.Store(&Snapshot{Devices: map[string]loca.AssetRecord{}})
	return c
}

// Start launches the polling loop in a separate goroutine.
func (c *Coordinator) Start() error {
	if c.ctx != nil {
		c.logger.Warn().Msg("Coordinator is already running")
		return errors.New("coordinator is already running")
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runLoop()
	}()

	c.logger.Info().Dur("interval", c.interval).Msg("Coordinator started")
	return nil
}

// Stop cancels the polling loop and waits for the in-flight cycle to end.
func (c *Coordinator) Stop() error {
	if c.ctx == nil {
		c.logger.Warn().Msg("Coordinator is not running")
		return errors.New("coordinator is not running")
	}

	c.cancel()
	c.wg.Wait()
	c.ctx = nil

	c.logger.Info().Msg("Coordinator stopped")
	return nil
}

// runLoop serializes all fetch cycles: scheduled ticks and manual kicks
// both funnel through here, so a new cycle never starts while one runs.
func (c *Coordinator) runLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Prime the cache immediately instead of waiting a full interval.
	c.runCycle()

	for {
		select {
		case <-ticker.C:
			c.runCycle()
		case <-c.kick:
			c.runCycle()
		case <-c.ctx.Done():
			c.failPending(c.ctx.Err())
			return
		}
	}
}

// runCycle executes one fetch cycle and completes the handle any waiters
// attached to.
func (c *Coordinator) runCycle() {
	c.mu.Lock()
	handle := c.pending
	if handle == nil {
		handle = &inflight{done: make(chan struct{})}
	}
	c.pending = nil
	c.running = handle
	c.mu.Unlock()

	err := c.refresh()

	c.mu.Lock()
	handle.err = err
	close(handle.done)
	c.running = nil
	c.mu.Unlock()
}

// failPending completes a queued cycle that will never run because the
// coordinator is shutting down.
func (c *Coordinator) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.err = err
		close(c.pending.done)
		c.pending = nil
	}
}

// requestRefresh returns the cycle handle the caller should wait on. A
// request arriving while a cycle is in flight gets the next pending cycle;
// concurrent requests share that same handle.
func (c *Coordinator) requestRefresh() (*inflight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil || c.ctx.Err() != nil {
		return nil, errors.New("coordinator is not running")
	}

	if c.pending != nil {
		return c.pending, nil
	}

	c.pending = &inflight{done: make(chan struct{})}
	select {
	case c.kick <- struct{}{}:
	default:
	}
	return c.pending, nil
}

// RefreshAll triggers an immediate fetch cycle outside the regular schedule
// and waits for its result. The failure, if any, is the classified cycle
// error also visible through LastError.
func (c *Coordinator) RefreshAll(ctx context.Context) error {
	handle, err := c.requestRefresh()
	if err != nil {
		return err
	}

	select {
	case <-handle.done:
		return handle.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceUpdate refreshes state for a known device. The fetch itself is
// account-wide; the device identifier is validated against the current
// snapshot first.
func (c *Coordinator) ForceUpdate(ctx context.Context, deviceID string) error {
	if !c.Available(deviceID) {
		return fmt.Errorf("unknown device %q", deviceID)
	}
	return c.RefreshAll(ctx)
}

// refresh performs one full fetch-validate-publish pass.
func (c *Coordinator) refresh() error {
	ctx := c.ctx

	// Group labels are decorative; a failed refresh must not cost us the
	// position data.
	if _, err := c.fetcher.FetchGroups(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Groups refresh failed, keeping cached labels")
	}

	records, err := c.fetcher.FetchAssets(ctx)
	if err != nil && loca.IsAuthenticationError(err) {
		c.logger.Info().Msg("Authentication rejected, attempting single re-login")
		if loginErr := c.fetcher.Login(ctx); loginErr != nil {
			return c.failCycle(loginErr)
		}
		records, err = c.fetcher.FetchAssets(ctx)
	}
	if err != nil {
		return c.failCycle(err)
	}

	c.trackEmptyFetches(len(records))
	c.resolveAddresses(ctx, records)
	c.publish(records)
	return nil
}

// failCycle records the classified error and leaves the previous snapshot
// and counter untouched. Expected transients get exactly one warning line.
func (c *Coordinator) failCycle(err error) error {
	if c.ctx.Err() != nil {
		// Shutting down; the abandoned cycle is not an error state.
		return c.ctx.Err()
	}

	state := &ErrorState{
		Kind:    loca.KindOf(err),
		Message: err.Error(),
		At:      time.Now().UTC(),
	}
	c.errState.Store(state)

	if loca.Retriable(err) {
		c.logger.Warn().Str("kind", string(state.Kind)).Msg("Cannot reach API: will retry next cycle")
	} else {
		c.logger.Error().Err(err).Str("kind", string(state.Kind)).Msg("Update cycle failed")
	}
	return err
}

// publish atomically swaps in the new snapshot and advances the logical
// clock. Failed cycles never reach here.
func (c *Coordinator) publish(records []loca.AssetRecord) {
	devices := make(map[string]loca.AssetRecord, len(records))
	for _, record := range records {
		devices[record.ID] = record
	}

	c.logMembershipChanges(devices)

	snapshot := &Snapshot{
		Devices:   devices,
		Counter:   c.counter.Add(1),
		FetchedAt: time.Now().UTC(),
	}
	c.snapshot.Store(snapshot)
	c.errState.Store(nil)

	select {
	case c.updates <- struct{}{}:
	default:
	}

	c.logger.Debug().
		Int("devices", len(devices)).
		Uint64("counter", snapshot.Counter).
		Msg("Published snapshot")
}

// logMembershipChanges reports devices appearing in or disappearing from
// the account between successful cycles.
func (c *Coordinator) logMembershipChanges(devices map[string]loca.AssetRecord) {
	previous := c.snapshot.Load()
	for id, record := range devices {
		if _, ok := previous.Devices[id]; !ok && previous.Counter > 0 {
			c.logger.Info().Str("device_id", id).Str("name", record.Name).Msg("New device discovered")
		}
	}
	for id, record := range previous.Devices {
		if _, ok := devices[id]; !ok {
			c.logger.Info().Str("device_id", id).Str("name", record.Name).Msg("Device removed")
		}
	}
}

// trackEmptyFetches counts consecutive empty asset listings so diagnostics
// can distinguish "no devices" from "nothing fetched yet".
func (c *Coordinator) trackEmptyFetches(count int) {
	if count > 0 {
		c.emptyStreak.Store(0)
		return
	}
	if streak := c.emptyStreak.Add(1); streak == emptyFetchWarnThreshold {
		c.logger.Warn().Msg("No devices returned by the API in several consecutive cycles")
	}
}

// resolveAddresses fills in a reverse-geocoded address for records that
// have coordinates but no address. Best effort only.
func (c *Coordinator) resolveAddresses(ctx context.Context, records []loca.AssetRecord) {
	if c.resolver == nil {
		return
	}
	for i := range records {
		record := &records[i]
		if !record.HasCoordinates() || record.Address != nil {
			continue
		}
		address, err := c.resolver.ReverseGeocode(ctx, *record.Latitude, *record.Longitude)
		if err != nil {
			c.logger.Debug().Err(err).Str("device_id", record.ID).Msg("Reverse geocoding failed")
			continue
		}
		if address != "" {
			record.Address = &address
		}
	}
}

// Snapshot returns the current published snapshot. Never nil.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// LastUpdateSuccess returns the logical clock advanced on each successful
// cycle. Entity caches key their invalidation off this value.
func (c *Coordinator) LastUpdateSuccess() uint64 {
	return c.counter.Load()
}

// LastError returns the last classified cycle failure, or nil after a
// successful cycle.
func (c *Coordinator) LastError() *ErrorState {
	return c.errState.Load()
}

// Available reports whether the device was present in the last successful
// fetch, independent of which optional fields it reported.
func (c *Coordinator) Available(deviceID string) bool {
	_, ok := c.snapshot.Load().Devices[deviceID]
	return ok
}

// Updates exposes a coalesced notification channel signalled after each
// successful snapshot publication.
func (c *Coordinator) Updates() <-chan struct{} {
	return c.updates
}

// EmptyFetchStreak returns the number of consecutive cycles that fetched
// zero devices. Exposed for diagnostics.
func (c *Coordinator) EmptyFetchStreak() int {
	return int(c.emptyStreak.Load())
}
