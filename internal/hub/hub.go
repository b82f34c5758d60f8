// Package hub is the orchestration and registry layer: it owns one adapter
// instance per platform, tracks per-(user, platform) connections and
// credentials, runs the periodic health sweep, and broadcasts lifecycle
// events. One platform's outage never affects another's operations.
package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/omnisocial/omnisocial/internal/metrics"
	"github.com/omnisocial/omnisocial/internal/models"
	"github.com/omnisocial/omnisocial/internal/platform"
)

const defaultHealthInterval = time.Minute

// ConnectionRecord is the durable shape handed to the persistence
// collaborator after a successful connect.
type ConnectionRecord struct {
	UserID      string
	Platform    models.Platform
	ProfileID   string
	Username    string
	ConnectedAt time.Time
}

// ConnectionStore durably records connection metadata. The hub treats it
// as fire-and-forget: persistence failures are logged, never surfaced.
type ConnectionStore interface {
	SaveConnection(ctx context.Context, rec ConnectionRecord) error
	DeleteConnection(ctx context.Context, userID string, p models.Platform) error
}

// Config holds hub runtime parameters.
type Config struct {
	// HealthInterval is the period of the health-check sweep.
	HealthInterval time.Duration
}

// Hub is constructed once at startup and injected into its consumers; it
// has an explicit lifecycle (Run until the context is cancelled) instead
// of global singleton state.
type Hub struct {
	logger   *slog.Logger
	metrics  *metrics.Collector
	sink     EventSink
	store    ConnectionStore
	interval time.Duration

	mu      sync.RWMutex
	entries map[models.Platform]*entry
}

// entry bundles one platform's adapter with its status record and
// credential map. The entry mutex scopes all counter and credential
// mutation to this platform, so platforms never contend with each other.
type entry struct {
	adapter platform.Adapter

	mu     sync.Mutex
	status models.PlatformStatus
	creds  map[string]*models.Credentials
}

// New constructs a hub. The sink and store may be nil; events and
// persistence are then skipped.
func New(logger *slog.Logger, collector *metrics.Collector, sink EventSink, store ConnectionStore, cfg Config) *Hub {
	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &Hub{
		logger:   logger.With("component", "hub"),
		metrics:  collector,
		sink:     sink,
		store:    store,
		interval: interval,
		entries:  make(map[models.Platform]*entry),
	}
}

// Register installs the adapter for its platform with a fresh status.
// Re-registering replaces the prior adapter, resets its status and drops
// that platform's existing connections; callers that re-register accept
// losing those sessions.
func (h *Hub) Register(adapter platform.Adapter) {
	p := adapter.Platform()

	h.mu.Lock()
	h.entries[p] = &entry{
		adapter: adapter,
		status:  models.PlatformStatus{Platform: p},
		creds:   make(map[string]*models.Credentials),
	}
	h.mu.Unlock()

	h.metrics.SetConnectedUsers(p.String(), 0)
	h.logger.Info("adapter registered", "platform", p.String())
}

// Connect validates the supplied credentials with a profile probe and, on
// success, records the connection. A failed probe records nothing and
// counts as a platform error.
func (h *Hub) Connect(ctx context.Context, userID string, p models.Platform, creds models.Credentials) (*models.Profile, error) {
	e, err := h.entry(p)
	if err != nil {
		return nil, err
	}

	cc := creds.Clone()
	profile, err := e.adapter.Profile(ctx, cc)
	if err != nil {
		h.recordError(e, userID, err)
		return nil, err
	}

	e.mu.Lock()
	e.creds[userID] = cc
	e.status.ConnectionCount = len(e.creds)
	e.status.Connected = true
	count := e.status.ConnectionCount
	e.mu.Unlock()

	h.metrics.SetConnectedUsers(p.String(), count)
	h.logger.Info("user connected", "platform", p.String(), "user_id", userID, "connections", count)

	ev := newEvent(EventConnected, p)
	ev.UserID = userID
	h.emit(ev)

	h.persistSave(ConnectionRecord{
		UserID:      userID,
		Platform:    p,
		ProfileID:   profile.PlatformUserID,
		Username:    profile.Username,
		ConnectedAt: time.Now(),
	})
	return profile, nil
}

// Disconnect removes the (user, platform) entry. Disconnecting twice is a
// no-op; the connection count never goes negative.
func (h *Hub) Disconnect(ctx context.Context, userID string, p models.Platform) error {
	e, err := h.entry(p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	_, existed := e.creds[userID]
	delete(e.creds, userID)
	e.status.ConnectionCount = len(e.creds)
	e.status.Connected = e.status.ConnectionCount > 0
	count := e.status.ConnectionCount
	e.mu.Unlock()

	if !existed {
		return nil
	}

	h.metrics.SetConnectedUsers(p.String(), count)
	h.logger.Info("user disconnected", "platform", p.String(), "user_id", userID, "connections", count)

	ev := newEvent(EventDisconnected, p)
	ev.UserID = userID
	h.emit(ev)

	h.persistDelete(userID, p)
	return nil
}

// IsConnected reports whether a credential entry exists for the pair.
func (h *Hub) IsConnected(userID string, p models.Platform) bool {
	e, err := h.entry(p)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.creds[userID]
	return ok
}

// Content fetches a page of canonical content for a connected user and
// emits one content:received event per item.
func (h *Hub) Content(ctx context.Context, userID string, p models.Platform, opts models.ContentOptions) (*models.ContentPage, error) {
	e, cc, err := h.session(userID, p)
	if err != nil {
		return nil, err
	}

	page, opErr := e.adapter.Content(ctx, cc, opts)
	e.storeRefreshed(userID, cc)
	if opErr != nil {
		h.recordError(e, userID, opErr)
		return nil, opErr
	}

	h.noteRateLimit(e, page.RateLimit)
	for i := range page.Items {
		ev := newEvent(EventContentReceived, p)
		ev.Content = &page.Items[i]
		h.emit(ev)
	}
	return page, nil
}

// Post publishes a draft for a connected user.
func (h *Hub) Post(ctx context.Context, userID string, p models.Platform, draft models.Draft) (*models.PostReceipt, error) {
	e, cc, err := h.session(userID, p)
	if err != nil {
		return nil, err
	}

	receipt, opErr := e.adapter.Post(ctx, cc, draft)
	e.storeRefreshed(userID, cc)
	if opErr != nil {
		h.recordError(e, userID, opErr)
		return nil, opErr
	}

	ev := newEvent(EventContentPosted, p)
	ev.UserID = userID
	ev.PostID = receipt.PostID
	h.emit(ev)
	return receipt, nil
}

// Search queries a platform for a connected user. Platforms without a
// native search endpoint return pages marked LocalFilter.
func (h *Hub) Search(ctx context.Context, userID string, p models.Platform, query string, opts models.SearchOptions) (*models.ContentPage, error) {
	e, cc, err := h.session(userID, p)
	if err != nil {
		return nil, err
	}

	page, opErr := e.adapter.Search(ctx, cc, query, opts)
	e.storeRefreshed(userID, cc)
	if opErr != nil {
		h.recordError(e, userID, opErr)
		return nil, opErr
	}

	h.noteRateLimit(e, page.RateLimit)
	return page, nil
}

// Status returns a snapshot of one platform's status record.
func (h *Hub) Status(p models.Platform) (models.PlatformStatus, error) {
	e, err := h.entry(p)
	if err != nil {
		return models.PlatformStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotStatus(&e.status), nil
}

// Statuses returns snapshots for every registered platform, ordered by
// platform name.
func (h *Hub) Statuses() []models.PlatformStatus {
	h.mu.RLock()
	entries := make([]*entry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	out := make([]models.PlatformStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, snapshotStatus(&e.status))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// Run drives the periodic health sweep until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("health sweep started", "interval", h.interval)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("health sweep stopped")
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep health-checks every platform with at least one connection. Each
// platform runs in its own goroutine and all results are collected; one
// platform's failure or slowness never blocks or fails the others.
// Platforms with zero connections are skipped and keep their previous
// health fields.
func (h *Hub) Sweep(ctx context.Context) {
	h.mu.RLock()
	entries := make([]*entry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		userID, cc, ok := e.anySession()
		if !ok {
			continue
		}
		wg.Add(1)
		go func(e *entry, userID string, cc *models.Credentials) {
			defer wg.Done()
			h.checkPlatform(ctx, e, userID, cc)
		}(e, userID, cc)
	}
	wg.Wait()
}

func (h *Hub) checkPlatform(ctx context.Context, e *entry, userID string, cc *models.Credentials) {
	p := e.adapter.Platform()
	info, err := e.adapter.CheckHealth(ctx, cc)
	e.storeRefreshed(userID, cc)

	e.mu.Lock()
	e.status.Healthy = err == nil
	e.status.LastHealthCheck = time.Now()
	if info != nil {
		e.status.RateLimit = info
	}
	if err != nil {
		e.status.ErrorCount++
		e.status.LastError = err.Error()
	}
	status := snapshotStatus(&e.status)
	e.mu.Unlock()

	h.metrics.SetHealthy(p.String(), err == nil)
	if err != nil {
		h.logger.Warn("health check failed", "platform", p.String(), "error", err)
	} else {
		h.logger.Debug("health check passed", "platform", p.String())
	}

	ev := newEvent(EventHealthCheck, p)
	ev.Status = &status
	h.emit(ev)
}

// session resolves the entry and a per-call credential clone for a
// connected user. The clone keeps concurrent calls for different users on
// the same platform fully independent.
func (h *Hub) session(userID string, p models.Platform) (*entry, *models.Credentials, error) {
	e, err := h.entry(p)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	stored, ok := e.creds[userID]
	e.mu.Unlock()
	if !ok {
		return nil, nil, platform.Errorf(platform.KindNotConnected, p, "user %q is not connected", userID)
	}
	return e, stored.Clone(), nil
}

func (h *Hub) entry(p models.Platform) (*entry, error) {
	h.mu.RLock()
	e, ok := h.entries[p]
	h.mu.RUnlock()
	if !ok {
		return nil, platform.Errorf(platform.KindNotRegistered, p, "platform not registered")
	}
	return e, nil
}

// recordError folds an adapter failure into the platform status and emits
// the corresponding events. Adapter failures never propagate beyond the
// calling operation.
func (h *Hub) recordError(e *entry, userID string, err error) {
	p := e.adapter.Platform()

	e.mu.Lock()
	e.status.ErrorCount++
	e.status.LastError = err.Error()
	if pe, ok := platform.AsError(err); ok && pe.RateLimit != nil {
		e.status.RateLimit = pe.RateLimit
	}
	e.mu.Unlock()

	h.logger.Warn("platform operation failed", "platform", p.String(), "user_id", userID, "error", err)

	ev := newEvent(EventError, p)
	ev.UserID = userID
	ev.Error = err.Error()
	h.emit(ev)

	if pe, ok := platform.AsError(err); ok && pe.Kind == platform.KindRateLimited {
		rl := newEvent(EventRateLimitExceeded, p)
		if pe.RateLimit != nil {
			rl.ResetAt = pe.RateLimit.Reset
		}
		h.emit(rl)
	}
}

func (h *Hub) noteRateLimit(e *entry, info *models.RateLimitInfo) {
	if info == nil {
		return
	}
	e.mu.Lock()
	e.status.RateLimit = info
	e.mu.Unlock()
}

func (h *Hub) emit(ev Event) {
	if h.sink == nil {
		return
	}
	h.sink.Publish(ev)
}

// persistSave hands the record to the store without making the caller
// wait on, or fail from, persistence.
func (h *Hub) persistSave(rec ConnectionRecord) {
	if h.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.SaveConnection(ctx, rec); err != nil {
			h.logger.Warn("failed to persist connection",
				"platform", rec.Platform.String(),
				"user_id", rec.UserID,
				"error", err)
		}
	}()
}

func (h *Hub) persistDelete(userID string, p models.Platform) {
	if h.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.DeleteConnection(ctx, userID, p); err != nil {
			h.logger.Warn("failed to delete persisted connection",
				"platform", p.String(),
				"user_id", userID,
				"error", err)
		}
	}()
}

// storeRefreshed writes a per-call credential clone back when a token
// refresh changed it mid-call, so later calls pick up the new token.
func (e *entry) storeRefreshed(userID string, cc *models.Credentials) {
	if cc == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	stored, ok := e.creds[userID]
	if ok && stored.AccessToken != cc.AccessToken {
		e.creds[userID] = cc.Clone()
	}
}

// anySession picks an arbitrary connected user's credentials for the
// health probe. Returns false when the platform has no connections.
func (e *entry) anySession() (string, *models.Credentials, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for userID, creds := range e.creds {
		return userID, creds.Clone(), true
	}
	return "", nil, false
}

func snapshotStatus(s *models.PlatformStatus) models.PlatformStatus {
	out := *s
	if s.RateLimit != nil {
		rl := *s.RateLimit
		out.RateLimit = &rl
	}
	return out
}
