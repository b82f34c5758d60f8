package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/omnisocial/omnisocial/internal/models"
	"github.com/omnisocial/omnisocial/internal/platform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter is a scriptable platform.Adapter for hub tests.
type fakeAdapter struct {
	platform models.Platform

	mu          sync.Mutex
	profileErr  error
	contentErr  error
	healthErr   error
	calls       map[string]int
	profile     models.Profile
	page        models.ContentPage
	refreshedTo string
}

func newFakeAdapter(p models.Platform) *fakeAdapter {
	return &fakeAdapter{
		platform: p,
		calls:    make(map[string]int),
		profile: models.Profile{
			PlatformUserID: "pid-" + string(p),
			Username:       "user-" + string(p),
		},
	}
}

func (f *fakeAdapter) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeAdapter) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAdapter) Platform() models.Platform { return f.platform }

func (f *fakeAdapter) Refresh(ctx context.Context, creds *models.Credentials) error {
	f.count("refresh")
	return nil
}

func (f *fakeAdapter) Profile(ctx context.Context, creds *models.Credentials) (*models.Profile, error) {
	f.count("profile")
	f.mu.Lock()
	err := f.profileErr
	p := f.profile
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (f *fakeAdapter) Content(ctx context.Context, creds *models.Credentials, opts models.ContentOptions) (*models.ContentPage, error) {
	f.count("content")
	f.mu.Lock()
	err := f.contentErr
	page := f.page
	refreshed := f.refreshedTo
	f.mu.Unlock()
	if refreshed != "" {
		creds.AccessToken = refreshed
	}
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (f *fakeAdapter) Post(ctx context.Context, creds *models.Credentials, draft models.Draft) (*models.PostReceipt, error) {
	f.count("post")
	return &models.PostReceipt{PostID: "post-1", Platform: f.platform}, nil
}

func (f *fakeAdapter) Search(ctx context.Context, creds *models.Credentials, query string, opts models.SearchOptions) (*models.ContentPage, error) {
	f.count("search")
	f.mu.Lock()
	page := f.page
	f.mu.Unlock()
	return &page, nil
}

func (f *fakeAdapter) CheckHealth(ctx context.Context, creds *models.Credentials) (*models.RateLimitInfo, error) {
	f.count("health")
	f.mu.Lock()
	err := f.healthErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &models.RateLimitInfo{Limit: 100, Remaining: 99}, nil
}

// recordingSink captures published events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestHub(sink EventSink) *Hub {
	return New(testLogger(), nil, sink, nil, Config{HealthInterval: time.Hour})
}

func TestConnect_FailureLeavesOtherPlatformUsable(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHub(sink)

	alpha := newFakeAdapter(models.PlatformTwitter)
	beta := newFakeAdapter(models.PlatformReddit)
	beta.profileErr = platform.Errorf(platform.KindAuth, models.PlatformReddit, "bad token")
	h.Register(alpha)
	h.Register(beta)

	ctx := context.Background()
	if _, err := h.Connect(ctx, "u1", models.PlatformTwitter, models.Credentials{AccessToken: "tok"}); err != nil {
		t.Fatalf("connect twitter: %v", err)
	}
	if _, err := h.Connect(ctx, "u1", models.PlatformReddit, models.Credentials{AccessToken: "bad"}); err == nil {
		t.Fatal("expected reddit connect to fail")
	}

	ts, err := h.Status(models.PlatformTwitter)
	if err != nil {
		t.Fatal(err)
	}
	if !ts.Connected || ts.ConnectionCount != 1 {
		t.Errorf("twitter status = connected=%v count=%d, want connected with 1",
			ts.Connected, ts.ConnectionCount)
	}

	rs, err := h.Status(models.PlatformReddit)
	if err != nil {
		t.Fatal(err)
	}
	if rs.Connected || rs.ConnectionCount != 0 {
		t.Errorf("reddit status = connected=%v count=%d, want disconnected with 0",
			rs.Connected, rs.ConnectionCount)
	}
	if rs.ErrorCount != 1 {
		t.Errorf("reddit error count = %d, want 1", rs.ErrorCount)
	}
	if rs.LastError == "" {
		t.Error("reddit LastError empty after failed probe")
	}

	if got := sink.byType(EventConnected); len(got) != 1 {
		t.Errorf("connected events = %d, want 1", len(got))
	}
	if got := sink.byType(EventError); len(got) != 1 {
		t.Errorf("error events = %d, want 1", len(got))
	}
}

func TestConnect_UnregisteredPlatform(t *testing.T) {
	h := newTestHub(nil)
	_, err := h.Connect(context.Background(), "u1", models.PlatformDiscord, models.Credentials{})
	if platform.KindOf(err) != platform.KindNotRegistered {
		t.Fatalf("error kind = %v, want not_registered", platform.KindOf(err))
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHub(sink)
	h.Register(newFakeAdapter(models.PlatformTwitter))

	ctx := context.Background()
	if _, err := h.Connect(ctx, "u1", models.PlatformTwitter, models.Credentials{AccessToken: "t"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := h.Disconnect(ctx, "u1", models.PlatformTwitter); err != nil {
			t.Fatalf("disconnect %d: %v", i, err)
		}
	}

	st, _ := h.Status(models.PlatformTwitter)
	if st.ConnectionCount != 0 {
		t.Errorf("connection count = %d, want 0", st.ConnectionCount)
	}
	if st.Connected {
		t.Error("still marked connected after disconnect")
	}
	if got := sink.byType(EventDisconnected); len(got) != 1 {
		t.Errorf("disconnected events = %d, want 1 (repeats are no-ops)", len(got))
	}
	if h.IsConnected("u1", models.PlatformTwitter) {
		t.Error("IsConnected = true after disconnect")
	}
}

func TestContent_RequiresConnection(t *testing.T) {
	h := newTestHub(nil)
	h.Register(newFakeAdapter(models.PlatformTwitter))

	_, err := h.Content(context.Background(), "ghost", models.PlatformTwitter, models.ContentOptions{})
	if platform.KindOf(err) != platform.KindNotConnected {
		t.Fatalf("error kind = %v, want not_connected", platform.KindOf(err))
	}
}

func TestContent_EmitsEventPerItem(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHub(sink)
	fa := newFakeAdapter(models.PlatformTwitter)
	fa.page = models.ContentPage{
		Items: []models.ContentItem{
			{ID: "a", Platform: models.PlatformTwitter},
			{ID: "b", Platform: models.PlatformTwitter},
		},
		RateLimit: &models.RateLimitInfo{Limit: 300, Remaining: 298},
	}
	h.Register(fa)

	ctx := context.Background()
	if _, err := h.Connect(ctx, "u1", models.PlatformTwitter, models.Credentials{AccessToken: "t"}); err != nil {
		t.Fatal(err)
	}
	page, err := h.Content(ctx, "u1", models.PlatformTwitter, models.ContentOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}

	got := sink.byType(EventContentReceived)
	if len(got) != 2 {
		t.Fatalf("content:received events = %d, want 2", len(got))
	}
	if got[0].Content.ID != "a" || got[1].Content.ID != "b" {
		t.Errorf("event items = %q, %q, want a, b", got[0].Content.ID, got[1].Content.ID)
	}

	st, _ := h.Status(models.PlatformTwitter)
	if st.RateLimit == nil || st.RateLimit.Remaining != 298 {
		t.Errorf("status rate limit not updated from page: %+v", st.RateLimit)
	}
}

func TestContent_RefreshedTokenPersists(t *testing.T) {
	h := newTestHub(nil)
	fa := newFakeAdapter(models.PlatformTwitter)
	fa.refreshedTo = "rotated"
	h.Register(fa)

	ctx := context.Background()
	if _, err := h.Connect(ctx, "u1", models.PlatformTwitter, models.Credentials{AccessToken: "stale"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Content(ctx, "u1", models.PlatformTwitter, models.ContentOptions{}); err != nil {
		t.Fatal(err)
	}

	e, err := h.entry(models.PlatformTwitter)
	if err != nil {
		t.Fatal(err)
	}
	e.mu.Lock()
	tok := e.creds["u1"].AccessToken
	e.mu.Unlock()
	if tok != "rotated" {
		t.Errorf("stored token = %q, want rotated token written back", tok)
	}
}

func TestContent_FailureRecordsErrorAndEvents(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHub(sink)
	fa := newFakeAdapter(models.PlatformTwitter)
	fa.contentErr = &platform.Error{
		Kind:      platform.KindRateLimited,
		Platform:  models.PlatformTwitter,
		Message:   "slow down",
		RateLimit: &models.RateLimitInfo{Reset: time.Now().Add(time.Minute)},
	}
	h.Register(fa)

	ctx := context.Background()
	if _, err := h.Connect(ctx, "u1", models.PlatformTwitter, models.Credentials{AccessToken: "t"}); err != nil {
		t.Fatal(err)
	}
	_, err := h.Content(ctx, "u1", models.PlatformTwitter, models.ContentOptions{})
	if platform.KindOf(err) != platform.KindRateLimited {
		t.Fatalf("error kind = %v, want rate_limited", platform.KindOf(err))
	}

	st, _ := h.Status(models.PlatformTwitter)
	if st.ErrorCount != 1 || st.LastError == "" {
		t.Errorf("status = errors=%d last=%q, want 1 with message", st.ErrorCount, st.LastError)
	}
	if got := sink.byType(EventRateLimitExceeded); len(got) != 1 {
		t.Errorf("rate_limit:exceeded events = %d, want 1", len(got))
	}
	if got := sink.byType(EventError); len(got) != 1 {
		t.Errorf("platform:error events = %d, want 1", len(got))
	}
}

func TestPost_EmitsContentPosted(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHub(sink)
	h.Register(newFakeAdapter(models.PlatformDiscord))

	ctx := context.Background()
	if _, err := h.Connect(ctx, "u1", models.PlatformDiscord, models.Credentials{AccessToken: "bot"}); err != nil {
		t.Fatal(err)
	}
	receipt, err := h.Post(ctx, "u1", models.PlatformDiscord, models.Draft{Text: "hi", Target: "chan"})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.PostID != "post-1" {
		t.Errorf("post id = %q", receipt.PostID)
	}

	got := sink.byType(EventContentPosted)
	if len(got) != 1 {
		t.Fatalf("content:posted events = %d, want 1", len(got))
	}
	if got[0].PostID != "post-1" || got[0].UserID != "u1" {
		t.Errorf("event = post=%q user=%q", got[0].PostID, got[0].UserID)
	}
}

func TestSweep_SkipsPlatformsWithoutConnections(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHub(sink)
	connected := newFakeAdapter(models.PlatformTwitter)
	idle := newFakeAdapter(models.PlatformReddit)
	h.Register(connected)
	h.Register(idle)

	ctx := context.Background()
	if _, err := h.Connect(ctx, "u1", models.PlatformTwitter, models.Credentials{AccessToken: "t"}); err != nil {
		t.Fatal(err)
	}

	h.Sweep(ctx)

	if n := connected.callCount("health"); n != 1 {
		t.Errorf("connected platform health calls = %d, want 1", n)
	}
	if n := idle.callCount("health"); n != 0 {
		t.Errorf("idle platform health calls = %d, want 0", n)
	}

	ts, _ := h.Status(models.PlatformTwitter)
	if !ts.Healthy || ts.LastHealthCheck.IsZero() {
		t.Errorf("twitter status = healthy=%v checked=%v", ts.Healthy, ts.LastHealthCheck)
	}
	rs, _ := h.Status(models.PlatformReddit)
	if !rs.LastHealthCheck.IsZero() {
		t.Error("idle platform LastHealthCheck should stay zero")
	}

	got := sink.byType(EventHealthCheck)
	if len(got) != 1 {
		t.Fatalf("health_check events = %d, want 1", len(got))
	}
	if got[0].Status == nil || got[0].Status.Platform != models.PlatformTwitter {
		t.Errorf("health event status = %+v", got[0].Status)
	}
}

func TestSweep_PartialFailureIsolated(t *testing.T) {
	h := newTestHub(nil)
	healthy := newFakeAdapter(models.PlatformTwitter)
	sick := newFakeAdapter(models.PlatformReddit)
	sick.healthErr = errors.New("gateway timeout")
	h.Register(healthy)
	h.Register(sick)

	ctx := context.Background()
	for _, p := range []models.Platform{models.PlatformTwitter, models.PlatformReddit} {
		if _, err := h.Connect(ctx, "u1", p, models.Credentials{AccessToken: "t"}); err != nil {
			t.Fatal(err)
		}
	}

	h.Sweep(ctx)

	ts, _ := h.Status(models.PlatformTwitter)
	if !ts.Healthy {
		t.Error("healthy platform marked unhealthy by sibling failure")
	}
	rs, _ := h.Status(models.PlatformReddit)
	if rs.Healthy {
		t.Error("failing platform marked healthy")
	}
	if rs.ErrorCount != 1 || rs.LastError == "" {
		t.Errorf("failing platform status = errors=%d last=%q", rs.ErrorCount, rs.LastError)
	}
}

func TestRegister_ReplaceResetsState(t *testing.T) {
	h := newTestHub(nil)
	h.Register(newFakeAdapter(models.PlatformTwitter))

	ctx := context.Background()
	if _, err := h.Connect(ctx, "u1", models.PlatformTwitter, models.Credentials{AccessToken: "t"}); err != nil {
		t.Fatal(err)
	}

	h.Register(newFakeAdapter(models.PlatformTwitter))

	st, _ := h.Status(models.PlatformTwitter)
	if st.Connected || st.ConnectionCount != 0 || st.ErrorCount != 0 {
		t.Errorf("status after re-register = %+v, want zeroed", st)
	}
	if h.IsConnected("u1", models.PlatformTwitter) {
		t.Error("connection survived re-register")
	}
}

func TestStatuses_SortedSnapshot(t *testing.T) {
	h := newTestHub(nil)
	h.Register(newFakeAdapter(models.PlatformTwitter))
	h.Register(newFakeAdapter(models.PlatformDiscord))
	h.Register(newFakeAdapter(models.PlatformReddit))

	got := h.Statuses()
	if len(got) != 3 {
		t.Fatalf("statuses = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Platform >= got[i].Platform {
			t.Errorf("statuses not sorted: %v before %v", got[i-1].Platform, got[i].Platform)
		}
	}
}

func TestConcurrentOperations(t *testing.T) {
	h := newTestHub(&recordingSink{})
	fa := newFakeAdapter(models.PlatformTwitter)
	fa.page = models.ContentPage{Items: []models.ContentItem{{ID: "x"}}}
	h.Register(fa)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := string(rune('a' + i))
			if _, err := h.Connect(ctx, userID, models.PlatformTwitter, models.Credentials{AccessToken: "t"}); err != nil {
				t.Errorf("connect %s: %v", userID, err)
				return
			}
			if _, err := h.Content(ctx, userID, models.PlatformTwitter, models.ContentOptions{}); err != nil {
				t.Errorf("content %s: %v", userID, err)
			}
		}(i)
	}
	wg.Wait()

	st, _ := h.Status(models.PlatformTwitter)
	if st.ConnectionCount != 8 {
		t.Errorf("connection count = %d, want 8", st.ConnectionCount)
	}
}

func TestBufferedSink_DropsWhenFull(t *testing.T) {
	sink := NewBufferedSink(2, testLogger())
	defer sink.Close()

	for i := 0; i < 10; i++ {
		sink.Publish(newEvent(EventConnected, models.PlatformTwitter))
	}

	// Only the buffered events are deliverable; Publish never blocked.
	n := 0
	for {
		select {
		case <-sink.Events():
			n++
		default:
			if n != 2 {
				t.Errorf("delivered = %d, want 2", n)
			}
			return
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := New(testLogger(), nil, nil, nil, Config{HealthInterval: 5 * time.Millisecond})
	fa := newFakeAdapter(models.PlatformTwitter)
	h.Register(fa)
	if _, err := h.Connect(context.Background(), "u1", models.PlatformTwitter, models.Credentials{AccessToken: "t"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if fa.callCount("health") == 0 {
		t.Error("no health checks ran during Run")
	}
}
