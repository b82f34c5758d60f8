package adapters

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/omnisocial/omnisocial/internal/models"
	"github.com/omnisocial/omnisocial/internal/platform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(baseURL string) platform.Config {
	return platform.Config{
		BaseURL:   baseURL,
		RateLimit: platform.RateLimitConfig{Requests: 1000, Window: time.Minute},
		Retry:     platform.RetryConfig{MaxRetries: 1, Delay: time.Millisecond},
	}
}

func TestNew_AllPlatformsHaveAdapters(t *testing.T) {
	for _, p := range models.AllPlatforms() {
		adapter, err := New(p, testConfig(""), testLogger(), nil)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if adapter.Platform() != p {
			t.Errorf("%s: adapter reports platform %s", p, adapter.Platform())
		}
	}
}

// checkCanonical asserts the invariants every transform must uphold: a
// platform tag, non-nil media slices, and non-nil tag slices.
func checkCanonical(t *testing.T, item models.ContentItem, p models.Platform) {
	t.Helper()
	if item.Platform != p {
		t.Errorf("expected platform %s, got %s", p, item.Platform)
	}
	for name, s := range map[string][]string{
		"images":   item.Body.Images,
		"videos":   item.Body.Videos,
		"links":    item.Body.Links,
		"hashtags": item.Hashtags,
		"mentions": item.Mentions,
	} {
		if s == nil {
			t.Errorf("%s: expected empty slice, got nil", name)
		}
	}
	if item.FetchedAt.IsZero() {
		t.Error("expected fetchedAt to be set")
	}
}

// Transforms must be total: a degenerate native payload with every optional
// field absent still yields a well-formed canonical item.
func TestTransforms_TotalOnDegeneratePayloads(t *testing.T) {
	logger := testLogger()
	cfg := testConfig("")

	t.Run("twitter", func(t *testing.T) {
		item := NewTwitter(cfg, logger, nil).toCanonicalContent(twitterTweet{}, nil)
		checkCanonical(t, item, models.PlatformTwitter)
	})
	t.Run("facebook", func(t *testing.T) {
		item := NewFacebook(cfg, logger, nil).toCanonicalContent(facebookPost{})
		checkCanonical(t, item, models.PlatformFacebook)
	})
	t.Run("linkedin", func(t *testing.T) {
		item := NewLinkedIn(cfg, logger, nil).toCanonicalContent(linkedInShare{})
		checkCanonical(t, item, models.PlatformLinkedIn)
	})
	t.Run("instagram", func(t *testing.T) {
		item := NewInstagram(cfg, logger, nil).toCanonicalContent(instagramMedia{})
		checkCanonical(t, item, models.PlatformInstagram)
	})
	t.Run("reddit", func(t *testing.T) {
		item := NewReddit(cfg, logger, nil).toCanonicalContent(redditPost{})
		checkCanonical(t, item, models.PlatformReddit)
	})
	t.Run("telegram", func(t *testing.T) {
		item := NewTelegram(cfg, logger, nil).toCanonicalContent(telegramMessage{})
		checkCanonical(t, item, models.PlatformTelegram)
	})
	t.Run("discord", func(t *testing.T) {
		item := NewDiscord(cfg, logger, nil).toCanonicalContent(discordMessage{})
		checkCanonical(t, item, models.PlatformDiscord)
	})
}

// Missing platform-specific required fields must fail validation without
// any network call: the base URL here is unroutable on purpose.
func TestPost_RequiredFieldValidation(t *testing.T) {
	logger := testLogger()
	cfg := testConfig("http://127.0.0.1:1")
	creds := &models.Credentials{AccessToken: "tok"}

	tests := []struct {
		name    string
		adapter platform.Adapter
		draft   models.Draft
	}{
		{"reddit missing subreddit", NewReddit(cfg, logger, nil), models.Draft{Title: "t", Text: "x"}},
		{"reddit missing title", NewReddit(cfg, logger, nil), models.Draft{Target: "golang", Text: "x"}},
		{"telegram missing chat", NewTelegram(cfg, logger, nil), models.Draft{Text: "x"}},
		{"discord missing channel", NewDiscord(cfg, logger, nil), models.Draft{Text: "x"}},
		{"facebook missing page", NewFacebook(cfg, logger, nil), models.Draft{Text: "x"}},
		{"instagram missing image", NewInstagram(cfg, logger, nil), models.Draft{Text: "x"}},
		{"twitter missing text", NewTwitter(cfg, logger, nil), models.Draft{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.adapter.Post(context.Background(), creds, tt.draft)
			if platform.KindOf(err) != platform.KindValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestReddit_ContentMapsListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/new" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("X-RateLimit-Remaining", "95")
		w.Header().Set("X-RateLimit-Limit", "100")
		w.Write([]byte(`{
			"data": {
				"after": "t3_next",
				"children": [
					{"data": {
						"id": "abc",
						"title": "Go question",
						"selftext": "How does #golang handle @concurrency?",
						"author": "gopher",
						"created_utc": 1700000000,
						"ups": 42,
						"num_comments": 7,
						"permalink": "/r/golang/comments/abc/go_question/"
					}}
				]
			}
		}`))
	}))
	defer srv.Close()

	adapter := NewReddit(testConfig(srv.URL), testLogger(), nil)
	page, err := adapter.Content(context.Background(), &models.Credentials{AccessToken: "tok"}, models.ContentOptions{Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(page.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(page.Items))
	}
	item := page.Items[0]
	if item.ExternalID != "abc" || item.Author.Username != "gopher" {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.Metrics.Likes != 42 || item.Metrics.Comments != 7 || item.Metrics.Engagement != 49 {
		t.Errorf("unexpected metrics: %+v", item.Metrics)
	}
	if !reflect.DeepEqual(item.Hashtags, []string{"golang"}) {
		t.Errorf("unexpected hashtags: %v", item.Hashtags)
	}
	if !reflect.DeepEqual(item.Mentions, []string{"concurrency"}) {
		t.Errorf("unexpected mentions: %v", item.Mentions)
	}
	if page.NextCursor != "t3_next" {
		t.Errorf("unexpected cursor: %q", page.NextCursor)
	}
	if page.RateLimit == nil || page.RateLimit.Remaining != 95 {
		t.Errorf("expected rate limit info from headers, got %+v", page.RateLimit)
	}
	if page.LocalFilter {
		t.Error("native fetch must not be marked as local filter")
	}
}

func TestTelegram_PostSendsMessage(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if got := r.URL.Query().Get("chat_id"); got != "12345" {
			t.Errorf("unexpected chat_id %q", got)
		}
		w.Write([]byte(`{"ok": true, "result": {"message_id": 77}}`))
	}))
	defer srv.Close()

	adapter := NewTelegram(testConfig(srv.URL), testLogger(), nil)
	receipt, err := adapter.Post(context.Background(), &models.Credentials{AccessToken: "bot-token"},
		models.Draft{Target: "12345", Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.PostID != "77" {
		t.Errorf("unexpected post id %q", receipt.PostID)
	}
	if gotPath != "/botbot-token/sendMessage" {
		t.Errorf("expected token-in-path call, got %q", gotPath)
	}
}

func TestTelegram_RefreshIsNoOp(t *testing.T) {
	adapter := NewTelegram(testConfig("http://127.0.0.1:1"), testLogger(), nil)
	if err := adapter.Refresh(context.Background(), &models.Credentials{AccessToken: "bot"}); err != nil {
		t.Errorf("bot-token refresh must succeed without network: %v", err)
	}
}

func TestFacebook_SearchFallsBackToLocalFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/feed" {
			t.Errorf("expected feed fetch, got %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"data": [
				{"id": "1", "message": "Launching our new rocket today"},
				{"id": "2", "message": "Lunch menu for the office"}
			]
		}`))
	}))
	defer srv.Close()

	adapter := NewFacebook(testConfig(srv.URL), testLogger(), nil)
	page, err := adapter.Search(context.Background(), &models.Credentials{AccessToken: "tok"}, "rocket", models.SearchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !page.LocalFilter {
		t.Error("degraded search must be marked LocalFilter")
	}
	if len(page.Items) != 1 || page.Items[0].ExternalID != "1" {
		t.Errorf("unexpected filter result: %+v", page.Items)
	}
}

func TestTwitter_ProfileMapsUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer header")
		}
		w.Write([]byte(`{"data": {
			"id": "99",
			"name": "Gopher",
			"username": "gopher",
			"verified": true,
			"public_metrics": {"followers_count": 10, "following_count": 3}
		}}`))
	}))
	defer srv.Close()

	adapter := NewTwitter(testConfig(srv.URL), testLogger(), nil)
	profile, err := adapter.Profile(context.Background(), &models.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.PlatformUserID != "99" || profile.Username != "gopher" || !profile.Verified {
		t.Errorf("unexpected profile: %+v", profile)
	}
	if profile.FollowerCount != 10 || profile.FollowingCount != 3 {
		t.Errorf("unexpected counts: %+v", profile)
	}
}

func TestDiscord_ContentRequiresChannel(t *testing.T) {
	adapter := NewDiscord(testConfig("http://127.0.0.1:1"), testLogger(), nil)
	_, err := adapter.Content(context.Background(), &models.Credentials{AccessToken: "tok"}, models.ContentOptions{})
	if platform.KindOf(err) != platform.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestExtractTags(t *testing.T) {
	hashtags, mentions := extractTags("Shipping #go and #distributed systems with @alice, @bob.")
	if !reflect.DeepEqual(hashtags, []string{"go", "distributed"}) {
		t.Errorf("unexpected hashtags: %v", hashtags)
	}
	if !reflect.DeepEqual(mentions, []string{"alice", "bob"}) {
		t.Errorf("unexpected mentions: %v", mentions)
	}

	hashtags, mentions = extractTags("")
	if hashtags == nil || mentions == nil {
		t.Error("expected empty slices for empty text")
	}
}
