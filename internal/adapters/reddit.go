package adapters

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/omnisocial/omnisocial/internal/metrics"
	"github.com/omnisocial/omnisocial/internal/models"
	"github.com/omnisocial/omnisocial/internal/platform"
)

const (
	defaultRedditBaseURL  = "https://oauth.reddit.com"
	defaultRedditTokenURL = "https://www.reddit.com/api/v1/access_token"
)

// Reddit implements the adapter contract against the Reddit OAuth API.
type Reddit struct {
	cfg       platform.Config
	transport *platform.Transport
	logger    *slog.Logger
}

// NewReddit builds a Reddit adapter from immutable platform config.
func NewReddit(cfg platform.Config, logger *slog.Logger, collector *metrics.Collector) *Reddit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRedditBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultRedditTokenURL
	}
	return &Reddit{
		cfg:       cfg,
		transport: platform.NewTransport(models.PlatformReddit, cfg, logger, collector),
		logger:    logger.With("platform", "reddit"),
	}
}

func (a *Reddit) Platform() models.Platform { return models.PlatformReddit }

type redditPost struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	CreatedUTC  float64 `json:"created_utc"`
	Ups         int     `json:"ups"`
	NumComments int     `json:"num_comments"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	Thumbnail   string  `json:"thumbnail"`
	IsVideo     bool    `json:"is_video"`
}

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Refresh exchanges the OAuth2 refresh token at Reddit's separate token
// origin and mutates creds in place.
func (a *Reddit) Refresh(ctx context.Context, creds *models.Credentials) error {
	if creds == nil || creds.RefreshToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformReddit, "no refresh token available")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodPost, URL: a.cfg.TokenURL, Form: form},
		platform.CallOptions{Operation: platform.KeyRefresh})
	if err != nil {
		return err
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return platform.WrapErr(platform.KindAuth, models.PlatformReddit, err, "parse token response")
	}
	if out.AccessToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformReddit, "token endpoint returned no access token")
	}

	creds.AccessToken = out.AccessToken
	if out.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		creds.ExpiresAt = &exp
	}
	a.logger.Info("access token refreshed")
	return nil
}

func (a *Reddit) Profile(ctx context.Context, creds *models.Credentials) (*models.Profile, error) {
	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/api/v1/me"},
		platform.CallOptions{Operation: platform.KeyProfile, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		IconImg    string `json:"icon_img"`
		Verified   bool   `json:"verified"`
		TotalKarma int    `json:"total_karma"`
		Subreddit  struct {
			PublicDescription string `json:"public_description"`
			Subscribers       int    `json:"subscribers"`
		} `json:"subreddit"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformReddit, err, "parse profile response")
	}

	return &models.Profile{
		PlatformUserID: out.ID,
		Username:       out.Name,
		DisplayName:    out.Name,
		Avatar:         out.IconImg,
		Bio:            out.Subreddit.PublicDescription,
		FollowerCount:  out.Subreddit.Subscribers,
		Verified:       out.Verified,
		Metadata: map[string]string{
			"totalKarma": strconv.Itoa(out.TotalKarma),
		},
	}, nil
}

func (a *Reddit) Content(ctx context.Context, creds *models.Credentials, opts models.ContentOptions) (*models.ContentPage, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("after", opts.Cursor)
	}

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/new", Query: q},
		platform.CallOptions{Operation: platform.KeyContent, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}
	return a.decodeListing(resp)
}

// Post submits a self post. A destination subreddit and a title are
// required; both are checked before any network call.
func (a *Reddit) Post(ctx context.Context, creds *models.Credentials, draft models.Draft) (*models.PostReceipt, error) {
	if draft.Target == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformReddit, "target subreddit is required")
	}
	if draft.Title == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformReddit, "post title is required")
	}

	form := url.Values{}
	form.Set("sr", draft.Target)
	form.Set("title", draft.Title)
	form.Set("api_type", "json")
	if draft.Link != "" {
		form.Set("kind", "link")
		form.Set("url", draft.Link)
	} else {
		form.Set("kind", "self")
		form.Set("text", draft.Text)
	}

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodPost, Path: "/api/submit", Form: form},
		platform.CallOptions{Operation: platform.KeyPost, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		JSON struct {
			Data struct {
				ID  string `json:"id"`
				URL string `json:"url"`
			} `json:"data"`
		} `json:"json"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformReddit, err, "parse submit response")
	}
	return &models.PostReceipt{
		PostID:   out.JSON.Data.ID,
		Platform: models.PlatformReddit,
		URL:      out.JSON.Data.URL,
		PostedAt: time.Now(),
	}, nil
}

func (a *Reddit) Search(ctx context.Context, creds *models.Credentials, query string, opts models.SearchOptions) (*models.ContentPage, error) {
	if query == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformReddit, "search query is required")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "link")
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/search", Query: q},
		platform.CallOptions{Operation: platform.KeySearch, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}
	return a.decodeListing(resp)
}

func (a *Reddit) CheckHealth(ctx context.Context, creds *models.Credentials) (*models.RateLimitInfo, error) {
	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/api/v1/me"},
		platform.CallOptions{Operation: platform.KeyHealth, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}
	return resp.RateLimit, nil
}

func (a *Reddit) refreshFunc(creds *models.Credentials) platform.RefreshFunc {
	return func(ctx context.Context) error {
		return a.Refresh(ctx, creds)
	}
}

func (a *Reddit) decodeListing(resp *platform.Response) (*models.ContentPage, error) {
	var out redditListing
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformReddit, err, "parse listing response")
	}

	items := make([]models.ContentItem, 0, len(out.Data.Children))
	for _, child := range out.Data.Children {
		items = append(items, a.toCanonicalContent(child.Data))
	}
	return &models.ContentPage{
		Items:      items,
		NextCursor: out.Data.After,
		RateLimit:  resp.RateLimit,
	}, nil
}

// toCanonicalContent maps a native link/self post to the canonical shape.
func (a *Reddit) toCanonicalContent(post redditPost) models.ContentItem {
	text := post.Title
	if post.SelfText != "" {
		text = post.Title + "\n\n" + post.SelfText
	}
	hashtags, mentions := extractTags(post.SelfText)

	links := []string{}
	if post.Permalink != "" {
		links = append(links, "https://www.reddit.com"+post.Permalink)
	}
	images := []string{}
	videos := []string{}
	if post.IsVideo {
		if post.URL != "" {
			videos = append(videos, post.URL)
		}
	} else if post.Thumbnail != "" && post.Thumbnail != "self" && post.Thumbnail != "default" {
		images = append(images, post.Thumbnail)
	}

	var postedAt time.Time
	if post.CreatedUTC > 0 {
		postedAt = time.Unix(int64(post.CreatedUTC), 0)
	}

	m := models.Metrics{
		Likes:    post.Ups,
		Comments: post.NumComments,
	}
	m.Engagement = engagement(m)

	return models.ContentItem{
		ID:         "reddit-" + post.ID,
		Platform:   models.PlatformReddit,
		ExternalID: post.ID,
		Author: models.Author{
			Username:    post.Author,
			DisplayName: post.Author,
		},
		Body: models.Body{
			Text:   text,
			Images: images,
			Videos: videos,
			Links:  links,
		},
		Metrics:   m,
		Hashtags:  hashtags,
		Mentions:  mentions,
		PostedAt:  postedAt,
		FetchedAt: time.Now(),
	}
}
