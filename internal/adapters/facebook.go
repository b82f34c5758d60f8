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

const defaultFacebookBaseURL = "https://graph.facebook.com/v19.0"

// Facebook implements the adapter contract against the Facebook Graph API.
//
// Search is a degraded mode: the Graph API no longer exposes public content
// search, so Search fetches the recent feed and filters it locally. Pages
// returned from Search carry LocalFilter=true.
type Facebook struct {
	cfg       platform.Config
	transport *platform.Transport
	logger    *slog.Logger
}

// NewFacebook builds a Facebook adapter from immutable platform config.
func NewFacebook(cfg platform.Config, logger *slog.Logger, collector *metrics.Collector) *Facebook {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultFacebookBaseURL
	}
	return &Facebook{
		cfg:       cfg,
		transport: platform.NewTransport(models.PlatformFacebook, cfg, logger, collector),
		logger:    logger.With("platform", "facebook"),
	}
}

func (a *Facebook) Platform() models.Platform { return models.PlatformFacebook }

type facebookPost struct {
	ID           string `json:"id"`
	Message      string `json:"message"`
	CreatedTime  string `json:"created_time"`
	PermalinkURL string `json:"permalink_url"`
	FullPicture  string `json:"full_picture"`
	From         struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	Shares struct {
		Count int `json:"count"`
	} `json:"shares"`
	Likes struct {
		Summary struct {
			TotalCount int `json:"total_count"`
		} `json:"summary"`
	} `json:"likes"`
	Comments struct {
		Summary struct {
			TotalCount int `json:"total_count"`
		} `json:"summary"`
	} `json:"comments"`
}

type facebookFeed struct {
	Data   []facebookPost `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
	} `json:"paging"`
}

// Refresh exchanges the stored long-lived token for a fresh one. The Graph
// API has no separate refresh token; the exchange token is carried in
// RefreshToken.
func (a *Facebook) Refresh(ctx context.Context, creds *models.Credentials) error {
	if creds == nil || creds.RefreshToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformFacebook, "no exchange token available")
	}

	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("fb_exchange_token", creds.RefreshToken)

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/oauth/access_token", Query: q},
		platform.CallOptions{Operation: platform.KeyRefresh})
	if err != nil {
		return err
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return platform.WrapErr(platform.KindAuth, models.PlatformFacebook, err, "parse token response")
	}
	if out.AccessToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformFacebook, "token exchange returned no access token")
	}

	creds.AccessToken = out.AccessToken
	if out.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		creds.ExpiresAt = &exp
	}
	a.logger.Info("access token refreshed")
	return nil
}

func (a *Facebook) Profile(ctx context.Context, creds *models.Credentials) (*models.Profile, error) {
	q := url.Values{}
	q.Set("fields", "id,name,picture")

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/me", Query: q},
		platform.CallOptions{Operation: platform.KeyProfile, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformFacebook, err, "parse profile response")
	}
	return &models.Profile{
		PlatformUserID: out.ID,
		Username:       out.Name,
		DisplayName:    out.Name,
		Avatar:         out.Picture.Data.URL,
		Metadata:       map[string]string{},
	}, nil
}

func (a *Facebook) Content(ctx context.Context, creds *models.Credentials, opts models.ContentOptions) (*models.ContentPage, error) {
	q := url.Values{}
	q.Set("fields", "id,message,created_time,permalink_url,full_picture,from,shares,likes.summary(true),comments.summary(true)")
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("after", opts.Cursor)
	}

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/me/feed", Query: q},
		platform.CallOptions{Operation: platform.KeyContent, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out facebookFeed
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformFacebook, err, "parse feed response")
	}

	items := make([]models.ContentItem, 0, len(out.Data))
	for _, post := range out.Data {
		items = append(items, a.toCanonicalContent(post))
	}
	return &models.ContentPage{
		Items:      items,
		NextCursor: out.Paging.Cursors.After,
		RateLimit:  resp.RateLimit,
	}, nil
}

// Post publishes to a page feed. Target (the page id) is required.
func (a *Facebook) Post(ctx context.Context, creds *models.Credentials, draft models.Draft) (*models.PostReceipt, error) {
	if draft.Target == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformFacebook, "target page id is required")
	}
	if draft.Text == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformFacebook, "post text is required")
	}

	form := url.Values{}
	form.Set("message", draft.Text)
	if draft.Link != "" {
		form.Set("link", draft.Link)
	}

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodPost, Path: "/" + draft.Target + "/feed", Form: form},
		platform.CallOptions{Operation: platform.KeyPost, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformFacebook, err, "parse post response")
	}
	return &models.PostReceipt{
		PostID:   out.ID,
		Platform: models.PlatformFacebook,
		PostedAt: time.Now(),
	}, nil
}

// Search is the degraded local-filter mode; see the type comment.
func (a *Facebook) Search(ctx context.Context, creds *models.Credentials, query string, opts models.SearchOptions) (*models.ContentPage, error) {
	if query == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformFacebook, "search query is required")
	}
	a.logger.Debug("native search unavailable, filtering recent feed locally", "query", query)

	page, err := a.Content(ctx, creds, models.ContentOptions{Limit: 100})
	if err != nil {
		return nil, err
	}
	return filterLocally(page, query, opts.Limit), nil
}

func (a *Facebook) CheckHealth(ctx context.Context, creds *models.Credentials) (*models.RateLimitInfo, error) {
	q := url.Values{}
	q.Set("fields", "id")
	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/me", Query: q},
		platform.CallOptions{Operation: platform.KeyHealth, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}
	return resp.RateLimit, nil
}

func (a *Facebook) refreshFunc(creds *models.Credentials) platform.RefreshFunc {
	return func(ctx context.Context) error {
		return a.Refresh(ctx, creds)
	}
}

// toCanonicalContent maps a native feed post to the canonical shape.
func (a *Facebook) toCanonicalContent(post facebookPost) models.ContentItem {
	hashtags, mentions := extractTags(post.Message)

	images := []string{}
	if post.FullPicture != "" {
		images = append(images, post.FullPicture)
	}
	links := []string{}
	if post.PermalinkURL != "" {
		links = append(links, post.PermalinkURL)
	}

	m := models.Metrics{
		Likes:    post.Likes.Summary.TotalCount,
		Shares:   post.Shares.Count,
		Comments: post.Comments.Summary.TotalCount,
	}
	m.Engagement = engagement(m)

	return models.ContentItem{
		ID:         "facebook-" + post.ID,
		Platform:   models.PlatformFacebook,
		ExternalID: post.ID,
		Author: models.Author{
			ID:          post.From.ID,
			Username:    post.From.Name,
			DisplayName: post.From.Name,
		},
		Body: models.Body{
			Text:   post.Message,
			Images: images,
			Videos: []string{},
			Links:  links,
		},
		Metrics:   m,
		Hashtags:  hashtags,
		Mentions:  mentions,
		PostedAt:  parseFacebookTime(post.CreatedTime),
		FetchedAt: time.Now(),
	}
}

// parseFacebookTime accepts both RFC3339 and the Graph API's zone format
// without a colon ("2024-01-02T15:04:05+0000").
func parseFacebookTime(s string) time.Time {
	if t := parseTime(s); !t.IsZero() {
		return t
	}
	t, err := time.Parse("2006-01-02T15:04:05-0700", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
