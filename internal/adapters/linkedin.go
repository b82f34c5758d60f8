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

const defaultLinkedInBaseURL = "https://api.linkedin.com"

// LinkedIn implements the adapter contract against the LinkedIn REST API.
//
// Search is a degraded mode: LinkedIn exposes no member-level content
// search, so Search fetches the member's recent posts and filters them
// locally. Pages returned from Search carry LocalFilter=true.
type LinkedIn struct {
	cfg       platform.Config
	transport *platform.Transport
	logger    *slog.Logger
}

// NewLinkedIn builds a LinkedIn adapter from immutable platform config.
func NewLinkedIn(cfg platform.Config, logger *slog.Logger, collector *metrics.Collector) *LinkedIn {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultLinkedInBaseURL
	}
	return &LinkedIn{
		cfg:       cfg,
		transport: platform.NewTransport(models.PlatformLinkedIn, cfg, logger, collector),
		logger:    logger.With("platform", "linkedin"),
	}
}

func (a *LinkedIn) Platform() models.Platform { return models.PlatformLinkedIn }

type linkedInShare struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Created struct {
		Time int64 `json:"time"`
	} `json:"created"`
	SpecificContent struct {
		ShareContent struct {
			ShareCommentary struct {
				Text string `json:"text"`
			} `json:"shareCommentary"`
			Media []struct {
				OriginalURL string `json:"originalUrl"`
			} `json:"media"`
		} `json:"com.linkedin.ugc.ShareContent"`
	} `json:"specificContent"`
}

// Refresh exchanges the OAuth2 refresh token at the LinkedIn token
// endpoint and mutates creds in place.
func (a *LinkedIn) Refresh(ctx context.Context, creds *models.Credentials) error {
	if creds == nil || creds.RefreshToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformLinkedIn, "no refresh token available")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)

	req := platform.Request{Method: http.MethodPost, Path: "/oauth/v2/accessToken", Form: form}
	if a.cfg.TokenURL != "" {
		req.URL = a.cfg.TokenURL
		req.Path = ""
	}

	resp, err := a.transport.Do(ctx, req, platform.CallOptions{Operation: platform.KeyRefresh})
	if err != nil {
		return err
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return platform.WrapErr(platform.KindAuth, models.PlatformLinkedIn, err, "parse token response")
	}
	if out.AccessToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformLinkedIn, "token endpoint returned no access token")
	}

	creds.AccessToken = out.AccessToken
	if out.RefreshToken != "" {
		creds.RefreshToken = out.RefreshToken
	}
	if out.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		creds.ExpiresAt = &exp
	}
	a.logger.Info("access token refreshed")
	return nil
}

// Profile reads the OpenID userinfo projection of the member.
func (a *LinkedIn) Profile(ctx context.Context, creds *models.Credentials) (*models.Profile, error) {
	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/v2/userinfo"},
		platform.CallOptions{Operation: platform.KeyProfile, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		Picture       string `json:"picture"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformLinkedIn, err, "parse userinfo response")
	}

	metadata := map[string]string{}
	if out.Email != "" {
		metadata["email"] = out.Email
	}
	return &models.Profile{
		PlatformUserID: out.Sub,
		Username:       out.GivenName,
		DisplayName:    out.Name,
		Avatar:         out.Picture,
		Verified:       out.EmailVerified,
		Metadata:       metadata,
	}, nil
}

func (a *LinkedIn) Content(ctx context.Context, creds *models.Credentials, opts models.ContentOptions) (*models.ContentPage, error) {
	profile, err := a.Profile(ctx, creds)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", "authors")
	q.Set("authors", "List(urn:li:person:"+profile.PlatformUserID+")")
	if opts.Limit > 0 {
		q.Set("count", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("start", opts.Cursor)
	}

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/v2/ugcPosts", Query: q},
		platform.CallOptions{Operation: platform.KeyContent, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		Elements []linkedInShare `json:"elements"`
		Paging   struct {
			Start int `json:"start"`
			Count int `json:"count"`
			Total int `json:"total"`
		} `json:"paging"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformLinkedIn, err, "parse posts response")
	}

	items := make([]models.ContentItem, 0, len(out.Elements))
	for _, share := range out.Elements {
		items = append(items, a.toCanonicalContent(share))
	}

	next := ""
	if out.Paging.Start+out.Paging.Count < out.Paging.Total {
		next = strconv.Itoa(out.Paging.Start + out.Paging.Count)
	}
	return &models.ContentPage{
		Items:      items,
		NextCursor: next,
		RateLimit:  resp.RateLimit,
	}, nil
}

// Post publishes a UGC share authored by the connected member. The author
// URN is derived from the member's own profile.
func (a *LinkedIn) Post(ctx context.Context, creds *models.Credentials, draft models.Draft) (*models.PostReceipt, error) {
	if draft.Text == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformLinkedIn, "post text is required")
	}

	profile, err := a.Profile(ctx, creds)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"author":         "urn:li:person:" + profile.PlatformUserID,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": draft.Text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodPost, Path: "/v2/ugcPosts", JSON: body},
		platform.CallOptions{Operation: platform.KeyPost, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformLinkedIn, err, "parse post response")
	}
	return &models.PostReceipt{
		PostID:   out.ID,
		Platform: models.PlatformLinkedIn,
		PostedAt: time.Now(),
	}, nil
}

// Search is the degraded local-filter mode; see the type comment.
func (a *LinkedIn) Search(ctx context.Context, creds *models.Credentials, query string, opts models.SearchOptions) (*models.ContentPage, error) {
	if query == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformLinkedIn, "search query is required")
	}
	a.logger.Debug("native search unavailable, filtering recent posts locally", "query", query)

	page, err := a.Content(ctx, creds, models.ContentOptions{Limit: 100})
	if err != nil {
		return nil, err
	}
	return filterLocally(page, query, opts.Limit), nil
}

func (a *LinkedIn) CheckHealth(ctx context.Context, creds *models.Credentials) (*models.RateLimitInfo, error) {
	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/v2/userinfo"},
		platform.CallOptions{Operation: platform.KeyHealth, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}
	return resp.RateLimit, nil
}

func (a *LinkedIn) refreshFunc(creds *models.Credentials) platform.RefreshFunc {
	return func(ctx context.Context) error {
		return a.Refresh(ctx, creds)
	}
}

// toCanonicalContent maps a native UGC share to the canonical shape.
func (a *LinkedIn) toCanonicalContent(share linkedInShare) models.ContentItem {
	text := share.SpecificContent.ShareContent.ShareCommentary.Text
	hashtags, mentions := extractTags(text)

	links := []string{}
	for _, m := range share.SpecificContent.ShareContent.Media {
		if m.OriginalURL != "" {
			links = append(links, m.OriginalURL)
		}
	}

	var postedAt time.Time
	if share.Created.Time > 0 {
		postedAt = time.UnixMilli(share.Created.Time)
	}

	return models.ContentItem{
		ID:         "linkedin-" + share.ID,
		Platform:   models.PlatformLinkedIn,
		ExternalID: share.ID,
		Author: models.Author{
			ID: share.Author,
		},
		Body: models.Body{
			Text:   text,
			Images: []string{},
			Videos: []string{},
			Links:  links,
		},
		Metrics:   models.Metrics{},
		Hashtags:  hashtags,
		Mentions:  mentions,
		PostedAt:  postedAt,
		FetchedAt: time.Now(),
	}
}
