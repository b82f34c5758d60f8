package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/omnisocial/omnisocial/internal/metrics"
	"github.com/omnisocial/omnisocial/internal/models"
	"github.com/omnisocial/omnisocial/internal/platform"
)

const defaultTwitterBaseURL = "https://api.twitter.com"

// Twitter implements the adapter contract against the Twitter/X API v2.
type Twitter struct {
	cfg       platform.Config
	transport *platform.Transport
	logger    *slog.Logger
}

// NewTwitter builds a Twitter adapter from immutable platform config.
func NewTwitter(cfg platform.Config, logger *slog.Logger, collector *metrics.Collector) *Twitter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwitterBaseURL
	}
	return &Twitter{
		cfg:       cfg,
		transport: platform.NewTransport(models.PlatformTwitter, cfg, logger, collector),
		logger:    logger.With("platform", "twitter"),
	}
}

func (a *Twitter) Platform() models.Platform { return models.PlatformTwitter }

type twitterUser struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profile_image_url"`
	Verified        bool   `json:"verified"`
	PublicMetrics   struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
	} `json:"public_metrics"`
}

type twitterTweet struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	AuthorID      string `json:"author_id"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics struct {
		RetweetCount    int `json:"retweet_count"`
		ReplyCount      int `json:"reply_count"`
		LikeCount       int `json:"like_count"`
		ImpressionCount int `json:"impression_count"`
	} `json:"public_metrics"`
	Entities struct {
		Hashtags []struct {
			Tag string `json:"tag"`
		} `json:"hashtags"`
		Mentions []struct {
			Username string `json:"username"`
		} `json:"mentions"`
		URLs []struct {
			ExpandedURL string `json:"expanded_url"`
		} `json:"urls"`
	} `json:"entities"`
}

type twitterTimeline struct {
	Data     []twitterTweet `json:"data"`
	Includes struct {
		Users []twitterUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

// Refresh exchanges the OAuth2 refresh token for a new access token and
// mutates creds in place.
func (a *Twitter) Refresh(ctx context.Context, creds *models.Credentials) error {
	if creds == nil || creds.RefreshToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformTwitter, "no refresh token available")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)

	req := platform.Request{Method: http.MethodPost, Path: "/2/oauth2/token", Form: form}
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
		return platform.WrapErr(platform.KindAuth, models.PlatformTwitter, err, "parse token response")
	}
	if out.AccessToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformTwitter, "token endpoint returned no access token")
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

func (a *Twitter) Profile(ctx context.Context, creds *models.Credentials) (*models.Profile, error) {
	q := url.Values{}
	q.Set("user.fields", "description,profile_image_url,verified,public_metrics")

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/2/users/me", Query: q},
		platform.CallOptions{Operation: platform.KeyProfile, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		Data twitterUser `json:"data"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformTwitter, err, "parse profile response")
	}
	return a.toCanonicalProfile(out.Data), nil
}

func (a *Twitter) Content(ctx context.Context, creds *models.Credentials, opts models.ContentOptions) (*models.ContentPage, error) {
	profile, err := a.Profile(ctx, creds)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("tweet.fields", "created_at,public_metrics,entities")
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username,name,profile_image_url")
	if opts.Limit > 0 {
		q.Set("max_results", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("pagination_token", opts.Cursor)
	}

	resp, err := a.transport.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/2/users/%s/tweets", profile.PlatformUserID),
		Query:  q,
	}, platform.CallOptions{Operation: platform.KeyContent, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}
	return a.decodeTimeline(resp, false)
}

func (a *Twitter) Post(ctx context.Context, creds *models.Credentials, draft models.Draft) (*models.PostReceipt, error) {
	if draft.Text == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformTwitter, "post text is required")
	}

	resp, err := a.transport.Do(ctx, platform.Request{
		Method: http.MethodPost,
		Path:   "/2/tweets",
		JSON:   map[string]string{"text": draft.Text},
	}, platform.CallOptions{Operation: platform.KeyPost, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformTwitter, err, "parse post response")
	}
	return &models.PostReceipt{
		PostID:   out.Data.ID,
		Platform: models.PlatformTwitter,
		URL:      "https://twitter.com/i/web/status/" + out.Data.ID,
		PostedAt: time.Now(),
	}, nil
}

func (a *Twitter) Search(ctx context.Context, creds *models.Credentials, query string, opts models.SearchOptions) (*models.ContentPage, error) {
	if query == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformTwitter, "search query is required")
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("tweet.fields", "created_at,public_metrics,entities")
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username,name,profile_image_url")
	if opts.Limit > 0 {
		q.Set("max_results", strconv.Itoa(opts.Limit))
	}

	resp, err := a.transport.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   "/2/tweets/search/recent",
		Query:  q,
	}, platform.CallOptions{Operation: platform.KeySearch, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}
	return a.decodeTimeline(resp, false)
}

// CheckHealth probes the cheapest authenticated endpoint and reports the
// rate-limit state carried on its response headers.
func (a *Twitter) CheckHealth(ctx context.Context, creds *models.Credentials) (*models.RateLimitInfo, error) {
	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/2/users/me"},
		platform.CallOptions{Operation: platform.KeyHealth, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}
	return resp.RateLimit, nil
}

func (a *Twitter) refreshFunc(creds *models.Credentials) platform.RefreshFunc {
	return func(ctx context.Context) error {
		return a.Refresh(ctx, creds)
	}
}

func (a *Twitter) decodeTimeline(resp *platform.Response, localFilter bool) (*models.ContentPage, error) {
	var out twitterTimeline
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformTwitter, err, "parse timeline response")
	}

	users := make(map[string]twitterUser, len(out.Includes.Users))
	for _, u := range out.Includes.Users {
		users[u.ID] = u
	}

	items := make([]models.ContentItem, 0, len(out.Data))
	for _, tweet := range out.Data {
		items = append(items, a.toCanonicalContent(tweet, users))
	}
	return &models.ContentPage{
		Items:       items,
		NextCursor:  out.Meta.NextToken,
		RateLimit:   resp.RateLimit,
		LocalFilter: localFilter,
	}, nil
}

// toCanonicalContent maps a native tweet to the canonical shape. Total:
// absent optional fields degrade to zero values and empty slices.
func (a *Twitter) toCanonicalContent(tweet twitterTweet, users map[string]twitterUser) models.ContentItem {
	author := models.Author{ID: tweet.AuthorID}
	if u, ok := users[tweet.AuthorID]; ok {
		author.Username = u.Username
		author.DisplayName = u.Name
		author.Avatar = u.ProfileImageURL
	}

	hashtags := []string{}
	for _, h := range tweet.Entities.Hashtags {
		hashtags = append(hashtags, h.Tag)
	}
	mentions := []string{}
	for _, m := range tweet.Entities.Mentions {
		mentions = append(mentions, m.Username)
	}
	links := []string{}
	for _, u := range tweet.Entities.URLs {
		if u.ExpandedURL != "" {
			links = append(links, u.ExpandedURL)
		}
	}

	m := models.Metrics{
		Likes:    tweet.PublicMetrics.LikeCount,
		Shares:   tweet.PublicMetrics.RetweetCount,
		Comments: tweet.PublicMetrics.ReplyCount,
		Views:    tweet.PublicMetrics.ImpressionCount,
	}
	m.Engagement = engagement(m)

	return models.ContentItem{
		ID:         "twitter-" + tweet.ID,
		Platform:   models.PlatformTwitter,
		ExternalID: tweet.ID,
		Author:     author,
		Body: models.Body{
			Text:   tweet.Text,
			Images: []string{},
			Videos: []string{},
			Links:  links,
		},
		Metrics:   m,
		Hashtags:  hashtags,
		Mentions:  mentions,
		PostedAt:  parseTime(tweet.CreatedAt),
		FetchedAt: time.Now(),
	}
}

// toCanonicalProfile maps a native user to the canonical shape.
func (a *Twitter) toCanonicalProfile(u twitterUser) *models.Profile {
	return &models.Profile{
		PlatformUserID: u.ID,
		Username:       u.Username,
		DisplayName:    u.Name,
		Avatar:         u.ProfileImageURL,
		Bio:            u.Description,
		FollowerCount:  u.PublicMetrics.FollowersCount,
		FollowingCount: u.PublicMetrics.FollowingCount,
		Verified:       u.Verified,
		Metadata:       map[string]string{},
	}
}
