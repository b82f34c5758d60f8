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

const defaultInstagramBaseURL = "https://graph.instagram.com"

// Instagram implements the adapter contract against the Instagram Graph API.
//
// Search is a degraded mode: the API has no content search endpoint, so
// Search fetches the account's recent media and filters captions locally.
// Pages returned from Search carry LocalFilter=true.
type Instagram struct {
	cfg       platform.Config
	transport *platform.Transport
	logger    *slog.Logger
}

// NewInstagram builds an Instagram adapter from immutable platform config.
func NewInstagram(cfg platform.Config, logger *slog.Logger, collector *metrics.Collector) *Instagram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultInstagramBaseURL
	}
	return &Instagram{
		cfg:       cfg,
		transport: platform.NewTransport(models.PlatformInstagram, cfg, logger, collector),
		logger:    logger.With("platform", "instagram"),
	}
}

func (a *Instagram) Platform() models.Platform { return models.PlatformInstagram }

type instagramMedia struct {
	ID            string `json:"id"`
	Caption       string `json:"caption"`
	MediaType     string `json:"media_type"`
	MediaURL      string `json:"media_url"`
	Permalink     string `json:"permalink"`
	Timestamp     string `json:"timestamp"`
	Username      string `json:"username"`
	LikeCount     int    `json:"like_count"`
	CommentsCount int    `json:"comments_count"`
}

// Refresh extends the long-lived token via the ig_refresh_token grant.
// Instagram refreshes the current access token itself; no separate refresh
// token exists.
func (a *Instagram) Refresh(ctx context.Context, creds *models.Credentials) error {
	if creds == nil || creds.AccessToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformInstagram, "no access token to refresh")
	}

	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", creds.AccessToken)

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/refresh_access_token", Query: q},
		platform.CallOptions{Operation: platform.KeyRefresh})
	if err != nil {
		return err
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return platform.WrapErr(platform.KindAuth, models.PlatformInstagram, err, "parse token response")
	}
	if out.AccessToken == "" {
		return platform.Errorf(platform.KindAuth, models.PlatformInstagram, "refresh returned no access token")
	}

	creds.AccessToken = out.AccessToken
	if out.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		creds.ExpiresAt = &exp
	}
	a.logger.Info("access token refreshed")
	return nil
}

func (a *Instagram) Profile(ctx context.Context, creds *models.Credentials) (*models.Profile, error) {
	q := url.Values{}
	q.Set("fields", "id,username,account_type,media_count")

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/me", Query: q},
		platform.CallOptions{Operation: platform.KeyProfile, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		ID          string `json:"id"`
		Username    string `json:"username"`
		AccountType string `json:"account_type"`
		MediaCount  int    `json:"media_count"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformInstagram, err, "parse profile response")
	}

	return &models.Profile{
		PlatformUserID: out.ID,
		Username:       out.Username,
		DisplayName:    out.Username,
		Metadata: map[string]string{
			"accountType": out.AccountType,
			"mediaCount":  strconv.Itoa(out.MediaCount),
		},
	}, nil
}

func (a *Instagram) Content(ctx context.Context, creds *models.Credentials, opts models.ContentOptions) (*models.ContentPage, error) {
	q := url.Values{}
	q.Set("fields", "id,caption,media_type,media_url,permalink,timestamp,username,like_count,comments_count")
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("after", opts.Cursor)
	}

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/me/media", Query: q},
		platform.CallOptions{Operation: platform.KeyContent, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		Data   []instagramMedia `json:"data"`
		Paging struct {
			Cursors struct {
				After string `json:"after"`
			} `json:"cursors"`
		} `json:"paging"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformInstagram, err, "parse media response")
	}

	items := make([]models.ContentItem, 0, len(out.Data))
	for _, media := range out.Data {
		items = append(items, a.toCanonicalContent(media))
	}
	return &models.ContentPage{
		Items:      items,
		NextCursor: out.Paging.Cursors.After,
		RateLimit:  resp.RateLimit,
	}, nil
}

// Post publishes an image through the two-step container flow: create a
// media container, then publish it. Instagram requires media, so a draft
// without at least one image fails validation before any network call.
func (a *Instagram) Post(ctx context.Context, creds *models.Credentials, draft models.Draft) (*models.PostReceipt, error) {
	if len(draft.Images) == 0 {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformInstagram, "at least one image url is required")
	}

	form := url.Values{}
	form.Set("image_url", draft.Images[0])
	if draft.Text != "" {
		form.Set("caption", draft.Text)
	}

	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodPost, Path: "/me/media", Form: form},
		platform.CallOptions{Operation: platform.KeyPost, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var container struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&container); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformInstagram, err, "parse container response")
	}

	publishForm := url.Values{}
	publishForm.Set("creation_id", container.ID)

	resp, err = a.transport.Do(ctx, platform.Request{Method: http.MethodPost, Path: "/me/media_publish", Form: publishForm},
		platform.CallOptions{Operation: platform.KeyPost, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformInstagram, err, "parse publish response")
	}
	return &models.PostReceipt{
		PostID:   out.ID,
		Platform: models.PlatformInstagram,
		PostedAt: time.Now(),
	}, nil
}

// Search is the degraded local-filter mode; see the type comment.
func (a *Instagram) Search(ctx context.Context, creds *models.Credentials, query string, opts models.SearchOptions) (*models.ContentPage, error) {
	if query == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformInstagram, "search query is required")
	}
	a.logger.Debug("native search unavailable, filtering recent media locally", "query", query)

	page, err := a.Content(ctx, creds, models.ContentOptions{Limit: 100})
	if err != nil {
		return nil, err
	}
	return filterLocally(page, query, opts.Limit), nil
}

func (a *Instagram) CheckHealth(ctx context.Context, creds *models.Credentials) (*models.RateLimitInfo, error) {
	q := url.Values{}
	q.Set("fields", "id")
	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/me", Query: q},
		platform.CallOptions{Operation: platform.KeyHealth, Credentials: creds, Refresh: a.refreshFunc(creds)})
	if err != nil {
		return nil, err
	}
	return resp.RateLimit, nil
}

func (a *Instagram) refreshFunc(creds *models.Credentials) platform.RefreshFunc {
	return func(ctx context.Context) error {
		return a.Refresh(ctx, creds)
	}
}

// toCanonicalContent maps a native media object to the canonical shape.
func (a *Instagram) toCanonicalContent(media instagramMedia) models.ContentItem {
	hashtags, mentions := extractTags(media.Caption)

	images := []string{}
	videos := []string{}
	switch media.MediaType {
	case "VIDEO", "REELS":
		if media.MediaURL != "" {
			videos = append(videos, media.MediaURL)
		}
	default:
		if media.MediaURL != "" {
			images = append(images, media.MediaURL)
		}
	}
	links := []string{}
	if media.Permalink != "" {
		links = append(links, media.Permalink)
	}

	m := models.Metrics{
		Likes:    media.LikeCount,
		Comments: media.CommentsCount,
	}
	m.Engagement = engagement(m)

	return models.ContentItem{
		ID:         "instagram-" + media.ID,
		Platform:   models.PlatformInstagram,
		ExternalID: media.ID,
		Author: models.Author{
			Username:    media.Username,
			DisplayName: media.Username,
		},
		Body: models.Body{
			Text:   media.Caption,
			Images: images,
			Videos: videos,
			Links:  links,
		},
		Metrics:   m,
		Hashtags:  hashtags,
		Mentions:  mentions,
		PostedAt:  parseTime(media.Timestamp),
		FetchedAt: time.Now(),
	}
}
