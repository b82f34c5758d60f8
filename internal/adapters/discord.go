package adapters

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omnisocial/omnisocial/internal/metrics"
	"github.com/omnisocial/omnisocial/internal/models"
	"github.com/omnisocial/omnisocial/internal/platform"
)

const defaultDiscordBaseURL = "https://discord.com/api/v10"

// Discord implements the adapter contract against the Discord Bot API.
// The bot token is static, so Refresh is a successful no-op and the
// Authorization scheme is "Bot".
//
// Search is a degraded mode: message search is not exposed to bots, so
// Search fetches recent channel messages and filters them locally. Pages
// returned from Search carry LocalFilter=true.
type Discord struct {
	cfg       platform.Config
	transport *platform.Transport
	logger    *slog.Logger
}

// NewDiscord builds a Discord adapter from immutable platform config.
func NewDiscord(cfg platform.Config, logger *slog.Logger, collector *metrics.Collector) *Discord {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDiscordBaseURL
	}
	cfg.AuthScheme = "Bot"
	return &Discord{
		cfg:       cfg,
		transport: platform.NewTransport(models.PlatformDiscord, cfg, logger, collector),
		logger:    logger.With("platform", "discord"),
	}
}

func (a *Discord) Platform() models.Platform { return models.PlatformDiscord }

type discordMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Avatar     string `json:"avatar"`
	} `json:"author"`
	Attachments []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"attachments"`
	Mentions []struct {
		Username string `json:"username"`
	} `json:"mentions"`
	Reactions []struct {
		Count int `json:"count"`
	} `json:"reactions"`
}

// Refresh is a no-op: bot tokens are static and never expire.
func (a *Discord) Refresh(ctx context.Context, creds *models.Credentials) error {
	return nil
}

func (a *Discord) Profile(ctx context.Context, creds *models.Credentials) (*models.Profile, error) {
	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/users/@me"},
		platform.CallOptions{Operation: platform.KeyProfile, Credentials: creds})
	if err != nil {
		return nil, err
	}

	var out struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Avatar     string `json:"avatar"`
		Verified   bool   `json:"verified"`
		Bot        bool   `json:"bot"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformDiscord, err, "parse profile response")
	}

	display := out.GlobalName
	if display == "" {
		display = out.Username
	}
	return &models.Profile{
		PlatformUserID: out.ID,
		Username:       out.Username,
		DisplayName:    display,
		Avatar:         discordAvatarURL(out.ID, out.Avatar),
		Verified:       out.Verified,
		Metadata:       map[string]string{"isBot": strconv.FormatBool(out.Bot)},
	}, nil
}

// Content fetches recent messages from a channel. The channel id is a
// required platform-specific option.
func (a *Discord) Content(ctx context.Context, creds *models.Credentials, opts models.ContentOptions) (*models.ContentPage, error) {
	if opts.Channel == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformDiscord, "channel id is required")
	}

	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("before", opts.Cursor)
	}

	resp, err := a.transport.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   "/channels/" + opts.Channel + "/messages",
		Query:  q,
	}, platform.CallOptions{Operation: platform.KeyContent, Credentials: creds})
	if err != nil {
		return nil, err
	}

	var out []discordMessage
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformDiscord, err, "parse messages response")
	}

	items := make([]models.ContentItem, 0, len(out))
	for _, msg := range out {
		items = append(items, a.toCanonicalContent(msg))
	}

	next := ""
	if len(out) > 0 {
		next = out[len(out)-1].ID
	}
	return &models.ContentPage{
		Items:      items,
		NextCursor: next,
		RateLimit:  resp.RateLimit,
	}, nil
}

// Post sends a message. A destination channel id is required and checked
// before any network call.
func (a *Discord) Post(ctx context.Context, creds *models.Credentials, draft models.Draft) (*models.PostReceipt, error) {
	if draft.Target == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformDiscord, "target channel id is required")
	}
	if draft.Text == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformDiscord, "message text is required")
	}

	resp, err := a.transport.Do(ctx, platform.Request{
		Method: http.MethodPost,
		Path:   "/channels/" + draft.Target + "/messages",
		JSON:   map[string]string{"content": draft.Text},
	}, platform.CallOptions{Operation: platform.KeyPost, Credentials: creds})
	if err != nil {
		return nil, err
	}

	var out discordMessage
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformDiscord, err, "parse message response")
	}
	return &models.PostReceipt{
		PostID:   out.ID,
		Platform: models.PlatformDiscord,
		PostedAt: time.Now(),
	}, nil
}

// Search is the degraded local-filter mode; see the type comment. A channel
// id is required because bot content is always channel-scoped.
func (a *Discord) Search(ctx context.Context, creds *models.Credentials, query string, opts models.SearchOptions) (*models.ContentPage, error) {
	if query == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformDiscord, "search query is required")
	}
	if opts.Channel == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformDiscord, "channel id is required")
	}
	a.logger.Debug("native search unavailable, filtering recent messages locally", "query", query)

	page, err := a.Content(ctx, creds, models.ContentOptions{Limit: 100, Channel: opts.Channel})
	if err != nil {
		return nil, err
	}
	return filterLocally(page, query, opts.Limit), nil
}

func (a *Discord) CheckHealth(ctx context.Context, creds *models.Credentials) (*models.RateLimitInfo, error) {
	resp, err := a.transport.Do(ctx, platform.Request{Method: http.MethodGet, Path: "/users/@me"},
		platform.CallOptions{Operation: platform.KeyHealth, Credentials: creds})
	if err != nil {
		return nil, err
	}
	return resp.RateLimit, nil
}

// toCanonicalContent maps a native message to the canonical shape.
func (a *Discord) toCanonicalContent(msg discordMessage) models.ContentItem {
	hashtags, _ := extractTags(msg.Content)

	mentions := []string{}
	for _, m := range msg.Mentions {
		mentions = append(mentions, m.Username)
	}

	images := []string{}
	videos := []string{}
	for _, att := range msg.Attachments {
		switch {
		case strings.HasPrefix(att.ContentType, "video/"):
			videos = append(videos, att.URL)
		case strings.HasPrefix(att.ContentType, "image/"):
			images = append(images, att.URL)
		}
	}

	reactions := 0
	for _, r := range msg.Reactions {
		reactions += r.Count
	}

	display := msg.Author.GlobalName
	if display == "" {
		display = msg.Author.Username
	}

	m := models.Metrics{Likes: reactions}
	m.Engagement = engagement(m)

	return models.ContentItem{
		ID:         "discord-" + msg.ID,
		Platform:   models.PlatformDiscord,
		ExternalID: msg.ID,
		Author: models.Author{
			ID:          msg.Author.ID,
			Username:    msg.Author.Username,
			DisplayName: display,
			Avatar:      discordAvatarURL(msg.Author.ID, msg.Author.Avatar),
		},
		Body: models.Body{
			Text:   msg.Content,
			Images: images,
			Videos: videos,
			Links:  []string{},
		},
		Metrics:   m,
		Hashtags:  hashtags,
		Mentions:  mentions,
		PostedAt:  parseTime(msg.Timestamp),
		FetchedAt: time.Now(),
	}
}

func discordAvatarURL(userID, hash string) string {
	if userID == "" || hash == "" {
		return ""
	}
	return "https://cdn.discordapp.com/avatars/" + userID + "/" + hash + ".png"
}
