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

const defaultTelegramBaseURL = "https://api.telegram.org"

// Telegram implements the adapter contract against the Telegram Bot API.
// The bot token is static, so Refresh is a successful no-op, and the token
// travels in the URL path rather than an Authorization header.
//
// Search is a degraded mode: the Bot API has no search endpoint, so Search
// pulls recent updates and filters message text locally. Pages returned
// from Search carry LocalFilter=true.
type Telegram struct {
	cfg       platform.Config
	transport *platform.Transport
	logger    *slog.Logger
}

// NewTelegram builds a Telegram adapter from immutable platform config.
func NewTelegram(cfg platform.Config, logger *slog.Logger, collector *metrics.Collector) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramBaseURL
	}
	cfg.AuthScheme = "none"
	return &Telegram{
		cfg:       cfg,
		transport: platform.NewTransport(models.PlatformTelegram, cfg, logger, collector),
		logger:    logger.With("platform", "telegram"),
	}
}

func (a *Telegram) Platform() models.Platform { return models.PlatformTelegram }

type telegramMessage struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`
	From      struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Photo []struct {
		FileID string `json:"file_id"`
	} `json:"photo"`
	Video *struct {
		FileID string `json:"file_id"`
	} `json:"video"`
}

type telegramEnvelope struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Refresh is a no-op: bot tokens are static and never expire.
func (a *Telegram) Refresh(ctx context.Context, creds *models.Credentials) error {
	return nil
}

func (a *Telegram) Profile(ctx context.Context, creds *models.Credentials) (*models.Profile, error) {
	resp, err := a.call(ctx, http.MethodGet, creds, "getMe", nil, platform.KeyProfile)
	if err != nil {
		return nil, err
	}

	var out struct {
		telegramEnvelope
		Result struct {
			ID        int64  `json:"id"`
			IsBot     bool   `json:"is_bot"`
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"result"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformTelegram, err, "parse getMe response")
	}
	if !out.OK {
		return nil, platform.Errorf(platform.KindClient, models.PlatformTelegram, "getMe rejected: %s", out.Description)
	}

	return &models.Profile{
		PlatformUserID: strconv.FormatInt(out.Result.ID, 10),
		Username:       out.Result.Username,
		DisplayName:    out.Result.FirstName,
		Verified:       out.Result.IsBot,
		Metadata:       map[string]string{"isBot": strconv.FormatBool(out.Result.IsBot)},
	}, nil
}

// Content pulls recent updates visible to the bot.
func (a *Telegram) Content(ctx context.Context, creds *models.Credentials, opts models.ContentOptions) (*models.ContentPage, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("offset", opts.Cursor)
	}

	resp, err := a.call(ctx, http.MethodGet, creds, "getUpdates", q, platform.KeyContent)
	if err != nil {
		return nil, err
	}

	var out struct {
		telegramEnvelope
		Result []struct {
			UpdateID int64            `json:"update_id"`
			Message  *telegramMessage `json:"message"`
		} `json:"result"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformTelegram, err, "parse updates response")
	}
	if !out.OK {
		return nil, platform.Errorf(platform.KindClient, models.PlatformTelegram, "getUpdates rejected: %s", out.Description)
	}

	items := []models.ContentItem{}
	var lastUpdate int64
	for _, update := range out.Result {
		if update.Message == nil {
			continue
		}
		items = append(items, a.toCanonicalContent(*update.Message))
		lastUpdate = update.UpdateID
	}
	sortNewestFirst(items)

	next := ""
	if lastUpdate > 0 {
		next = strconv.FormatInt(lastUpdate+1, 10)
	}
	return &models.ContentPage{
		Items:      items,
		NextCursor: next,
		RateLimit:  resp.RateLimit,
	}, nil
}

// Post sends a message. A destination chat id is required and checked
// before any network call.
func (a *Telegram) Post(ctx context.Context, creds *models.Credentials, draft models.Draft) (*models.PostReceipt, error) {
	if draft.Target == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformTelegram, "target chat id is required")
	}
	if draft.Text == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformTelegram, "message text is required")
	}

	q := url.Values{}
	q.Set("chat_id", draft.Target)
	q.Set("text", draft.Text)

	resp, err := a.call(ctx, http.MethodPost, creds, "sendMessage", q, platform.KeyPost)
	if err != nil {
		return nil, err
	}

	var out struct {
		telegramEnvelope
		Result telegramMessage `json:"result"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, platform.WrapErr(platform.KindClient, models.PlatformTelegram, err, "parse sendMessage response")
	}
	if !out.OK {
		return nil, platform.Errorf(platform.KindClient, models.PlatformTelegram, "sendMessage rejected: %s", out.Description)
	}

	return &models.PostReceipt{
		PostID:   strconv.FormatInt(out.Result.MessageID, 10),
		Platform: models.PlatformTelegram,
		PostedAt: time.Now(),
	}, nil
}

// Search is the degraded local-filter mode; see the type comment.
func (a *Telegram) Search(ctx context.Context, creds *models.Credentials, query string, opts models.SearchOptions) (*models.ContentPage, error) {
	if query == "" {
		return nil, platform.Errorf(platform.KindValidation, models.PlatformTelegram, "search query is required")
	}
	a.logger.Debug("native search unavailable, filtering recent updates locally", "query", query)

	page, err := a.Content(ctx, creds, models.ContentOptions{Limit: 100})
	if err != nil {
		return nil, err
	}
	return filterLocally(page, query, opts.Limit), nil
}

func (a *Telegram) CheckHealth(ctx context.Context, creds *models.Credentials) (*models.RateLimitInfo, error) {
	resp, err := a.call(ctx, http.MethodGet, creds, "getMe", nil, platform.KeyHealth)
	if err != nil {
		return nil, err
	}
	return resp.RateLimit, nil
}

// call builds the token-in-path Bot API URL. No Refresh hook: a 401 on a
// static bot token is terminal.
func (a *Telegram) call(ctx context.Context, method string, creds *models.Credentials, apiMethod string, q url.Values, key string) (*platform.Response, error) {
	if creds == nil || creds.AccessToken == "" {
		return nil, platform.Errorf(platform.KindAuth, models.PlatformTelegram, "bot token is required")
	}
	return a.transport.Do(ctx, platform.Request{
		Method: method,
		Path:   "/bot" + creds.AccessToken + "/" + apiMethod,
		Query:  q,
	}, platform.CallOptions{Operation: key, Credentials: creds})
}

// toCanonicalContent maps a native message to the canonical shape.
func (a *Telegram) toCanonicalContent(msg telegramMessage) models.ContentItem {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	hashtags, mentions := extractTags(text)

	images := []string{}
	for _, p := range msg.Photo {
		images = append(images, p.FileID)
	}
	videos := []string{}
	if msg.Video != nil && msg.Video.FileID != "" {
		videos = append(videos, msg.Video.FileID)
	}

	var postedAt time.Time
	if msg.Date > 0 {
		postedAt = time.Unix(msg.Date, 0)
	}

	externalID := strconv.FormatInt(msg.MessageID, 10)
	return models.ContentItem{
		ID:         "telegram-" + externalID,
		Platform:   models.PlatformTelegram,
		ExternalID: externalID,
		Author: models.Author{
			ID:          strconv.FormatInt(msg.From.ID, 10),
			Username:    msg.From.Username,
			DisplayName: msg.From.FirstName,
		},
		Body: models.Body{
			Text:   text,
			Images: images,
			Videos: videos,
			Links:  []string{},
		},
		Metrics:   models.Metrics{},
		Hashtags:  hashtags,
		Mentions:  mentions,
		PostedAt:  postedAt,
		FetchedAt: time.Now(),
	}
}
