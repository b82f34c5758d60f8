// Package adapters provides the concrete per-platform implementations of
// the platform.Adapter contract. Each adapter holds only immutable
// configuration and a shared transport; credentials are supplied per call.
package adapters

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/omnisocial/omnisocial/internal/metrics"
	"github.com/omnisocial/omnisocial/internal/models"
	"github.com/omnisocial/omnisocial/internal/platform"
)

// New constructs the adapter for the given platform.
func New(p models.Platform, cfg platform.Config, logger *slog.Logger, collector *metrics.Collector) (platform.Adapter, error) {
	switch p {
	case models.PlatformTwitter:
		return NewTwitter(cfg, logger, collector), nil
	case models.PlatformFacebook:
		return NewFacebook(cfg, logger, collector), nil
	case models.PlatformLinkedIn:
		return NewLinkedIn(cfg, logger, collector), nil
	case models.PlatformInstagram:
		return NewInstagram(cfg, logger, collector), nil
	case models.PlatformReddit:
		return NewReddit(cfg, logger, collector), nil
	case models.PlatformTelegram:
		return NewTelegram(cfg, logger, collector), nil
	case models.PlatformDiscord:
		return NewDiscord(cfg, logger, collector), nil
	}
	return nil, platform.Errorf(platform.KindNotRegistered, p, "no adapter implementation")
}

// extractTags pulls #hashtags and @mentions out of free text for platforms
// whose APIs do not return structured entities.
func extractTags(text string) (hashtags, mentions []string) {
	hashtags = []string{}
	mentions = []string{}
	for _, word := range strings.Fields(text) {
		word = strings.TrimRight(word, ".,!?:;)")
		if len(word) < 2 {
			continue
		}
		switch word[0] {
		case '#':
			hashtags = append(hashtags, word[1:])
		case '@':
			mentions = append(mentions, word[1:])
		}
	}
	return hashtags, mentions
}

// engagement sums the interaction counters for platforms that do not
// report their own engagement figure.
func engagement(m models.Metrics) int {
	return m.Likes + m.Shares + m.Comments
}

// filterLocally implements the degraded search mode for platforms without
// a native search endpoint: case-insensitive substring match over a page of
// recently fetched content. The result is explicitly marked LocalFilter so
// callers can tell it apart from a native search.
func filterLocally(page *models.ContentPage, query string, limit int) *models.ContentPage {
	q := strings.ToLower(query)
	matched := []models.ContentItem{}
	for _, item := range page.Items {
		if strings.Contains(strings.ToLower(item.Body.Text), q) {
			matched = append(matched, item)
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	return &models.ContentPage{
		Items:       matched,
		RateLimit:   page.RateLimit,
		LocalFilter: true,
	}
}

// sortNewestFirst orders items by PostedAt descending, the canonical page
// order across all platforms.
func sortNewestFirst(items []models.ContentItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PostedAt.After(items[j].PostedAt)
	})
}

// parseTime parses an RFC3339 timestamp, degrading to the zero time on
// missing or malformed input so transforms stay total.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// emptyStrings returns a non-nil slice so canonical items always carry
// empty arrays rather than nulls.
func emptyStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
