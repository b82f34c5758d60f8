package models

import "time"

// Author is the canonical representation of a content author.
type Author struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Body carries the normalized content payload of an item.
type Body struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
	Videos []string `json:"videos"`
	Links  []string `json:"links"`
}

// Metrics holds normalized engagement counters. Engagement is the sum of
// the interaction counters (likes + shares + comments) when the platform
// does not report its own figure.
type Metrics struct {
	Likes      int `json:"likes"`
	Shares     int `json:"shares"`
	Comments   int `json:"comments"`
	Views      int `json:"views"`
	Engagement int `json:"engagement"`
}

// ContentItem is the canonical, platform-agnostic post/message shape.
// Items are produced fresh on every fetch; identity is the
// (Platform, ExternalID) tuple.
type ContentItem struct {
	ID         string    `json:"id"`
	Platform   Platform  `json:"platform"`
	ExternalID string    `json:"externalId"`
	Author     Author    `json:"author"`
	Body       Body      `json:"content"`
	Metrics    Metrics   `json:"metrics"`
	Hashtags   []string  `json:"hashtags"`
	Mentions   []string  `json:"mentions"`
	PostedAt   time.Time `json:"postedAt"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// Profile is the canonical authenticated-identity shape.
type Profile struct {
	PlatformUserID string            `json:"platformUserId"`
	Username       string            `json:"username"`
	DisplayName    string            `json:"displayName"`
	Avatar         string            `json:"avatar,omitempty"`
	Bio            string            `json:"bio,omitempty"`
	FollowerCount  int               `json:"followerCount,omitempty"`
	FollowingCount int               `json:"followingCount,omitempty"`
	Verified       bool              `json:"verified"`
	Metadata       map[string]string `json:"metadata"`
}

// ContentPage is one page of fetched or searched content.
// LocalFilter marks results produced by the degraded search mode: the
// platform has no native search endpoint, so recently fetched content was
// filtered locally instead.
type ContentPage struct {
	Items       []ContentItem  `json:"items"`
	NextCursor  string         `json:"nextCursor,omitempty"`
	RateLimit   *RateLimitInfo `json:"rateLimit,omitempty"`
	LocalFilter bool           `json:"localFilter,omitempty"`
}

// ContentOptions carries pagination and platform-specific fetch parameters.
// Channel is required by platforms that scope content to a channel or chat
// (Discord, Telegram).
type ContentOptions struct {
	Limit   int    `json:"limit,omitempty"`
	Cursor  string `json:"cursor,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// SearchOptions bounds a search call. Channel scopes the search on
// platforms whose content lives in channels (Discord, Telegram).
type SearchOptions struct {
	Limit   int    `json:"limit,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Draft is the canonical publish request. Target names the platform-specific
// destination (subreddit, chat id, channel id, page id) where one is
// required; Title is required by Reddit.
type Draft struct {
	Text   string   `json:"text"`
	Title  string   `json:"title,omitempty"`
	Target string   `json:"target,omitempty"`
	Images []string `json:"images,omitempty"`
	Link   string   `json:"link,omitempty"`
}

// PostReceipt is returned after a successful publish.
type PostReceipt struct {
	PostID   string    `json:"postId"`
	Platform Platform  `json:"platform"`
	URL      string    `json:"url,omitempty"`
	PostedAt time.Time `json:"postedAt"`
}
