package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies one of the supported social networks.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
	PlatformReddit    Platform = "reddit"
	PlatformTelegram  Platform = "telegram"
	PlatformDiscord   Platform = "discord"
)

// AllPlatforms lists every supported platform in a stable order.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformFacebook,
		PlatformTwitter,
		PlatformLinkedIn,
		PlatformInstagram,
		PlatformReddit,
		PlatformTelegram,
		PlatformDiscord,
	}
}

// ParsePlatform converts a user-supplied string into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformFacebook, PlatformTwitter, PlatformLinkedIn,
		PlatformInstagram, PlatformReddit, PlatformTelegram, PlatformDiscord:
		return p, nil
	case "x":
		return PlatformTwitter, nil
	}
	return "", fmt.Errorf("unknown platform: %q", s)
}

func (p Platform) String() string {
	return string(p)
}

// Credentials holds the already-issued tokens for one (user, platform)
// connection. Token acquisition happens upstream; this service only
// refreshes and applies them.
type Credentials struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Clone returns an independent copy so concurrent calls never share a
// mutable credential struct.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}
	cp := *c
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// Expired reports whether the access token is past its expiry, when one
// is known.
func (c *Credentials) Expired(now time.Time) bool {
	return c != nil && c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// PlatformStatus is the per-platform health and connection record kept by
// the hub for the lifetime of the process.
type PlatformStatus struct {
	Platform        Platform       `json:"platform"`
	Connected       bool           `json:"isConnected"`
	Healthy         bool           `json:"isHealthy"`
	LastHealthCheck time.Time      `json:"lastHealthCheck"`
	ConnectionCount int            `json:"connectionCount"`
	ErrorCount      int64          `json:"errorCount"`
	LastError       string         `json:"lastError,omitempty"`
	RateLimit       *RateLimitInfo `json:"rateLimit,omitempty"`
}

// RateLimitInfo describes the most recent rate-limit state reported either
// by the upstream API headers or by the local limiter.
type RateLimitInfo struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	Reset      time.Time     `json:"reset"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}
