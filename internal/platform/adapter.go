// Package platform defines the uniform contract every social platform
// integration implements, plus the shared outbound-call machinery
// (rate limiting, retry/backoff, token refresh) all adapters route through.
package platform

import (
	"context"

	"github.com/omnisocial/omnisocial/internal/models"
)

// Rate-limit keys partitioning one platform's budget by operation.
const (
	KeyProfile = "profile"
	KeyContent = "content"
	KeyPost    = "post"
	KeySearch  = "search"
	KeyHealth  = "health"
	KeyRefresh = "refresh"
)

// Adapter is the uniform per-platform contract. Implementations hold only
// immutable configuration; credentials arrive as a parameter on every call
// so one shared adapter instance serves all users without interleaving
// hazards.
//
// All operations return *Error failures; none panic past this boundary.
type Adapter interface {
	// Platform identifies the implementation.
	Platform() models.Platform

	// Refresh exchanges creds.RefreshToken for a fresh access token,
	// mutating creds in place. Platforms with static bot credentials
	// implement this as a successful no-op.
	Refresh(ctx context.Context, creds *models.Credentials) error

	// Profile fetches the authenticated identity. The hub uses it as the
	// connectivity probe during Connect.
	Profile(ctx context.Context, creds *models.Credentials) (*models.Profile, error)

	// Content fetches one page of content, newest first.
	Content(ctx context.Context, creds *models.Credentials, opts models.ContentOptions) (*models.ContentPage, error)

	// Post publishes a draft. Platform-specific required fields are
	// validated before any network call.
	Post(ctx context.Context, creds *models.Credentials, draft models.Draft) (*models.PostReceipt, error)

	// Search queries within the platform's scope. Platforms without a
	// native search endpoint fetch recent content and filter locally;
	// such pages carry LocalFilter=true.
	Search(ctx context.Context, creds *models.Credentials, query string, opts models.SearchOptions) (*models.ContentPage, error)

	// CheckHealth issues the lightweight rate-limit-status probe used by
	// the hub's health sweep.
	CheckHealth(ctx context.Context, creds *models.Credentials) (*models.RateLimitInfo, error)
}
