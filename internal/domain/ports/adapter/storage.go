package adapter

import (
	"context"
	"time"
)

// SignedURLIssuer mints short-lived read URLs for objects in storage.
type SignedURLIssuer interface {
	IssueSignedURL(ctx context.Context, resourceKey string, ttl time.Duration) (string, error)
}
