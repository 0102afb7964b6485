package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"paywall-access/internal/domain/ports/adapter"
)

var _ adapter.SignedURLIssuer = (*NoopIssuer)(nil)

// NoopIssuer returns unsigned URLs carrying the expiry as a query parameter.
// For local runs only.
type NoopIssuer struct {
	baseURL string
	now     func() time.Time
}

func NewNoopIssuer(baseURL string) *NoopIssuer {
	if baseURL == "" {
		baseURL = "https://storage.example.test"
	}
	return &NoopIssuer{baseURL: baseURL, now: time.Now}
}

func (n *NoopIssuer) IssueSignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	exp := n.now().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s?expires=%d", n.baseURL, url.PathEscape(key), exp), nil
}
