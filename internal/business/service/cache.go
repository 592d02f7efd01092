package service

import (
	"context"
	"sync"

	"github.com/smallbiznis/appointly/internal/business/domain"
)

type credentialCacheKey struct{}

// credentialCache memoizes decrypted processor credentials for the lifetime of one request.
type credentialCache struct {
	mu      sync.Mutex
	entries map[string]domain.Credentials
}

// WithCredentialCache attaches an empty per-request credential cache to ctx.
func WithCredentialCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, credentialCacheKey{}, &credentialCache{
		entries: map[string]domain.Credentials{},
	})
}

func cacheFromContext(ctx context.Context) *credentialCache {
	if ctx == nil {
		return nil
	}
	cache, _ := ctx.Value(credentialCacheKey{}).(*credentialCache)
	return cache
}

func (c *credentialCache) get(businessID, processor string) (domain.Credentials, bool) {
	if c == nil {
		return domain.Credentials{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	creds, ok := c.entries[businessID+"|"+processor]
	return creds, ok
}

func (c *credentialCache) put(creds domain.Credentials) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[creds.BusinessID+"|"+creds.Processor] = creds
	c.mu.Unlock()
}
