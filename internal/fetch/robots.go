package fetch

import (
	"context"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsChecker fetches and caches one robots.txt per host. A fetch
// failure or non-2xx response means "no policy" — every candidate URL on
// that host is allowed.
type RobotsChecker struct {
	client    *Client
	userAgent string

	mu    sync.RWMutex
	cache map[string]*robotstxt.Group
}

func NewRobotsChecker(client *Client, userAgent string) *RobotsChecker {
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether candidate may be fetched under the robots policy
// of its host, fetching and caching that host's robots.txt on first use.
func (r *RobotsChecker) Allowed(ctx context.Context, candidate string) bool {
	u, err := url.Parse(candidate)
	if err != nil {
		return true
	}

	group := r.groupFor(ctx, u)
	if group == nil {
		return true
	}
	return group.Test(u.Path)
}

func (r *RobotsChecker) groupFor(ctx context.Context, u *url.URL) *robotstxt.Group {
	host := u.Scheme + "://" + u.Host

	r.mu.RLock()
	g, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.cache[host]; ok {
		return g
	}

	body, err := r.client.Get(ctx, host+"/robots.txt")
	if err != nil {
		r.cache[host] = nil
		return nil
	}

	robots, err := robotstxt.FromBytes([]byte(body))
	if err != nil {
		r.cache[host] = nil
		return nil
	}

	group := robots.FindGroup(r.userAgent)
	r.cache[host] = group
	return group
}
