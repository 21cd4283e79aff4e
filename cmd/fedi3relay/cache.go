package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/fedi3/fedi3/internal/cache"
)

// newCacheClient parses a redis://[:password@]host:port[/db] URL into
// cache.New's addr/password/db arguments, mirroring cmd/fedi3node's
// identical helper — duplicated rather than shared since each cmd/ binary
// is its own main package.
func newCacheClient(rawURL string) (*cache.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing cache.url %q: %w", rawURL, err)
	}
	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}
	db := 0
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		db, err = strconv.Atoi(path)
		if err != nil {
			return nil, fmt.Errorf("parsing cache.url database %q: %w", path, err)
		}
	}
	return cache.New(u.Host, password, db), nil
}
