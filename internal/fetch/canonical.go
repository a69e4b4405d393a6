package fetch

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize normalizes a URL into the dedup key used across the system:
// lowercase scheme/host, query string and fragment stripped, trailing slash
// removed. Two listing pages linking the same article in different ways must
// end up with the same canonical form.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("canonicalize %q: not an absolute URL", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// resolve turns an href found on a page into an absolute canonical URL.
func resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", href, err)
	}
	return Canonicalize(base.ResolveReference(ref).String())
}
