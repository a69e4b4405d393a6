package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"strips query", "https://kb.example.com/articles/a?utm_source=mail&ref=1", "https://kb.example.com/articles/a"},
		{"strips fragment", "https://kb.example.com/articles/a#section-2", "https://kb.example.com/articles/a"},
		{"strips trailing slash", "https://kb.example.com/articles/a/", "https://kb.example.com/articles/a"},
		{"lowercases host", "https://KB.Example.COM/articles/a", "https://kb.example.com/articles/a"},
		{"all at once", "HTTPS://KB.example.com/articles/a/?q=1#x", "https://kb.example.com/articles/a"},
		{"bare host", "https://kb.example.com/", "https://kb.example.com"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalize_RejectsRelative(t *testing.T) {
	_, err := Canonicalize("/articles/a")
	assert.Error(t, err)
}

func TestCanonicalize_SameArticleDifferentDiscoveryPaths(t *testing.T) {
	a, err := Canonicalize("https://kb.example.com/articles/sso?from=category-1")
	assert.NoError(t, err)
	b, err := Canonicalize("https://kb.example.com/articles/sso/#top")
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}
