package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTP://Example.COM:80/a?b=2&a=1#top": "http://example.com/a?a=1&b=2",
		"https://example.com:443":             "https://example.com/",
		"https://example.com:8443/x":          "https://example.com:8443/x",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("http://[::1")
	require.Error(t, err)
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	require.True(t, SameHost("https://Example.com/a", "http://example.com:8080/b"))
	require.False(t, SameHost("https://example.com", "https://www.example.com"))
	require.False(t, SameHost("/relative", "/relative"))
}
