package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAllowedOrigins_WithValue(t *testing.T) {
	origins := ParseAllowedOrigins("http://localhost:3000,https://example.com", []string{"http://default"})

	assert.Equal(t, 2, len(origins))
	assert.Equal(t, "http://localhost:3000", origins[0])
	assert.Equal(t, "https://example.com", origins[1])
}

func TestParseAllowedOrigins_TrimsWhitespace(t *testing.T) {
	origins := ParseAllowedOrigins("http://localhost:3000, https://example.com", nil)

	assert.Equal(t, []string{"http://localhost:3000", "https://example.com"}, origins)
}

func TestParseAllowedOrigins_Empty(t *testing.T) {
	defaults := []string{"http://localhost:3000", "http://localhost:8080"}
	origins := ParseAllowedOrigins("", defaults)

	assert.Equal(t, defaults, origins)
}
