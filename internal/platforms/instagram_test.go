package platforms

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/crosspostr/crosspostr/configs"
)

func TestInstagramBuildAuthURL(t *testing.T) {
	a := NewInstagramAdapter(config.Config{
		InstagramClientID:    "ig-client",
		InstagramRedirectURI: "https://api.example.com/auth/instagram/callback",
	})
	require.False(t, a.RequiresPKCE())

	raw := a.BuildAuthURL("the-state", "")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "ig-client", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "the-state", q.Get("state"))
	assert.Empty(t, q.Get("code_challenge"))
}
