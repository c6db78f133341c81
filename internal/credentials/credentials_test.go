package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTokenFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestStatic(t *testing.T) {
	ctx := context.Background()

	tok, err := Static("abc").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = Static("abc").Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static("").Token(ctx)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFileProvider_BareToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeTokenFile(t, path, "tok-123\n")

	p := NewFileProvider(path)
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)
	assert.True(t, p.ExpiresAt().IsZero())
	assert.False(t, p.NeedsRefresh())
}

func TestFileProvider_StructuredFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"yaml", "access_token: tok-yaml\nexpires_at: 2030-01-01T00:00:00Z\n"},
		{"json", `{"access_token": "tok-yaml", "expires_at": "2030-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "token")
			writeTokenFile(t, path, tt.content)

			p := NewFileProvider(path)
			tok, err := p.Token(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "tok-yaml", tok)
			assert.Equal(t, 2030, p.ExpiresAt().Year())
		})
	}
}

func TestFileProvider_CachesUntilThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeTokenFile(t, path, "access_token: first\nexpires_at: 2030-01-01T00:00:00Z\n")

	now := time.Date(2029, 12, 31, 23, 0, 0, 0, time.UTC)
	p := NewFileProvider(path).WithRefreshThreshold(10 * time.Minute)
	p.now = func() time.Time { return now }

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	writeTokenFile(t, path, "access_token: second\nexpires_at: 2030-01-02T00:00:00Z\n")

	// Still an hour from expiry: served from cache.
	tok, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	// Inside the threshold: reloaded.
	now = time.Date(2029, 12, 31, 23, 55, 0, 0, time.UTC)
	assert.True(t, p.NeedsRefresh())
	tok, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
	assert.False(t, p.NeedsRefresh())
}

func TestFileProvider_RefreshForcesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeTokenFile(t, path, "one")

	p := NewFileProvider(path)
	_, err := p.Token(context.Background())
	require.NoError(t, err)

	writeTokenFile(t, path, "two")
	tok, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", tok)
}

func TestFileProvider_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileProvider(filepath.Join(dir, "missing")).Token(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty")
	writeTokenFile(t, empty, "  \n")
	_, err = NewFileProvider(empty).Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)

	bad := filepath.Join(dir, "bad")
	writeTokenFile(t, bad, "other_field: value\n")
	_, err = NewFileProvider(bad).Token(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	good := filepath.Join(dir, "good")
	writeTokenFile(t, good, "tok")
	_, err = NewFileProvider(good).Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefreshIfNeeded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeTokenFile(t, path, "access_token: old\nexpires_at: 2030-01-01T00:00:00Z\n")

	now := time.Date(2029, 12, 31, 23, 59, 0, 0, time.UTC)
	p := NewFileProvider(path)
	p.now = func() time.Time { return now }

	_, err := p.Token(context.Background())
	require.NoError(t, err)

	writeTokenFile(t, path, "access_token: new\nexpires_at: 2030-02-01T00:00:00Z\n")
	require.NoError(t, RefreshIfNeeded(context.Background(), p, nil))

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)

	// Static providers are never refreshed.
	assert.NoError(t, RefreshIfNeeded(context.Background(), Static("x"), nil))
}
