// Package credentials supplies the bearer token used for backend report
// submission.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoToken is returned when no token is configured.
var ErrNoToken = errors.New("no credentials token available")

// DefaultRefreshThreshold is how close to expiry a token is reloaded.
const DefaultRefreshThreshold = 5 * time.Minute

// Provider hands out the current token and can be asked to refresh it.
type Provider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Static is a Provider with a fixed token. Refresh returns the same token.
type Static string

// Token implements Provider.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Refresh implements Provider.
func (s Static) Refresh(ctx context.Context) (string, error) {
	return s.Token(ctx)
}

// tokenFile is the on-disk shape. A file holding a bare token string is
// also accepted.
type tokenFile struct {
	AccessToken string `yaml:"access_token"`
	ExpiresAt   string `yaml:"expires_at"` // RFC 3339
}

type parsedToken struct {
	token     string
	expiresAt time.Time
}

// FileProvider reads the token from a file that an external process keeps
// fresh. The file is re-read when the cached token is within the refresh
// threshold of expiring, or on an explicit Refresh.
type FileProvider struct {
	path      string
	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewFileProvider creates a FileProvider for path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{
		path:      path,
		threshold: DefaultRefreshThreshold,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger.
func (p *FileProvider) WithLogger(logger *slog.Logger) *FileProvider {
	p.logger = logger
	return p
}

// WithRefreshThreshold sets how early before expiry the token is reloaded.
func (p *FileProvider) WithRefreshThreshold(d time.Duration) *FileProvider {
	if d > 0 {
		p.threshold = d
	}
	return p
}

// Token implements Provider.
func (p *FileProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && !p.needsRefreshLocked() {
		return p.token, nil
	}
	return p.loadLocked(ctx)
}

// Refresh implements Provider by re-reading the file unconditionally.
func (p *FileProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(ctx)
}

// NeedsRefresh reports whether the cached token is missing or close to expiry.
func (p *FileProvider) NeedsRefresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token == "" || p.needsRefreshLocked()
}

// ExpiresAt returns the cached token's expiry. Zero means no expiry is known.
func (p *FileProvider) ExpiresAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expiresAt
}

func (p *FileProvider) needsRefreshLocked() bool {
	if p.expiresAt.IsZero() {
		return false
	}
	return p.now().Add(p.threshold).After(p.expiresAt)
}

func (p *FileProvider) loadLocked(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}

	tf, err := parseTokenFile(data)
	if err != nil {
		return "", err
	}

	if tf.token != p.token {
		p.logger.Info("credentials token loaded",
			slog.String("path", p.path),
			slog.Time("expires_at", tf.expiresAt),
		)
	}
	p.token = tf.token
	p.expiresAt = tf.expiresAt

	if !tf.expiresAt.IsZero() && !p.now().Before(tf.expiresAt) {
		p.logger.Warn("credentials token in file has already expired",
			slog.String("path", p.path),
			slog.Time("expires_at", tf.expiresAt),
		)
	}
	return p.token, nil
}

// parseTokenFile accepts YAML or JSON with access_token/expires_at, or a
// bare token.
func parseTokenFile(data []byte) (parsedToken, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return parsedToken{}, ErrNoToken
	}

	var tf tokenFile
	if err := yaml.Unmarshal([]byte(trimmed), &tf); err == nil && tf.AccessToken != "" {
		pt := parsedToken{token: tf.AccessToken}
		if tf.ExpiresAt != "" {
			at, err := time.Parse(time.RFC3339, tf.ExpiresAt)
			if err != nil {
				return parsedToken{}, fmt.Errorf("parsing token expiry: %w", err)
			}
			pt.expiresAt = at
		}
		return pt, nil
	}
	if strings.ContainsAny(trimmed, " \t\n:{") {
		return parsedToken{}, fmt.Errorf("parsing token file: no access_token field")
	}
	return parsedToken{token: trimmed}, nil
}

var (
	_ Provider = Static("")
	_ Provider = (*FileProvider)(nil)
)
