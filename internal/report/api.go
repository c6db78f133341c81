package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/vidsift/internal/credentials"
	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/pkg/httpclient"
)

// APIConfig configures backend submission.
type APIConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	Logger        *slog.Logger
}

// submission is the backend's report payload.
type submission struct {
	VideoID      string   `json:"videoId"`
	SegmentIndex int      `json:"segmentIndex"`
	Title        string   `json:"title,omitempty"`
	StartSeconds float64  `json:"startSeconds"`
	EndSeconds   *float64 `json:"endSeconds,omitempty"`
	Text         string   `json:"text"`
	RunID        string   `json:"runId,omitempty"`
}

// APISink posts reports to the backend with a bearer token. A 401 refreshes
// the token once and retries the request once.
type APISink struct {
	baseURL string
	client  *httpclient.Client
	creds   credentials.Provider
	logger  *slog.Logger
}

// NewAPISink creates an APISink and registers its client in registry (if
// non-nil) as "reports".
func NewAPISink(cfg APIConfig, creds credentials.Provider, registry *httpclient.Registry) *APISink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	if cfg.RetryAttempts >= 0 {
		hc.RetryAttempts = cfg.RetryAttempts
	}
	hc.Logger = logger
	client := httpclient.New(hc)
	if registry != nil {
		registry.Register("reports", client)
	}

	return &APISink{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		creds:   creds,
		logger:  logger,
	}
}

// Name implements Sink.
func (s *APISink) Name() string { return "api" }

// Submit implements Sink.
func (s *APISink) Submit(ctx context.Context, report *models.Report) error {
	token, err := s.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}

	body := submission{
		VideoID:      report.VideoID,
		SegmentIndex: report.SegmentIndex,
		Title:        report.Title,
		StartSeconds: report.StartSeconds,
		EndSeconds:   report.EndSeconds,
		Text:         report.Content,
	}
	if !report.RunID.IsZero() {
		body.RunID = report.RunID.String()
	}

	err = s.post(ctx, token, body)
	var se *httpclient.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		s.logger.Info("backend rejected token, refreshing",
			slog.String("video_id", report.VideoID),
		)
		token, rerr := s.creds.Refresh(ctx)
		if rerr != nil {
			return fmt.Errorf("refreshing token after 401: %w", rerr)
		}
		err = s.post(ctx, token, body)
	}
	if err != nil {
		return fmt.Errorf("submitting report: %w", err)
	}
	return nil
}

func (s *APISink) post(ctx context.Context, token string, body submission) error {
	headers := http.Header{}
	headers.Set(httpclient.HeaderAuthorization, "Bearer "+token)
	return s.client.DoJSON(ctx, http.MethodPost, s.baseURL+"/reports", headers, body, nil)
}

var _ Sink = (*APISink)(nil)
