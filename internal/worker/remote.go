package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/vidsift/internal/messaging"
	"github.com/jmylchreest/vidsift/pkg/httpclient"
)

// RemoteConfig configures a RemoteLauncher.
type RemoteConfig struct {
	// DriverURL is the base URL of the browser driver sidecar.
	DriverURL string
	// RequestTimeout bounds control calls (launch, readiness, close).
	// Task calls are bounded by the caller's context instead.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// RemoteLauncher opens worker contexts through a browser driver sidecar over
// HTTP. The sidecar exposes:
//
//	POST   /contexts              {"url": ...}              -> {"id": ...}
//	GET    /contexts/{id}/ready                             -> {"ready": bool}
//	POST   /contexts/{id}/tasks   {"kind": ..., ...}        -> {"text": ..., "duration_seconds": ..., "notices": [...]}
//	DELETE /contexts/{id}
type RemoteLauncher struct {
	baseURL string
	control *httpclient.Client
	tasks   *httpclient.Client
	logger  *slog.Logger
}

// NewRemoteLauncher creates a launcher for the sidecar at cfg.DriverURL. The
// control and task clients are registered with registry when it is non-nil so
// their circuit state is visible on the health endpoint.
func NewRemoteLauncher(cfg RemoteConfig, registry *httpclient.Registry) (*RemoteLauncher, error) {
	if cfg.DriverURL == "" {
		return nil, errors.New("driver URL is required")
	}
	if _, err := url.Parse(cfg.DriverURL); err != nil {
		return nil, fmt.Errorf("parsing driver URL: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = httpclient.DefaultTimeout
	}

	controlCfg := httpclient.DefaultConfig()
	controlCfg.Timeout = cfg.RequestTimeout
	controlCfg.Logger = cfg.Logger
	controlCfg.UserAgent = "vidsift-worker/1.0"

	// Retrying a task call would run the analysis twice; the orchestrator
	// owns task retries.
	taskCfg := controlCfg
	taskCfg.Timeout = 0
	taskCfg.RetryAttempts = 0

	l := &RemoteLauncher{
		baseURL: strings.TrimRight(cfg.DriverURL, "/"),
		control: httpclient.New(controlCfg),
		tasks:   httpclient.New(taskCfg),
		logger:  cfg.Logger,
	}
	if registry != nil {
		registry.Register("driver", l.control)
		registry.Register("driver-tasks", l.tasks)
	}
	return l, nil
}

type launchRequest struct {
	URL string `json:"url"`
}

type launchResponse struct {
	ID string `json:"id"`
}

type readyResponse struct {
	Ready bool `json:"ready"`
}

type taskRequest struct {
	Kind    messaging.TaskKind         `json:"kind"`
	Measure *messaging.MeasureDuration `json:"measure,omitempty"`
	Segment *messaging.ProcessSegment  `json:"segment,omitempty"`
}

type remoteNotice struct {
	Kind messaging.NoticeKind `json:"kind"`
	Text string               `json:"text"`
}

type taskResponse struct {
	messaging.Payload
	Error   string         `json:"error,omitempty"`
	Notices []remoteNotice `json:"notices,omitempty"`
}

// Launch implements Launcher.
func (l *RemoteLauncher) Launch(ctx context.Context, entryURL string) (Session, error) {
	var resp launchResponse
	if err := l.control.DoJSON(ctx, http.MethodPost, l.baseURL+"/contexts", nil, launchRequest{URL: entryURL}, &resp); err != nil {
		return nil, fmt.Errorf("opening context on driver: %w", err)
	}
	if resp.ID == "" {
		return nil, errors.New("driver returned an empty context id")
	}
	return &remoteSession{launcher: l, id: resp.ID}, nil
}

type remoteSession struct {
	launcher *RemoteLauncher
	id       string
}

func (s *remoteSession) ID() string { return s.id }

func (s *remoteSession) url(suffix string) string {
	return s.launcher.baseURL + "/contexts/" + url.PathEscape(s.id) + suffix
}

func (s *remoteSession) Ready(ctx context.Context) (bool, error) {
	var resp readyResponse
	if err := s.launcher.control.DoJSON(ctx, http.MethodGet, s.url("/ready"), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Ready, nil
}

func (s *remoteSession) MeasureDuration(ctx context.Context, task messaging.MeasureDuration) (float64, error) {
	resp, err := s.run(ctx, taskRequest{Kind: task.Kind(), Measure: &task})
	if err != nil {
		return 0, err
	}
	return resp.DurationSeconds, nil
}

func (s *remoteSession) ProcessSegment(ctx context.Context, task messaging.ProcessSegment) (string, error) {
	resp, err := s.run(ctx, taskRequest{Kind: task.Kind(), Segment: &task})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (s *remoteSession) run(ctx context.Context, req taskRequest) (*taskResponse, error) {
	var resp taskResponse
	err := s.launcher.tasks.DoJSON(ctx, http.MethodPost, s.url("/tasks"), nil, req, &resp)
	for _, n := range resp.Notices {
		messaging.Notify(ctx, n.Kind, n.Text)
	}
	if err != nil {
		return nil, fmt.Errorf("running %s on driver: %w", req.Kind, err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

func (s *remoteSession) Close(ctx context.Context) error {
	err := s.launcher.control.DoJSON(ctx, http.MethodDelete, s.url(""), nil, nil, nil)
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

var (
	_ Launcher = (*RemoteLauncher)(nil)
	_ Session  = (*remoteSession)(nil)
)
