package orchestrator

import (
	"time"

	"github.com/jmylchreest/vidsift/internal/config"
	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/retry"
)

// Default run settings.
const (
	DefaultMaxSegmentDuration = 2700 * time.Second
	DefaultTaskTimeout        = 720000 * time.Millisecond
	DefaultMeasureTimeout     = 60 * time.Second
	DefaultMaxRetries         = retry.DefaultMaxAttempts
	DefaultRetryBaseDelay     = retry.DefaultBaseDelay
	DefaultRetryMaxDelay      = retry.DefaultMaxDelay
	DefaultInterSegmentDelay  = 2 * time.Second
	DefaultInterVideoDelay    = 3 * time.Second
	DefaultPausePollInterval  = 1 * time.Second
	DefaultStaleAfter         = time.Hour
)

// DefaultRunConfig returns the standard run settings.
func DefaultRunConfig() models.RunConfig {
	return models.RunConfig{
		MaxSegmentDuration: DefaultMaxSegmentDuration,
		TaskTimeout:        DefaultTaskTimeout,
		MeasureTimeout:     DefaultMeasureTimeout,
		MaxRetries:         DefaultMaxRetries,
		RetryBaseDelay:     DefaultRetryBaseDelay,
		RetryMaxDelay:      DefaultRetryMaxDelay,
		InterSegmentDelay:  DefaultInterSegmentDelay,
		InterVideoDelay:    DefaultInterVideoDelay,
		PausePollInterval:  DefaultPausePollInterval,
		StaleAfter:         DefaultStaleAfter,
	}
}

// RunConfigFrom converts the orchestrator section of the application config.
func RunConfigFrom(c config.OrchestratorConfig) models.RunConfig {
	return normalize(models.RunConfig{
		MaxSegmentDuration: c.MaxSegmentDuration.Duration(),
		TaskTimeout:        c.TaskTimeout.Duration(),
		MeasureTimeout:     c.MeasureTimeout.Duration(),
		MaxRetries:         c.MaxRetries,
		RetryBaseDelay:     c.RetryBaseDelay.Duration(),
		RetryMaxDelay:      c.RetryMaxDelay.Duration(),
		InterSegmentDelay:  c.InterSegmentDelay.Duration(),
		InterVideoDelay:    c.InterVideoDelay.Duration(),
		PausePollInterval:  c.PausePollInterval.Duration(),
		StaleAfter:         c.StaleAfter.Duration(),
	})
}

// normalize fills settings that must be positive from the defaults. Zero
// delays are kept, and a zero MaxSegmentDuration disables splitting.
func normalize(c models.RunConfig) models.RunConfig {
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.MeasureTimeout <= 0 {
		c.MeasureTimeout = DefaultMeasureTimeout
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PausePollInterval <= 0 {
		c.PausePollInterval = DefaultPausePollInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.MaxSegmentDuration < 0 {
		c.MaxSegmentDuration = 0
	}
	return c
}

func retryPolicy(c models.RunConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxRetries,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
	}
}
