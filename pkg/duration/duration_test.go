package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"hours", "720h", 720 * time.Hour, false},
		{"minutes", "45m", 45 * time.Minute, false},
		{"milliseconds", "100ms", 100 * time.Millisecond, false},
		{"combined standard", "1h30m", 90 * time.Minute, false},
		{"days short", "2d", 48 * time.Hour, false},
		{"days and hours", "1d12h", 36 * time.Hour, false},
		{"days words", "30 days", 30 * Day, false},
		{"weeks short", "2w", 2 * Week, false},
		{"week and days", "1w2d", 9 * Day, false},
		{"word minutes", "45 minutes", 45 * time.Minute, false},
		{"word hours", "3 hours", 3 * time.Hour, false},
		{"mixed words", "1 day 2 hours", 26 * time.Hour, false},
		{"negative", "-1h", -time.Hour, false},
		{"whitespace", "  12m  ", 12 * time.Minute, false},
		{"empty", "", 0, true},
		{"garbage", "soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
	assert.Equal(t, time.Hour, MustParse("1h"))
}

func TestParseISO8601(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"PT1H30M", 90 * time.Minute, false},
		{"PT45M", 45 * time.Minute, false},
		{"PT1H2M3S", time.Hour + 2*time.Minute + 3*time.Second, false},
		{"PT20S", 20 * time.Second, false},
		{"P1DT2H", 26 * time.Hour, false},
		{"pt10m", 10 * time.Minute, false},
		{"PT1.5S", 1500 * time.Millisecond, false},
		{"", 0, true},
		{"PT", 0, true},
		{"P", 0, true},
		{"1H30M", 0, true},
		{"P1Y", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseISO8601(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0s", Format(0))
	assert.Equal(t, "45m", Format(45*time.Minute))
	assert.Equal(t, "1h10s", Format(time.Hour+10*time.Second))
	assert.Equal(t, "1w1d", Format(8*Day))
	assert.Equal(t, "12m", Format(720000*time.Millisecond))
	assert.Equal(t, "-2s", Format(-2*time.Second))
	assert.Equal(t, "1s500ms", Format(1500*time.Millisecond))
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Minute, 45 * time.Minute, 26 * time.Hour, 9 * Day} {
		got, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}
