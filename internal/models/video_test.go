package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func floatPtr(f float64) *float64 { return &f }

func TestVideoJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     VideoJob
		wantErr error
	}{
		{"valid", VideoJob{ID: "v1", URL: "https://www.youtube.com/watch?v=v1"}, nil},
		{"missing id", VideoJob{URL: "https://example.com/v"}, ErrVideoIDRequired},
		{"missing url", VideoJob{ID: "v1"}, ErrURLRequired},
		{"relative url", VideoJob{ID: "v1", URL: "/watch?v=1"}, ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("negative duration", func(t *testing.T) {
		job := VideoJob{ID: "v1", URL: "https://example.com/v", DurationSeconds: floatPtr(-1)}
		var ve ErrValidation
		require.True(t, errors.As(job.Validate(), &ve))
		assert.Equal(t, "duration", ve.Field)
	})
}

func TestVideoJob_Helpers(t *testing.T) {
	job := VideoJob{ID: "abc", URL: "https://example.com"}
	assert.Equal(t, "abc", job.DisplayName())
	assert.Zero(t, job.KnownDuration())

	job.Title = "Talk"
	job.DurationSeconds = floatPtr(5400)
	assert.Equal(t, "Talk", job.DisplayName())
	assert.Equal(t, 5400.0, job.KnownDuration())
}

func TestVideoJob_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected *float64
		wantErr  bool
	}{
		{"seconds", `{"id":"a","url":"https://x.test/a","duration":5400}`, floatPtr(5400), false},
		{"iso", `{"id":"a","url":"https://x.test/a","duration":"PT1H30M"}`, floatPtr(5400), false},
		{"human", `{"id":"a","url":"https://x.test/a","duration":"45m"}`, floatPtr(2700), false},
		{"numeric string", `{"id":"a","url":"https://x.test/a","duration":"1200"}`, floatPtr(1200), false},
		{"absent", `{"id":"a","url":"https://x.test/a"}`, nil, false},
		{"null", `{"id":"a","url":"https://x.test/a","duration":null}`, nil, false},
		{"garbage", `{"id":"a","url":"https://x.test/a","duration":"long"}`, nil, true},
		{"bool", `{"id":"a","url":"https://x.test/a","duration":true}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var job VideoJob
			err := json.Unmarshal([]byte(tt.input), &job)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDuration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", job.ID)
			assert.Equal(t, tt.expected, job.DurationSeconds)
		})
	}
}

func TestVideoJob_UnmarshalYAML(t *testing.T) {
	input := `
- id: one
  url: https://x.test/1
  title: First
  duration: PT45M
- id: two
  url: https://x.test/2
  duration: 1200
- id: three
  url: https://x.test/3
`
	var jobs []VideoJob
	require.NoError(t, yaml.Unmarshal([]byte(input), &jobs))
	require.Len(t, jobs, 3)
	assert.Equal(t, "First", jobs[0].Title)
	assert.Equal(t, floatPtr(2700), jobs[0].DurationSeconds)
	assert.Equal(t, floatPtr(1200), jobs[1].DurationSeconds)
	assert.Nil(t, jobs[2].DurationSeconds)
}

func TestValidateQueue(t *testing.T) {
	ok := []VideoJob{
		{ID: "a", URL: "https://x.test/a"},
		{ID: "b", URL: "https://x.test/b"},
	}
	assert.NoError(t, ValidateQueue(ok))

	dup := append(ok, VideoJob{ID: "a", URL: "https://x.test/a2"})
	assert.ErrorIs(t, ValidateQueue(dup), ErrDuplicateVideo)

	bad := []VideoJob{{ID: "a"}}
	assert.ErrorIs(t, ValidateQueue(bad), ErrURLRequired)
}

func TestQueueItem_Job(t *testing.T) {
	job := VideoJob{ID: "a", URL: "https://x.test/a", Title: "A", DurationSeconds: floatPtr(60)}
	item := NewQueueItem(job)
	assert.Equal(t, "a", item.VideoID)
	assert.Equal(t, job, item.Job())
}
