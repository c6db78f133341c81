package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidsift/internal/service/logs"
)

// LogsHandler exposes the in-memory log history.
type LogsHandler struct {
	buffer *logs.Buffer
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(buffer *logs.Buffer) *LogsHandler {
	return &LogsHandler{buffer: buffer}
}

// Register registers the log routes with the API.
func (h *LogsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecentLogs",
		Method:      "GET",
		Path:        "/api/v1/logs",
		Summary:     "List recent logs",
		Description: "Returns the most recent captured log records, oldest first",
		Tags:        []string{"Logs"},
	}, h.ListRecent)

	huma.Register(api, huma.Operation{
		OperationID: "getLogStats",
		Method:      "GET",
		Path:        "/api/v1/logs/stats",
		Summary:     "Get log statistics",
		Description: "Returns counts by level and component and the latest errors",
		Tags:        []string{"Logs"},
	}, h.GetStats)
}

// ListLogsInput is the input for listing logs.
type ListLogsInput struct {
	Level     string `query:"level" doc:"Minimum level: debug, info, warn, error"`
	Component string `query:"component" doc:"Only records from this component"`
	RunID     string `query:"run_id" doc:"Only records tagged with this run"`
	Limit     int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum records"`
}

// ListLogsOutput is the output for listing logs.
type ListLogsOutput struct {
	Body struct {
		Logs  []logs.Entry `json:"logs"`
		Count int          `json:"count"`
	}
}

// ListRecent returns captured log records.
func (h *LogsHandler) ListRecent(_ context.Context, input *ListLogsInput) (*ListLogsOutput, error) {
	entries := h.buffer.Recent(input.Limit, logs.Filter{
		MinLevel:  logs.ParseLevel(input.Level),
		Component: input.Component,
		RunID:     input.RunID,
	})
	if entries == nil {
		entries = []logs.Entry{}
	}

	resp := &ListLogsOutput{}
	resp.Body.Logs = entries
	resp.Body.Count = len(entries)
	return resp, nil
}

// GetLogStatsOutput is the output for log statistics.
type GetLogStatsOutput struct {
	Body logs.Stats
}

// GetStats returns log statistics.
func (h *LogsHandler) GetStats(_ context.Context, _ *struct{}) (*GetLogStatsOutput, error) {
	return &GetLogStatsOutput{Body: h.buffer.Stats()}, nil
}
