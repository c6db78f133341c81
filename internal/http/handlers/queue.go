package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidsift/internal/jobstore"
	"github.com/jmylchreest/vidsift/internal/models"
)

// QueueHandler manages the durable video queue.
type QueueHandler struct {
	store jobstore.Store
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(store jobstore.Store) *QueueHandler {
	return &QueueHandler{store: store}
}

// Register registers the queue routes with the API.
func (h *QueueHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listQueue",
		Method:      "GET",
		Path:        "/api/v1/queue",
		Summary:     "List queue",
		Description: "Returns the queued videos in run order",
		Tags:        []string{"Queue"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "addToQueue",
		Method:        "POST",
		Path:          "/api/v1/queue",
		Summary:       "Add to queue",
		Description:   "Appends videos to the end of the queue",
		Tags:          []string{"Queue"},
		DefaultStatus: http.StatusCreated,
	}, h.Add)

	huma.Register(api, huma.Operation{
		OperationID: "removeFromQueue",
		Method:      "DELETE",
		Path:        "/api/v1/queue/{video_id}",
		Summary:     "Remove from queue",
		Tags:        []string{"Queue"},
	}, h.Remove)

	huma.Register(api, huma.Operation{
		OperationID: "clearQueue",
		Method:      "DELETE",
		Path:        "/api/v1/queue",
		Summary:     "Clear queue",
		Tags:        []string{"Queue"},
	}, h.Clear)
}

// QueueInput is the input for listing and clearing the queue.
type QueueInput struct{}

// QueueOutput lists queued videos.
type QueueOutput struct {
	Body struct {
		Videos []models.VideoJob `json:"videos"`
		Count  int               `json:"count"`
	}
}

// List returns the queue.
func (h *QueueHandler) List(ctx context.Context, _ *QueueInput) (*QueueOutput, error) {
	return h.snapshot(ctx)
}

// AddToQueueInput is the input for adding videos.
type AddToQueueInput struct {
	Body struct {
		Videos []VideoJobInput `json:"videos" minItems:"1" doc:"Videos to append"`
	}
}

// Add appends videos and returns the whole queue.
func (h *QueueHandler) Add(ctx context.Context, input *AddToQueueInput) (*QueueOutput, error) {
	jobs, err := jobsFromInput(input.Body.Videos)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := models.ValidateQueue(jobs); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	if err := h.store.Enqueue(ctx, jobs); err != nil {
		if errors.Is(err, models.ErrDuplicateVideo) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to add to queue", err)
	}
	return h.snapshot(ctx)
}

// RemoveFromQueueInput is the input for removing a video.
type RemoveFromQueueInput struct {
	VideoID string `path:"video_id" doc:"Video ID"`
}

// RemoveFromQueueOutput is the output for removing a video.
type RemoveFromQueueOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Remove deletes one video from the queue.
func (h *QueueHandler) Remove(ctx context.Context, input *RemoveFromQueueInput) (*RemoveFromQueueOutput, error) {
	removed, err := h.store.Dequeue(ctx, input.VideoID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to remove from queue", err)
	}
	if !removed {
		return nil, huma.Error404NotFound("video not in queue")
	}

	resp := &RemoveFromQueueOutput{}
	resp.Body.Message = "removed " + input.VideoID
	return resp, nil
}

// ClearQueueOutput is the output for clearing the queue.
type ClearQueueOutput struct {
	Body struct {
		Removed int64 `json:"removed"`
	}
}

// Clear empties the queue.
func (h *QueueHandler) Clear(ctx context.Context, _ *QueueInput) (*ClearQueueOutput, error) {
	n, err := h.store.ClearQueue(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to clear queue", err)
	}
	resp := &ClearQueueOutput{}
	resp.Body.Removed = n
	return resp, nil
}

func (h *QueueHandler) snapshot(ctx context.Context) (*QueueOutput, error) {
	jobs, err := h.store.Queue(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list queue", err)
	}
	resp := &QueueOutput{}
	resp.Body.Videos = jobs
	if resp.Body.Videos == nil {
		resp.Body.Videos = []models.VideoJob{}
	}
	resp.Body.Count = len(jobs)
	return resp, nil
}
