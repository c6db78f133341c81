package models

import (
	"fmt"
	"regexp"
)

// Report is the text produced by analysing one segment of a video.
type Report struct {
	BaseModel

	RunID        ULID     `gorm:"type:varchar(26);index" json:"run_id"`
	VideoID      string   `gorm:"not null;size:255;index:idx_report_video_segment" json:"video_id"`
	SegmentIndex int      `gorm:"not null;index:idx_report_video_segment" json:"segment_index"`
	Title        string   `gorm:"size:512" json:"title,omitempty"`
	StartSeconds float64  `json:"start_seconds"`
	EndSeconds   *float64 `json:"end_seconds,omitempty"`
	Content      string   `gorm:"type:text" json:"content"`
}

// TableName returns the table name for Report.
func (Report) TableName() string {
	return "reports"
}

// Validate checks that the report can be stored.
func (r *Report) Validate() error {
	if r.VideoID == "" {
		return ErrVideoIDRequired
	}
	if r.SegmentIndex < 0 {
		return ErrValidation{Field: "segment_index", Message: "must not be negative"}
	}
	if r.Content == "" {
		return ErrValidation{Field: "content", Message: "is required"}
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns a stable, path-safe file name for the report.
func (r *Report) FileName() string {
	return fmt.Sprintf("%s_segment_%03d.md", unsafeFileChars.ReplaceAllString(r.VideoID, "_"), r.SegmentIndex)
}
