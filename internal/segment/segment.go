// Package segment splits a video timeline into fixed-length analysis windows.
package segment

import (
	"fmt"
	"math"
	"time"
)

// Segment is a contiguous time window of a video. End is nil when the
// segment covers the whole video, meaning "to the end".
type Segment struct {
	Index int      `json:"index"`
	Start float64  `json:"start"`
	End   *float64 `json:"end"`
}

// IsWhole reports whether the segment spans the entire video.
func (s Segment) IsWhole() bool {
	return s.Index == 0 && s.Start == 0 && s.End == nil
}

// Length returns the segment length in seconds, or 0 for a whole-video segment.
func (s Segment) Length() float64 {
	if s.End == nil {
		return 0
	}
	return *s.End - s.Start
}

// Label renders the segment position for logs and status messages.
func (s Segment) Label(total int) string {
	if s.End == nil {
		return fmt.Sprintf("segment %d/%d (full video)", s.Index+1, total)
	}
	return fmt.Sprintf("segment %d/%d (%s-%s)", s.Index+1, total, clock(s.Start), clock(*s.End))
}

func clock(secs float64) string {
	d := time.Duration(secs * float64(time.Second)).Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	sec := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// Plan splits a video of the given length into segments of at most
// maxSeconds. An unknown length (<= 0), a length that fits in one segment, or
// a non-positive maxSeconds yields a single whole-video segment. Otherwise segments
// start at multiples of maxSeconds, the last one ending exactly at the video length.
func Plan(duration, maxSeconds float64) []Segment {
	if duration <= 0 || maxSeconds <= 0 || duration <= maxSeconds || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return []Segment{{Index: 0, Start: 0, End: nil}}
	}

	count := int(math.Ceil(duration / maxSeconds))
	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * maxSeconds
		end := math.Min(start+maxSeconds, duration)
		segments = append(segments, Segment{Index: i, Start: start, End: &end})
	}
	return segments
}

// PlanDuration is Plan for time.Duration inputs.
func PlanDuration(duration, maxLen time.Duration) []Segment {
	return Plan(duration.Seconds(), maxLen.Seconds())
}
