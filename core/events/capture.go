package events

import "time"

const KindSegmentCaptured Kind = "capture.segment_captured"

type SegmentCaptured struct {
	Base
	Bytes    int
	Duration time.Duration
}

func NewSegmentCaptured(bytes int, duration time.Duration) SegmentCaptured {
	return SegmentCaptured{Base: NewBase(KindSegmentCaptured), Bytes: bytes, Duration: duration}
}
