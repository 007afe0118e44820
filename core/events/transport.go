package events

import "time"

const (
	KindChannelOpened    Kind = "transport.opened"
	KindSegmentSent      Kind = "transport.segment_sent"
	KindSegmentDropped   Kind = "transport.segment_dropped"
	KindUploadFailed     Kind = "transport.upload_failed"
	KindPayloadReceived  Kind = "transport.payload_received"
	KindPayloadDiscarded Kind = "transport.payload_discarded"
	KindReconnecting     Kind = "transport.reconnecting"
)

type ChannelOpened struct{ Base }

func NewChannelOpened() ChannelOpened {
	return ChannelOpened{Base: NewBase(KindChannelOpened)}
}

type SegmentSent struct {
	Base
	Bytes int
}

func NewSegmentSent(bytes int) SegmentSent {
	return SegmentSent{Base: NewBase(KindSegmentSent), Bytes: bytes}
}

type SegmentDropped struct {
	Base
	Bytes int
}

func NewSegmentDropped(bytes int) SegmentDropped {
	return SegmentDropped{Base: NewBase(KindSegmentDropped), Bytes: bytes}
}

type UploadFailed struct {
	Base
	Err error
}

func NewUploadFailed(err error) UploadFailed {
	return UploadFailed{Base: NewBase(KindUploadFailed), Err: err}
}

// PayloadReceived describes a response by kind. Latency is measured from
// the moment the segment was handed to the channel.
type PayloadReceived struct {
	Base
	PayloadKind string
	Latency     time.Duration
}

func NewPayloadReceived(payloadKind string, latency time.Duration) PayloadReceived {
	return PayloadReceived{Base: NewBase(KindPayloadReceived), PayloadKind: payloadKind, Latency: latency}
}

// PayloadDiscarded is a response that answered a segment which was already
// given up on.
type PayloadDiscarded struct {
	Base
	PayloadKind string
}

func NewPayloadDiscarded(payloadKind string) PayloadDiscarded {
	return PayloadDiscarded{Base: NewBase(KindPayloadDiscarded), PayloadKind: payloadKind}
}

type Reconnecting struct {
	Base
	Attempt int
	Delay   time.Duration
}

func NewReconnecting(attempt int, delay time.Duration) Reconnecting {
	return Reconnecting{Base: NewBase(KindReconnecting), Attempt: attempt, Delay: delay}
}
