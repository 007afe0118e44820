// Package events defines the typed events a chat session reports while it
// runs.
//
// Event kinds are grouped by namespace:
//
//   - session.*
//   - capture.*
//   - transport.*
//   - playback.*
//   - assistant.*
//
// session events
//
//   - SessionStateChanged (session.state_changed): the session moved from one
//     state to another.
//   - SessionStopped (session.stopped): the session reached its terminal
//     state; carries the fatal error, if any.
//
// capture events
//
//   - SegmentCaptured (capture.segment_captured): a segment is ready to send.
//     Empty utterances are reported with zero bytes and are not sent.
//
// transport events
//
//   - ChannelOpened (transport.opened): the channel is ready for segments.
//   - SegmentSent (transport.segment_sent): the backend accepted a segment.
//   - SegmentDropped (transport.segment_dropped): the channel was not open and
//     the segment was discarded.
//   - UploadFailed (transport.upload_failed): a send failed; capture resumes.
//   - PayloadReceived (transport.payload_received): a response arrived.
//   - Reconnecting (transport.reconnecting): a reconnect is scheduled.
//
// playback events
//
//   - PlaybackStarted (playback.started): media playback began.
//   - PlaybackEnded (playback.ended): playback finished; Err is set when it
//     failed.
//
// assistant events
//
//   - AssistantText (assistant.text): a text answer for the user.
//   - AssistantErrorMessage (assistant.error_message): the backend reported an
//     error instead of an answer.
package events
