package entities

import "context"

// StreamEventKind classifies a decoded streamed frame
type StreamEventKind int

const (
	StreamEventData StreamEventKind = iota
	StreamEventTerminal
	StreamEventMalformed
	// StreamEventIgnored marks lines that carry no data marker (comments,
	// event names, keep-alives).
	StreamEventIgnored
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamEventData:
		return "data"
	case StreamEventTerminal:
		return "terminal"
	case StreamEventMalformed:
		return "malformed"
	default:
		return "ignored"
	}
}

// StreamEvent is one decoded protocol frame. It is never stored.
type StreamEvent struct {
	Kind    StreamEventKind
	Payload string
}

// ReplyStream carries the fragments of one streamed assistant reply. The
// producer sends fragments in arrival order and closes the stream exactly
// once; Err is valid after Fragments is closed and reports the failure that
// cut the reply short, or nil when it completed.
type ReplyStream struct {
	fragments chan string
	err       error
}

// NewReplyStream creates an open reply stream
func NewReplyStream() *ReplyStream {
	return &ReplyStream{fragments: make(chan string)}
}

// Fragments returns the channel of reply fragments
func (r *ReplyStream) Fragments() <-chan string {
	return r.fragments
}

// Send delivers one fragment. It reports false when ctx ends first.
func (r *ReplyStream) Send(ctx context.Context, fragment string) bool {
	select {
	case r.fragments <- fragment:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the reply. err is nil for a reply that completed normally.
func (r *ReplyStream) Close(err error) {
	r.err = err
	close(r.fragments)
}

// Err returns why the reply ended. It must only be called after Fragments
// has been closed.
func (r *ReplyStream) Err() error {
	return r.err
}
