// Package sse turns an upstream "data:" event stream, delivered in chunks of
// arbitrary size, into an ordered sequence of content fragments.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	readBufferSize = 4096
	logPayloadSize = 120

	// MaxLineSize bounds one buffered line. Longer lines are dropped up to
	// the next newline and counted as malformed.
	MaxLineSize = 1 << 20
)

var errConsumerGone = errors.New("fragment consumer stopped")

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Demuxer reassembles lines across writes and emits the content of every
// complete data frame. Bytes are only decoded once a full line is buffered,
// so a multi-byte character split between two writes is never corrupted.
type Demuxer struct {
	logger  *zap.Logger
	pending []byte
	emit    func(string) bool

	maxLine    int
	discarding bool

	frames    int
	malformed int
}

// NewDemuxer creates a demuxer that calls emit for each fragment. When emit
// returns false the demuxer stops and Write reports an error.
func NewDemuxer(logger *zap.Logger, emit func(string) bool) *Demuxer {
	return &Demuxer{logger: logger, emit: emit, maxLine: MaxLineSize}
}

// Write implements io.Writer
func (d *Demuxer) Write(p []byte) (int, error) {
	data := p
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')

		if d.discarding {
			if idx < 0 {
				return len(p), nil
			}
			d.discarding = false
			data = data[idx+1:]
			continue
		}

		if idx < 0 {
			if len(d.pending)+len(data) > d.maxLine {
				d.dropOversizedLine()
				d.discarding = true
				return len(p), nil
			}
			d.pending = append(d.pending, data...)
			return len(p), nil
		}

		chunk := data[:idx]
		data = data[idx+1:]
		if len(d.pending)+len(chunk) > d.maxLine {
			d.dropOversizedLine()
			continue
		}

		line := chunk
		if len(d.pending) > 0 {
			line = append(d.pending, chunk...)
		}
		ok := d.handleLine(line)
		// Reclaim the buffer; the line has been fully consumed
		d.pending = d.pending[:0]
		if !ok {
			return len(p), errConsumerGone
		}
	}
	return len(p), nil
}

// Flush processes a final line that was not newline terminated. It is called
// once at end of stream.
func (d *Demuxer) Flush() {
	d.discarding = false
	if len(d.pending) == 0 {
		return
	}
	line := d.pending
	d.pending = nil
	d.handleLine(line)
}

func (d *Demuxer) dropOversizedLine() {
	d.frames++
	d.malformed++
	d.logger.Warn("Skipping oversized stream line",
		zap.Int("limit", d.maxLine),
		zap.String("prefix", truncate(string(d.pending), logPayloadSize)))
	d.pending = nil
}

// Stats returns the number of data frames seen and how many were skipped as malformed
func (d *Demuxer) Stats() (frames, malformed int) {
	return d.frames, d.malformed
}

func (d *Demuxer) handleLine(line []byte) bool {
	event := ParseLine(string(bytes.TrimRight(line, "\r")))

	switch event.Kind {
	case entities.StreamEventData:
		d.frames++
		delta, err := ExtractDelta(event.Payload)
		if err != nil {
			d.malformed++
			d.logger.Warn("Skipping malformed stream frame",
				zap.String("payload", truncate(event.Payload, logPayloadSize)),
				zap.Error(err))
			return true
		}
		if delta == "" {
			return true
		}
		return d.emit(delta)
	case entities.StreamEventTerminal:
		d.logger.Debug("Received terminal stream sentinel")
	}
	return true
}

// ParseLine classifies one complete line of the event stream
func ParseLine(line string) entities.StreamEvent {
	if !strings.HasPrefix(line, dataPrefix) {
		return entities.StreamEvent{Kind: entities.StreamEventIgnored}
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == doneSentinel {
		return entities.StreamEvent{Kind: entities.StreamEventTerminal}
	}
	if payload == "" {
		return entities.StreamEvent{Kind: entities.StreamEventIgnored}
	}
	return entities.StreamEvent{Kind: entities.StreamEventData, Payload: payload}
}

// ExtractDelta returns the incremental content of the first choice. Frames
// without choices or without content yield an empty string.
func ExtractDelta(payload string) (string, error) {
	var body streamingResponseBody
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return "", err
	}
	if len(body.Choices) == 0 {
		return "", nil
	}
	return body.Choices[0].Delta.Content, nil
}

// Stream pumps body through a Demuxer and returns the reply stream. The
// body and the stream are closed on every exit path: end of stream, read
// error, or ctx cancellation. Only a clean end of stream closes the reply
// with a nil error.
func Stream(ctx context.Context, body io.ReadCloser, logger *zap.Logger) *entities.ReplyStream {
	reply := entities.NewReplyStream()

	go func() {
		var streamErr error
		defer func() { reply.Close(streamErr) }()
		defer body.Close()

		demuxer := NewDemuxer(logger, func(fragment string) bool {
			return reply.Send(ctx, fragment)
		})

		buf := make([]byte, readBufferSize)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				if _, werr := demuxer.Write(buf[:n]); werr != nil {
					logger.Info("Stream consumer went away", zap.Error(ctx.Err()))
					streamErr = ctx.Err()
					return
				}
			}
			if err != nil {
				switch {
				case errors.Is(err, io.EOF):
				case ctx.Err() != nil:
					logger.Info("Upstream stream cancelled", zap.Error(ctx.Err()))
					streamErr = ctx.Err()
				default:
					logger.Error("Error reading upstream stream", zap.Error(err))
					streamErr = fmt.Errorf("failed to read upstream stream: %w", err)
				}
				break
			}
		}

		if streamErr != nil {
			return
		}
		demuxer.Flush()
		frames, malformed := demuxer.Stats()
		logger.Debug("Upstream stream finished",
			zap.Int("frames", frames),
			zap.Int("malformed", malformed))
	}()

	return reply
}

// truncate shortens s to at most n bytes without splitting a character
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
