package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/wenzhen/server/domain/entities"
)

const greetingStream = "data: {\"choices\":[{\"delta\":{\"content\":\"你\"}}]}\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"好\"}}]}\n" +
	"data: [DONE]\n"

func collect(t testing.TB, chunks [][]byte) string {
	t.Helper()
	var sb strings.Builder
	d := NewDemuxer(zap.NewNop(), func(s string) bool {
		sb.WriteString(s)
		return true
	})
	for _, c := range chunks {
		if _, err := d.Write(c); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	}
	d.Flush()
	return sb.String()
}

func TestDemuxer_GreetingExample(t *testing.T) {
	got := collect(t, [][]byte{
		[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"你\"}}]}\n"),
		[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"好\"}}]}\n"),
		[]byte("data: [DONE]\n"),
	})
	if got != "你好" {
		t.Errorf("Expected 你好, got %q", got)
	}
}

func TestDemuxer_EverySplitPoint(t *testing.T) {
	raw := []byte(greetingStream)

	for i := 0; i <= len(raw); i++ {
		got := collect(t, [][]byte{raw[:i], raw[i:]})
		if got != "你好" {
			t.Fatalf("Split at %d: expected 你好, got %q", i, got)
		}
	}
}

func TestDemuxer_EveryPairOfSplitPoints(t *testing.T) {
	raw := []byte(greetingStream)

	for i := 0; i <= len(raw); i++ {
		for j := i; j <= len(raw); j++ {
			got := collect(t, [][]byte{raw[:i], raw[i:j], raw[j:]})
			if got != "你好" {
				t.Fatalf("Split at %d/%d: expected 你好, got %q", i, j, got)
			}
		}
	}
}

func TestDemuxer_SingleByteChunks(t *testing.T) {
	raw := []byte(greetingStream + "data: {\"choices\":[{\"delta\":{\"content\":\"，耳鼻喉科\"}}]}\r\n")
	chunks := make([][]byte, len(raw))
	for i := range raw {
		chunks[i] = raw[i : i+1]
	}

	if got := collect(t, chunks); got != "你好，耳鼻喉科" {
		t.Errorf("Expected 你好，耳鼻喉科, got %q", got)
	}
}

func TestDemuxer_TerminalSentinelProducesNothing(t *testing.T) {
	var calls int
	d := NewDemuxer(zaptest.NewLogger(t), func(string) bool {
		calls++
		return true
	})

	if _, err := d.Write([]byte("data: [DONE]\n")); err != nil {
		t.Fatalf("Sentinel must not raise an error, got %v", err)
	}
	d.Flush()

	frames, malformed := d.Stats()
	if calls != 0 || frames != 0 || malformed != 0 {
		t.Errorf("Sentinel must not produce fragments, got calls=%d frames=%d malformed=%d", calls, frames, malformed)
	}
}

func TestDemuxer_MalformedLineIsSkipped(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":\n" +
		"data: not json at all\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\""

	d := NewDemuxer(zaptest.NewLogger(t), nil)
	var got []string
	d.emit = func(s string) bool {
		got = append(got, s)
		return true
	}
	if _, err := d.Write([]byte(input)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	d.Flush()

	if strings.Join(got, "") != "ab" {
		t.Errorf("Expected ab, got %q", strings.Join(got, ""))
	}
	if _, malformed := d.Stats(); malformed != 3 {
		t.Errorf("Expected 3 malformed frames, got %d", malformed)
	}
}

func TestDemuxer_IgnoresNonDataLines(t *testing.T) {
	input := ": keep-alive\n" +
		"event: message\n" +
		"\n" +
		"data:\n" +
		"data:{\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n" +
		"data: {\"choices\":[]}\n" +
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n"

	if got := collect(t, [][]byte{[]byte(input)}); got != "x" {
		t.Errorf("Expected x, got %q", got)
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		kind    entities.StreamEventKind
		payload string
	}{
		{"data: [DONE]", entities.StreamEventTerminal, ""},
		{"data:[DONE]", entities.StreamEventTerminal, ""},
		{"data: {\"a\":1}", entities.StreamEventData, "{\"a\":1}"},
		{"event: ping", entities.StreamEventIgnored, ""},
		{"", entities.StreamEventIgnored, ""},
	}

	for _, tt := range tests {
		ev := ParseLine(tt.line)
		if ev.Kind != tt.kind || ev.Payload != tt.payload {
			t.Errorf("ParseLine(%q) = %v %q, want %v %q", tt.line, ev.Kind, ev.Payload, tt.kind, tt.payload)
		}
	}
}

type chunkedBody struct {
	chunks [][]byte
	closed bool
	err    error
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	if len(b.chunks[0]) == 0 {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.closed = true
	return nil
}

func drain(t *testing.T, ch <-chan string) string {
	t.Helper()
	var sb strings.Builder
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return sb.String()
			}
			sb.WriteString(s)
		case <-timeout:
			t.Fatal("Fragment channel was not closed")
		}
	}
}

func TestStream_ClosesBodyAndChannelOnEOF(t *testing.T) {
	raw := []byte(greetingStream)
	body := &chunkedBody{chunks: [][]byte{raw[:7], raw[7:40], raw[40:]}}

	reply := Stream(context.Background(), body, zaptest.NewLogger(t))
	got := drain(t, reply.Fragments())

	if got != "你好" {
		t.Errorf("Expected 你好, got %q", got)
	}
	if err := reply.Err(); err != nil {
		t.Errorf("Expected a complete reply, got %v", err)
	}
	if !body.closed {
		t.Error("Body should be closed at end of stream")
	}
}

func TestStream_ClosesOnReadError(t *testing.T) {
	body := &chunkedBody{
		chunks: [][]byte{[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"部分\"}}]}\n")},
		err:    errors.New("connection reset"),
	}

	reply := Stream(context.Background(), body, zaptest.NewLogger(t))
	got := drain(t, reply.Fragments())

	if got != "部分" {
		t.Errorf("Expected fragments before the error, got %q", got)
	}
	if err := reply.Err(); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Expected the read error to end the reply, got %v", err)
	}
	if !body.closed {
		t.Error("Body should be closed after a read error")
	}
}

func TestStream_ClosesOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	reply := Stream(ctx, pr, zaptest.NewLogger(t))
	ch := reply.Fragments()

	go func() {
		pw.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n"))
		pw.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n"))
	}()

	if first := <-ch; first != "a" {
		t.Fatalf("Expected first fragment a, got %q", first)
	}
	cancel()

	// The pending "b" is abandoned; closing the writer unblocks any read.
	pw.CloseWithError(context.Canceled)
	drain(t, ch)
	if !errors.Is(reply.Err(), context.Canceled) {
		t.Errorf("Expected a cancelled reply, got %v", reply.Err())
	}
}

func TestDemuxer_OversizedLineIsSkipped(t *testing.T) {
	var got []string
	d := NewDemuxer(zaptest.NewLogger(t), func(s string) bool {
		got = append(got, s)
		return true
	})
	d.maxLine = 64

	writes := []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n",
		"data: " + strings.Repeat("x", 40),
		strings.Repeat("y", 40),
		strings.Repeat("z", 40) + "\ndata: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n",
		strings.Repeat("w", 100) + "\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"c\"}}]}\n",
	}
	for _, w := range writes {
		if _, err := d.Write([]byte(w)); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
		if len(d.pending) > d.maxLine {
			t.Fatalf("Buffered %d bytes, limit is %d", len(d.pending), d.maxLine)
		}
	}
	d.Flush()

	if strings.Join(got, "") != "abc" {
		t.Errorf("Expected abc, got %q", strings.Join(got, ""))
	}
	if _, malformed := d.Stats(); malformed != 2 {
		t.Errorf("Expected 2 oversized lines, got %d", malformed)
	}
}

func TestDemuxer_BufferStaysBoundedWithoutNewline(t *testing.T) {
	var got strings.Builder
	d := NewDemuxer(zap.NewNop(), func(s string) bool {
		got.WriteString(s)
		return true
	})

	chunk := make([]byte, MaxLineSize/2)
	for i := range chunk {
		chunk[i] = 'x'
	}
	for i := 0; i < 8; i++ {
		if _, err := d.Write(chunk); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
		if len(d.pending) > MaxLineSize {
			t.Fatalf("Buffered %d bytes after write %d", len(d.pending), i)
		}
	}

	if _, err := d.Write([]byte("\ndata: {\"choices\":[{\"delta\":{\"content\":\"恢复\"}}]}\n")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if got.String() != "恢复" {
		t.Errorf("Expected the stream to recover after the oversized line, got %q", got.String())
	}
}

func TestTruncateKeepsCharactersWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"短", 10, "短"},
		{"你好世界", 4, "你..."},
		{"你好世界", 6, "你好..."},
		{"ab你好", 3, "ab..."},
	}

	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
