// Package stream delivers ordered pipeline events to a single client
// over a long-lived text/event-stream response. Events are written in
// exactly the order accepted; client disconnection stops playback
// immediately and releases all pending timers.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"whitewall/event"
	"whitewall/scenario"
)

// KeepAliveInterval bounds the idle gap between writes. Keep-alives are
// comment lines, not events; conformant clients ignore them.
const KeepAliveInterval = 15 * time.Second

// Writer frames events onto an SSE response.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares the response for event streaming. It fails when
// the underlying ResponseWriter cannot flush incrementally.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one event as a single SSE message and flushes it.
func (sw *Writer) Send(ev event.Event) error {
	if sw == nil {
		return errors.New("nil stream writer")
	}
	data, err := event.Marshal(ev)
	if err != nil {
		return err
	}
	return sw.writeData(data)
}

// SendJSON writes an arbitrary JSON-encodable payload as one SSE
// message, for streams outside the pipeline event vocabulary.
func (sw *Writer) SendJSON(v any) error {
	if sw == nil {
		return errors.New("nil stream writer")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}
	return sw.writeData(data)
}

func (sw *Writer) writeData(data []byte) error {
	if _, err := sw.w.Write([]byte("data: ")); err != nil {
		return errors.Wrap(err, "write event")
	}
	if _, err := sw.w.Write(data); err != nil {
		return errors.Wrap(err, "write event")
	}
	if _, err := sw.w.Write([]byte("\n\n")); err != nil {
		return errors.Wrap(err, "write event")
	}
	sw.flusher.Flush()
	return nil
}

// KeepAlive writes a comment line to hold the connection open.
func (sw *Writer) KeepAlive() error {
	if sw == nil {
		return errors.New("nil stream writer")
	}
	if _, err := sw.w.Write([]byte(": keepalive\n\n")); err != nil {
		return errors.Wrap(err, "write keepalive")
	}
	sw.flusher.Flush()
	return nil
}

// Play walks a timed event sequence, sleeping the scripted pause after
// each event and emitting keep-alives when a pause outlasts the
// keep-alive interval. Playback stops silently on write failure or
// context cancellation; remaining events are never produced.
func Play(ctx context.Context, sw *Writer, seq []scenario.TimedEvent) {
	if sw == nil {
		return
	}
	for _, te := range seq {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := sw.Send(te.Event); err != nil {
			return
		}
		if te.Delay > 0 {
			if !sleep(ctx, sw, te.Delay) {
				return
			}
		}
	}
}

// sleep waits d, punctuated by keep-alives, and reports whether
// playback should continue.
func sleep(ctx context.Context, sw *Writer, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-ticker.C:
			if err := sw.KeepAlive(); err != nil {
				return false
			}
		}
	}
}
