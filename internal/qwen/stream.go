package qwen

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/internal/metrics"
)

const (
	readBufferSize = 32 << 10
	// maxLineSize caps a single unterminated line held between reads.
	maxLineSize = 1 << 20
)

// Stream is an in-flight streamed answer.
type Stream struct {
	stopped atomic.Bool
	done    chan struct{}
	err     error
}

// Stop asks the read loop to exit before its next read. A read already
// blocked on the network is not interrupted; cancel the context passed to
// Ask for that.
func (s *Stream) Stop() { s.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (s *Stream) Stopped() bool { return s.stopped.Load() }

// Done is closed when the read loop exits.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait blocks until the read loop exits and returns the error that ended it,
// if any.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

type reader struct {
	stream  *Stream
	body    io.ReadCloser
	url     string
	handler Handler
	logger  zerolog.Logger
	metrics *metrics.Metrics

	// discarding is set while the rest of an oversized line is skipped.
	discarding bool
}

// run reads body until EOF, a read error or Stop. Each read is split on
// newlines; a trailing partial line is held for the next read.
func (r *reader) run() {
	defer close(r.stream.done)
	defer r.body.Close()

	buf := make([]byte, readBufferSize)
	var pending []byte
	for !r.stream.stopped.Load() {
		n, err := r.body.Read(buf)
		if n > 0 {
			pending = append(pending, r.skipOversized(buf[:n])...)
			pending = r.emitLines(pending)
			if len(pending) > maxLineSize {
				r.metrics.RecordStreamChunk("skipped")
				r.logger.Warn().Int("bytes", len(pending)).Msg("dropping oversized stream line")
				pending = nil
				r.discarding = true
			}
		}
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(pending)) > 0 && !r.stream.stopped.Load() {
				r.emit(pending)
			}
			if !r.stream.stopped.Load() {
				r.handler.OnDone()
			}
			return
		}
		if err != nil {
			if r.stream.stopped.Load() {
				return
			}
			r.stream.err = &perrors.TransportError{URL: r.url, Err: err}
			r.logger.Warn().Err(err).Msg("stream read failed")
			r.handler.OnError(r.stream.err)
			return
		}
	}
}

// skipOversized drops the tail of a line already reported as oversized, up
// to and including its newline.
func (r *reader) skipOversized(chunk []byte) []byte {
	if !r.discarding {
		return chunk
	}
	i := bytes.IndexByte(chunk, '\n')
	if i < 0 {
		return nil
	}
	r.discarding = false
	return chunk[i+1:]
}

// emitLines delivers every complete line in data and returns the remainder.
func (r *reader) emitLines(data []byte) []byte {
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return data
		}
		line := data[:i]
		data = data[i+1:]
		if r.stream.stopped.Load() {
			continue
		}
		if len(bytes.TrimSpace(line)) > 0 {
			r.emit(line)
		}
	}
}

func (r *reader) emit(line []byte) {
	resp, err := decodeResponse(bytes.TrimSpace(line))
	if err != nil {
		r.metrics.RecordStreamChunk("skipped")
		r.logger.Debug().Err(err).Int("bytes", len(line)).Msg("skipping malformed stream line")
		return
	}
	r.metrics.RecordStreamChunk("decoded")
	r.handler.OnMessage(resp)
}
