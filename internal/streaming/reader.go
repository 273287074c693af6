package streaming

import (
	"io"
	"sync"
	"sync/atomic"

	relayerrors "github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// Reader is the consumer-facing handle on a live token stream. Recv
// blocks for the next chunk; io.EOF marks a clean end. Cancellation,
// body close and backpressure-permit release are tied together so a
// stream can never leak its connection or its concurrency slot.
type Reader struct {
	dec    *Decoder
	body   io.ReadCloser
	onDone func()

	cancelled atomic.Bool
	sentCxl   bool
	finished  bool
	release   sync.Once
	done      chan struct{}
}

// NewReader wires a decoder over the response body. onDone runs exactly
// once when the stream reaches any terminal state (EOF, error, cancel,
// Close); it releases the backpressure permit and closes the body.
func NewReader(dec *Decoder, body io.ReadCloser, onDone func()) *Reader {
	return &Reader{dec: dec, body: body, onDone: onDone, done: make(chan struct{})}
}

// Done is closed when the stream reaches a terminal state. It lets a
// watcher goroutine tie an external context to Cancel without leaking.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Recv returns the next chunk. After cancellation it returns a
// Cancelled error exactly once, then io.EOF.
func (r *Reader) Recv() (*types.StreamChunk, error) {
	if r.cancelled.Load() {
		if r.sentCxl {
			return nil, io.EOF
		}
		r.sentCxl = true
		r.finish()
		return nil, relayerrors.ErrStreamCancelled
	}
	if r.finished {
		return nil, io.EOF
	}

	chunk, err := r.dec.Next()
	if err != nil {
		// A read error racing a cancel is reported as cancellation.
		if r.cancelled.Load() && err != io.EOF {
			if r.sentCxl {
				return nil, io.EOF
			}
			r.sentCxl = true
			r.finish()
			return nil, relayerrors.ErrStreamCancelled
		}
		r.finished = true
		r.finish()
		return nil, err
	}
	return chunk, nil
}

// Cancel stops the stream. It is idempotent and safe to call from any
// goroutine; closing the body unblocks a Recv stuck in a read.
func (r *Reader) Cancel() {
	if r.cancelled.CompareAndSwap(false, true) {
		r.finish()
	}
}

// Close is Cancel under the io.Closer name so callers can defer it.
func (r *Reader) Close() error {
	r.Cancel()
	return nil
}

// finish releases the permit and closes the body exactly once. The
// permit goes first so a cancelled slot frees up before the connection
// teardown completes.
func (r *Reader) finish() {
	r.release.Do(func() {
		if r.onDone != nil {
			r.onDone()
		}
		if r.body != nil {
			r.body.Close()
		}
		close(r.done)
	})
}
