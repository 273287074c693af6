package streaming

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/modelrelay/relay/internal/manifest"
	relayerrors "github.com/modelrelay/relay/pkg/errors"
)

type trackedBody struct {
	io.Reader
	closed atomic.Int32
}

func (b *trackedBody) Close() error {
	b.closed.Add(1)
	return nil
}

func newTestReader(t *testing.T, stream string, released *atomic.Int32) (*Reader, *trackedBody) {
	t.Helper()
	body := &trackedBody{Reader: strings.NewReader(stream)}
	dec, err := NewDecoder(body, manifest.StreamDataLines, "")
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return NewReader(dec, body, func() { released.Add(1) }), body
}

func TestReaderReleasesPermitOnEOF(t *testing.T) {
	var released atomic.Int32
	stream := "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	r, body := newTestReader(t, stream, &released)

	if _, err := r.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if _, err := r.Recv(); err != io.EOF {
		t.Fatalf("Recv after done: err = %v, want io.EOF", err)
	}
	if got := released.Load(); got != 1 {
		t.Errorf("permit released %d times, want 1", got)
	}
	if body.closed.Load() == 0 {
		t.Error("body not closed on EOF")
	}

	// Terminal state is sticky.
	if _, err := r.Recv(); err != io.EOF {
		t.Errorf("Recv after EOF: err = %v, want io.EOF", err)
	}
	if got := released.Load(); got != 1 {
		t.Errorf("permit released %d times after extra Recv, want 1", got)
	}

	select {
	case <-r.Done():
	default:
		t.Error("Done not closed after EOF")
	}
}

func TestReaderCancelIsIdempotent(t *testing.T) {
	var released atomic.Int32
	stream := "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\n"
	r, body := newTestReader(t, stream, &released)

	r.Cancel()
	r.Cancel()
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := released.Load(); got != 1 {
		t.Errorf("permit released %d times, want 1", got)
	}
	if got := body.closed.Load(); got != 1 {
		t.Errorf("body closed %d times, want 1", got)
	}

	_, err := r.Recv()
	if !errors.Is(err, relayerrors.ErrStreamCancelled) {
		t.Fatalf("first Recv after cancel: err = %v, want ErrStreamCancelled", err)
	}
	if _, err := r.Recv(); err != io.EOF {
		t.Errorf("second Recv after cancel: err = %v, want io.EOF", err)
	}
}

func TestReaderReleasesPermitOnDecodeError(t *testing.T) {
	var released atomic.Int32
	r, _ := newTestReader(t, "data: {broken\n\n", &released)

	_, err := r.Recv()
	if err == nil || err == io.EOF {
		t.Fatalf("Recv: err = %v, want decode error", err)
	}
	if got := released.Load(); got != 1 {
		t.Errorf("permit released %d times, want 1", got)
	}
}
