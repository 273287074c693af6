// Package streaming turns provider byte streams into normalised
// StreamChunk sequences. Four SSE/NDJSON dialects plus concatenated
// JSON are decoded by a single frame loop: find the next event
// boundary, parse the frame, yield zero or one chunk, keep the rest.
package streaming

import (
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/modelrelay/relay/internal/manifest"
	relayerrors "github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// readChunkSize is the transport read granularity.
const readChunkSize = 4096

// FrameParser parses one complete frame. Returning done=true ends the
// stream regardless of remaining buffered bytes.
type FrameParser interface {
	ParseFrame(frame []byte) (chunk *types.StreamChunk, done bool, err error)
}

// Decoder reads frames from an HTTP body and yields normalised chunks.
// It is single-threaded per stream; callers must not share it across
// goroutines.
type Decoder struct {
	r      io.Reader
	parser FrameParser
	split  splitFunc
	// arraySyntax marks concatenated-array streams whose trailing [],
	// punctuation is not a frame.
	arraySyntax bool
	buf         []byte
	done        bool
	readErr     error
}

// splitFunc finds the next complete frame in buf. rest is the
// unconsumed remainder; ok is false when no full frame is buffered yet.
type splitFunc func(buf []byte) (frame, rest []byte, ok bool)

// NewDecoder builds a decoder for the given streaming dialect.
func NewDecoder(r io.Reader, format, doneEvent string) (*Decoder, error) {
	var parser FrameParser
	var split splitFunc

	switch format {
	case manifest.StreamDataLines:
		parser, split = &dataLinesParser{}, splitSSE
	case manifest.StreamAnthropicSSE:
		parser, split = &anthropicParser{}, splitSSE
	case manifest.StreamResponsesAPI:
		parser, split = &responsesParser{}, splitSSE
	case manifest.StreamCohereNative:
		parser, split = &cohereParser{doneEvent: doneEvent}, splitLine
	case manifest.StreamGeminiJSON:
		parser, split = &geminiParser{}, splitJSONObject
	default:
		return nil, relayerrors.Newf(relayerrors.KindConfiguration,
			"unknown streaming format %q", format)
	}

	return &Decoder{
		r:           r,
		parser:      parser,
		split:       split,
		arraySyntax: format == manifest.StreamGeminiJSON,
	}, nil
}

// Next returns the next chunk, or io.EOF once the stream terminates
// (done signal or body close).
func (d *Decoder) Next() (*types.StreamChunk, error) {
	for {
		if d.done {
			return nil, io.EOF
		}

		// Only scan the prefix that ends on a complete UTF-8
		// codepoint; a split rune at the tail waits for more bytes.
		safe := d.buf[:len(d.buf)-incompleteTailLen(d.buf)]
		if frame, rest, ok := d.split(safe); ok {
			tail := d.buf[len(safe):]
			d.buf = append(append([]byte(nil), rest...), tail...)
			chunk, done, err := d.parser.ParseFrame(frame)
			if err != nil {
				return nil, err
			}
			if done {
				d.done = true
			}
			if chunk != nil {
				return chunk, nil
			}
			if done {
				return nil, io.EOF
			}
			continue
		}

		if d.readErr != nil {
			// Body closed: flush any final partial frame (NDJSON
			// without trailing newline, last JSON object). A frame that
			// fails to parse here is a truncated terminal frame and
			// surfaces as an error rather than a clean end.
			cutset := " \t\r\n"
			if d.arraySyntax {
				cutset = " \t\r\n[],"
			}
			if frame := bytes.Trim(d.buf, cutset); len(frame) > 0 {
				d.buf = nil
				chunk, done, err := d.parser.ParseFrame(frame)
				if err != nil {
					d.done = true
					return nil, err
				}
				if done {
					d.done = true
				}
				if chunk != nil {
					return chunk, nil
				}
			}
			d.done = true
			if errors.Is(d.readErr, io.EOF) {
				return nil, io.EOF
			}
			return nil, relayerrors.New(relayerrors.KindNetwork, d.readErr.Error()).WithCause(d.readErr)
		}

		tmp := make([]byte, readChunkSize)
		n, err := d.r.Read(tmp)
		if n > 0 {
			d.buf = append(d.buf, tmp[:n]...)
		}
		if err != nil {
			d.readErr = err
		}
	}
}

// incompleteTailLen returns how many trailing bytes form an incomplete
// multi-byte codepoint.
func incompleteTailLen(buf []byte) int {
	// A continuation tail can be at most utf8.UTFMax-1 bytes.
	start := len(buf) - (utf8.UTFMax - 1)
	if start < 0 {
		start = 0
	}
	for i := len(buf) - 1; i >= start; i-- {
		b := buf[i]
		if b < 0x80 {
			return 0 // ASCII tail, nothing split
		}
		if b >= 0xC0 {
			// Lead byte: complete iff the full rune is present.
			need := 1
			switch {
			case b >= 0xF0:
				need = 4
			case b >= 0xE0:
				need = 3
			case b >= 0xC0:
				need = 2
			}
			if len(buf)-i < need {
				return len(buf) - i
			}
			return 0
		}
	}
	return 0
}

// splitSSE frames on a blank line: \n\n or \r\n\r\n.
func splitSSE(buf []byte) (frame, rest []byte, ok bool) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return nil, nil, false
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return buf[:crlf], buf[crlf+4:], true
	default:
		return buf[:lf], buf[lf+2:], true
	}
}

// splitLine frames NDJSON on single newlines.
func splitLine(buf []byte) (frame, rest []byte, ok bool) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return nil, nil, false
	}
	return bytes.TrimSuffix(buf[:i], []byte("\r")), buf[i+1:], true
}

// splitJSONObject frames on complete top-level JSON objects, skipping
// the array punctuation of a concatenated-array stream.
func splitJSONObject(buf []byte) (frame, rest []byte, ok bool) {
	start := -1
	for i, b := range buf {
		if b == '{' {
			start = i
			break
		}
		// Skip whitespace and the surrounding [ , ] of array streams.
		switch b {
		case ' ', '\t', '\r', '\n', '[', ',', ']':
			continue
		default:
			return nil, nil, false
		}
	}
	if start < 0 {
		return nil, nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(buf); i++ {
		b := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return buf[start : i+1], buf[i+1:], true
			}
		}
	}
	return nil, nil, false
}
