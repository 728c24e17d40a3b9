package process

import "io"

// Stream is a captured output stream that can be handed to one consumer
type Stream interface {
	// Claim transfers read ownership of the stream. It succeeds at most once and
	// fails once the stream has been read or drained.
	Claim() (io.ReadCloser, error)

	// Release returns a claimed stream whose consumer never started
	Release(rc io.ReadCloser)
}

type inputKind int

const (
	inputNone inputKind = iota
	inputBytes
	inputStream
)

// InputSource selects what a child reads on stdin: nothing, a byte buffer, or the
// output stream of another child
type InputSource struct {
	kind     inputKind
	data     []byte
	upstream Stream
}

// NoInput leaves stdin unconnected
func NoInput() InputSource {
	return InputSource{kind: inputNone}
}

// InputBytes feeds data to the child and closes stdin after the last byte
func InputBytes(data []byte) InputSource {
	if data == nil {
		data = []byte{}
	}
	return InputSource{kind: inputBytes, data: data}
}

// InputFrom connects the child's stdin to an upstream output stream
func InputFrom(upstream Stream) InputSource {
	return InputSource{kind: inputStream, upstream: upstream}
}

// IsNone reports whether no input is attached
func (s InputSource) IsNone() bool { return s.kind == inputNone }

// Bytes returns the buffer and true for byte-buffer input
func (s InputSource) Bytes() ([]byte, bool) {
	return s.data, s.kind == inputBytes
}

// Upstream returns the upstream stream and true for chained input
func (s InputSource) Upstream() (Stream, bool) {
	return s.upstream, s.kind == inputStream
}

// Options configures a single launch
type Options struct {
	// Env is merged over the inherited environment; absent keys are inherited unchanged
	Env map[string]string
	// Input selects what the child reads on stdin
	Input InputSource
	// CaptureOutput pipes stdout into a stream the caller can read or chain
	CaptureOutput bool
	// CaptureStderr collects stderr in memory instead of inheriting it
	CaptureStderr bool
	// Dir overrides the command's working directory
	Dir string
}

// DefaultOptions captures stdout and inherits everything else
func DefaultOptions() Options {
	return Options{CaptureOutput: true}
}
