package stdio

import (
	"io"
	"log/slog"
)

// Option customizes a Transport.
type Option func(*Transport)

// WithIO sets the reader and writer for the transport.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(t *Transport) {
		if r != nil {
			t.in = r
		}
		if w != nil {
			t.out = w
		}
	}
}

// WithReader overrides the input stream.
func WithReader(r io.Reader) Option {
	return func(t *Transport) {
		if r != nil {
			t.in = r
		}
	}
}

// WithWriter overrides the output stream.
func WithWriter(w io.Writer) Option {
	return func(t *Transport) {
		if w != nil {
			t.out = w
		}
	}
}

// WithLogger overrides the logger. It must not write to the output stream.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithMaxLineSize rejects input frames longer than n bytes with a parse
// error. Zero or a negative value disables the limit.
func WithMaxLineSize(n int) Option {
	return func(t *Transport) {
		t.maxLine = n
	}
}
