package errors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type stubCloser struct {
	err    error
	closed bool
}

func (s *stubCloser) Close() error {
	s.closed = true
	return s.err
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name       string
		closer     *stubCloser
		wantLogged bool
	}{
		{name: "nil closer"},
		{name: "clean close", closer: &stubCloser{}},
		{name: "failed close", closer: &stubCloser{err: errors.New("boom")}, wantLogged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			var c io.Closer
			if tt.closer != nil {
				c = tt.closer
			}

			DeferClose(zerolog.New(&buf), c, "close failed")

			if tt.closer != nil {
				assert.True(t, tt.closer.closed)
			}
			assert.Equal(t, tt.wantLogged, buf.Len() > 0)
		})
	}
}

func TestDeferRollback_Nil(t *testing.T) {
	var buf bytes.Buffer
	DeferRollback(zerolog.New(&buf), nil)
	assert.Zero(t, buf.Len())
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(context.Canceled))
	assert.True(t, IsCancellation(fmt.Errorf("fetch: %w", context.DeadlineExceeded)))
	assert.False(t, IsCancellation(errors.New("other")))
	assert.False(t, IsCancellation(nil))
}
