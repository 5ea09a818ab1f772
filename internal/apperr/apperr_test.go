package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-hazard-watch/internal/models"
)

func TestFromTransport_Reasons(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want NetworkReason
	}{
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), NetworkTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example"}, NetworkNoConnection},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, NetworkNoConnection},
		{"other", errors.New("boom"), NetworkUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ne *NetworkError
			require.ErrorAs(t, FromTransport(tt.err), &ne)
			assert.Equal(t, tt.want, ne.Reason)
		})
	}
}

func TestFromTransport_KeepsTypedErrors(t *testing.T) {
	in := &ParseError{What: "body", Err: io.ErrUnexpectedEOF}
	assert.Same(t, in, FromTransport(in))
	assert.NoError(t, FromTransport(nil))
}

func TestFromStatus(t *testing.T) {
	var ce *ClientError
	require.ErrorAs(t, FromStatus(404, "missing"), &ce)
	assert.Equal(t, 404, ce.StatusCode)

	var se *ServerError
	require.ErrorAs(t, FromStatus(503, "down"), &se)
	assert.Equal(t, 503, se.StatusCode)
}

func TestDataUnavailable_Is(t *testing.T) {
	err := fmt.Errorf("sync: %w", &DataUnavailableError{
		Kinds:  []models.EntityKind{models.KindShelter},
		Causes: []error{&NetworkError{Reason: NetworkTimeout, Err: context.DeadlineExceeded}},
	})
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "shelter")
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&NetworkError{Err: io.EOF}))
	assert.True(t, IsTransient(&ServerError{StatusCode: 502}))
	assert.True(t, IsTransient(io.ErrUnexpectedEOF))
	assert.False(t, IsTransient(&ClientError{StatusCode: 401}))
	assert.False(t, IsTransient(&ParseError{What: "frame", Err: errors.New("bad")}))
}
