package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCodeUnwraps(t *testing.T) {
	inner := Transport("backend unreachable", fmt.Errorf("dial tcp: refused"))
	wrapped := fmt.Errorf("send message: %w", inner)

	require.True(t, IsCode(wrapped, ErrCodeTransport))
	require.False(t, IsCode(wrapped, ErrCodeAuth))
	require.False(t, IsCode(nil, ErrCodeTransport))
}

func TestCodeOfDefault(t *testing.T) {
	require.Equal(t, ErrCodeTransport, CodeOf(fmt.Errorf("plain"), ErrCodeTransport))
	require.Equal(t, ErrCodeAuth, CodeOf(Auth("expired token"), ErrCodeTransport))
}

func TestErrorFormatting(t *testing.T) {
	err := Summarization("summary call failed", fmt.Errorf("timeout"))
	require.Contains(t, err.Error(), "SUMMARIZATION")
	require.Contains(t, err.Error(), "timeout")
	require.EqualError(t, Validation("empty message"), "[VALIDATION] empty message")
}
