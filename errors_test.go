package gidtoken

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	e := newRemoteError(ErrCodeTokenExchange, "token exchange", "https://oauth2.example.com/token", 400, []byte(" bad grant \n"))
	require.Equal(t, "token exchange: Token exchange failed (https://oauth2.example.com/token): status 400: bad grant", e.Error())

	wrapped := newError(ErrCodeKeyFetch, io.ErrUnexpectedEOF)
	require.Equal(t, "Key fetch failed: unexpected EOF", wrapped.Error())
	require.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)

	unknown := newError(ErrorCode("custom"), nil)
	require.Equal(t, "custom", unknown.Error())
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", newError(ErrCodeExpired, nil))
	require.Equal(t, ErrCodeExpired, CodeOf(err))
	require.True(t, IsCode(err, ErrCodeExpired))
	require.False(t, IsCode(err, ErrCodeMalformedToken))
	require.Empty(t, CodeOf(errors.New("plain")))
	require.Empty(t, CodeOf(nil))
}

func TestWithOpKeepsExistingContext(t *testing.T) {
	e := newError(ErrCodeMalformedToken, nil)
	require.Same(t, e, withOp(e, "verify", "https://a"))
	require.Equal(t, "verify", e.Op)
	require.Equal(t, "https://a", e.Endpoint)

	withOp(e, "exchange", "https://b")
	require.Equal(t, "verify", e.Op)
	require.Equal(t, "https://a", e.Endpoint)

	plain := errors.New("plain")
	require.Equal(t, plain, withOp(plain, "verify", ""))
}
