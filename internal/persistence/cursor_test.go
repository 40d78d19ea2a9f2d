package persistence

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/runhub/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := &domain.Cursor{StartedAt: time.Date(2025, time.June, 1, 6, 30, 0, 123, time.UTC), ID: 987654321}

	token := EncodeCursor(cursor)
	require.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, cursor.StartedAt.Equal(decoded.StartedAt))
	require.Equal(t, cursor.ID, decoded.ID)
}

func TestDecodeCursorEdgeCases(t *testing.T) {
	empty, err := DecodeCursor("")
	require.NoError(t, err)
	require.Nil(t, empty)
	require.Empty(t, EncodeCursor(nil))

	for _, token := range []string{
		"!!!",
		base64.RawURLEncoding.EncodeToString([]byte("no-separator")),
		base64.RawURLEncoding.EncodeToString([]byte("yesterday|12")),
		base64.RawURLEncoding.EncodeToString([]byte("2025-06-01T06:30:00Z|abc")),
	} {
		_, err := DecodeCursor(token)
		require.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}
