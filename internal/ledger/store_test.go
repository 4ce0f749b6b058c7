package ledger

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Unix(0, 1724990000123456789)
	cursor := encodeCursor(ts, "txn-9")

	got, id, err := decodeCursor(cursor)
	require.NoError(t, err)
	assert.True(t, got.Equal(ts))
	assert.Equal(t, "txn-9", id)
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not base64":        "not-base64!!",
		"no separator":      base64.RawURLEncoding.EncodeToString([]byte("1724990000123456789")),
		"trailing garbage":  base64.RawURLEncoding.EncodeToString([]byte("123junk|txn-1")),
		"empty timestamp":   base64.RawURLEncoding.EncodeToString([]byte("|txn-1")),
		"non-numeric nanos": base64.RawURLEncoding.EncodeToString([]byte("abc|txn-1")),
	}
	for name, cursor := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := decodeCursor(cursor)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestGetTransactionByKeyUnknownKey(t *testing.T) {
	store := NewMemoryStore()

	_, _, err := store.GetTransactionByKey(context.Background(), "u", "never-used")
	assert.ErrorIs(t, err, errKeyNotFound)
	assert.NotErrorIs(t, err, ErrWalletNotFound)
}
