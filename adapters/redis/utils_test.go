package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nestedMessage struct {
	ID      int64          `msgpack:"id"`
	Inner   TestMessage    `msgpack:"inner"`
	Tags    []string       `msgpack:"tags"`
	Amounts map[string]int `msgpack:"amounts"`
}

func TestEncodeDecodeMessage(t *testing.T) {
	t.Run("struct with time", func(t *testing.T) {
		in := TestMessage{ID: "1", Data: "hello", SentAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}

		message, err := EncodeMessage(in)
		require.NoError(t, err)
		assert.Contains(t, message, payloadField)

		out, err := DecodeMessage[TestMessage](message)
		require.NoError(t, err)
		assert.Equal(t, in.ID, out.ID)
		assert.Equal(t, in.Data, out.Data)
		assert.True(t, in.SentAt.Equal(out.SentAt))
	})

	t.Run("nested values", func(t *testing.T) {
		in := nestedMessage{
			ID:      42,
			Inner:   TestMessage{ID: "x"},
			Tags:    []string{"a", "b"},
			Amounts: map[string]int{"a": 1},
		}
		message, err := EncodeMessage(in)
		require.NoError(t, err)

		out, err := DecodeMessage[nestedMessage](message)
		require.NoError(t, err)
		assert.Equal(t, in.ID, out.ID)
		assert.Equal(t, in.Tags, out.Tags)
		assert.Equal(t, in.Amounts, out.Amounts)
		assert.Equal(t, "x", out.Inner.ID)
	})

	t.Run("payload string matches message field", func(t *testing.T) {
		payload, err := EncodePayload(TestMessage{ID: "p"})
		require.NoError(t, err)
		out, err := DecodeMessage[TestMessage](map[string]any{payloadField: payload})
		require.NoError(t, err)
		assert.Equal(t, "p", out.ID)
	})
}

func TestEncodeDecodeMessage_Errors(t *testing.T) {
	_, err := EncodeMessage(&TestMessage{})
	assert.ErrorIs(t, err, ErrPointerType)

	_, err = DecodeMessage[*TestMessage](map[string]any{payloadField: "x"})
	assert.ErrorIs(t, err, ErrPointerType)

	tests := []struct {
		name    string
		message map[string]any
		wantErr error
	}{
		{name: "missing field", message: map[string]any{"other": "x"}, wantErr: ErrMissingPayload},
		{name: "wrong type", message: map[string]any{payloadField: 12}, wantErr: ErrMissingPayload},
		{name: "not base64", message: map[string]any{payloadField: "%%%"}},
		{name: "not msgpack", message: map[string]any{payloadField: "AAAA"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage[TestMessage](tt.message)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	out, err := DecodeMessage[TestMessage](nil)
	require.NoError(t, err)
	assert.Zero(t, out)
}
