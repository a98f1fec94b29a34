package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxSizeReader(t *testing.T) {
	tests := []struct {
		name       string
		input      []byte
		maxSize    int64
		wantN      int
		wantErrMsg string
	}{
		{name: "under the limit", input: []byte("hello"), maxSize: 10, wantN: 5},
		{name: "exactly the limit", input: []byte("hello"), maxSize: 5, wantN: 5},
		{name: "over the limit", input: []byte("hello world"), maxSize: 5, wantN: 5, wantErrMsg: "reach limit of 5 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := newMaxSizeReader(bytes.NewReader(tt.input), tt.maxSize)
			buf := make([]byte, len(tt.input))
			n, err := reader.Read(buf)

			assert.Equal(t, tt.wantN, n)
			if tt.wantErrMsg != "" {
				var limitErr *ReachLimitError
				require.ErrorAs(t, err, &limitErr)
				assert.Equal(t, tt.wantErrMsg, err.Error())
			} else {
				assert.True(t, err == nil || err == io.EOF)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{500, "500 bytes"},
		{1024 * 2, "2.00 KB"},
		{1024 * 1024 * 3, "3.00 MB"},
		{1024 * 1024 * 1024 * 4, "4.00 GB"},
		{1024 * 1024 * 1024 * 1024 * 5, "5.00 TB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatBytes(tt.bytes))
		})
	}
}

func TestServer_BodyLimit(t *testing.T) {
	s := setupServer(t, sqliteConfig(), WithMaxBodySize(128))

	w := s.do(t, http.MethodPost, "/groups", CreateGroupRequest{
		Name:        "Pool",
		Description: strings.Repeat("x", 512),
		ChitValue:   30000,
		MaxMembers:  3,
	})
	assertError(t, w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")
}
