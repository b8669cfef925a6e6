package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("connection reset"), false},
		{"explicit marker", Fatal("pairing revoked", nil), true},
		{"wrapped marker", fmt.Errorf("init: %w", Fatal("banned", nil)), true},
		{"logged out phrase", errors.New("websocket closed: device logged out"), true},
		{"unauthorized phrase", errors.New("server returned 401 Unauthorized"), true},
		{"timeout", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestFatalErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Fatal("send rejected", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "send rejected")
}

func TestSanitizeNumber(t *testing.T) {
	assert.Equal(t, "5511999990001", sanitizeNumber("+55 (11) 99999-0001"))
	assert.Equal(t, "123", sanitizeNumber("123"))
}
