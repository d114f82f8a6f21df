package errno

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"nil", nil, 0, "Success"},
		{"value", ErrCooldownActive, 30005, "Cooldown period not elapsed"},
		{"pointer", &ErrRecoveryNotFound, 40002, ErrRecoveryNotFound.Message},
		{"wrapped", fmt.Errorf("wallet w-1: %w", ErrRecoveryAlreadyActive), 40001, ErrRecoveryAlreadyActive.Message},
		{"infrastructure", errors.New("dial tcp 10.0.0.3:8545: connection refused"), ErrTryAgain.Code, ErrTryAgain.Message},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := Decode(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}

func TestErrorsIsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("approve %s: %w", "req-1", ErrRecoveryExpired)
	assert.True(t, errors.Is(err, ErrRecoveryExpired))
	assert.False(t, errors.Is(err, ErrRecoveryNotFound))
}
