package common

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/deviation-watch/internal/service"
)

func fastRetry(attempts int) service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry(t *testing.T) {
	errTransient := errors.New("connection reset")

	tests := []struct {
		wantErr   error
		name      string
		failures  int
		attempts  int
		permanent bool
		wantCalls int
	}{
		{name: "succeeds first time", failures: 0, attempts: 3, wantCalls: 1},
		{name: "recovers after transient failures", failures: 2, attempts: 3, wantCalls: 3},
		{name: "gives up after max attempts", failures: 5, attempts: 3, wantCalls: 3, wantErr: ErrMaxRetries},
		{name: "stops on permanent error", failures: 5, attempts: 3, permanent: true, wantCalls: 1, wantErr: errTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return Permanent(errTransient)
					}
					return errTransient
				}
				return nil
			}, fastRetry(tt.attempts))

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error {
		return errors.New("boom")
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Second})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimit))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("x"), Retryable: true}))
	assert.False(t, IsRetryable(Permanent(errors.New("x"))))
	assert.False(t, IsRetryable(ErrNotFound))
}

func TestIsTransientDB(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "bad connection", err: driver.ErrBadConn, want: true},
		{name: "invalid connection", err: mysql.ErrInvalidConn, want: true},
		{name: "deadlock", err: &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, want: true},
		{name: "lock wait timeout", err: &mysql.MySQLError{Number: 1205}, want: true},
		{name: "too many connections", err: &mysql.MySQLError{Number: 1040}, want: true},
		{name: "wrapped server gone away", err: fmt.Errorf("query lots: %w", &mysql.MySQLError{Number: 2006}), want: true},
		{name: "access denied", err: &mysql.MySQLError{Number: 1045, Message: "Access denied"}, want: false},
		{name: "missing table", err: &mysql.MySQLError{Number: 1146}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientDB(tt.err))
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestWithRetry_MySQLErrors(t *testing.T) {
	missing := &mysql.MySQLError{Number: 1146, Message: "Table 'qc.lots' doesn't exist"}
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return missing
	}, fastRetry(3))
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, missing)
	assert.NotErrorIs(t, err, ErrMaxRetries)

	calls = 0
	err = WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}
		}
		return nil
	}, fastRetry(3))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUserError(t *testing.T) {
	err := NewUserError("could not read CSV", ErrNoCurrentData)
	assert.Equal(t, "could not read CSV: no usable current inspection data", err.Error())
	assert.ErrorIs(t, err, ErrNoCurrentData)

	bare := NewUserError("nothing to do", nil)
	assert.Equal(t, "nothing to do", bare.Error())
}
