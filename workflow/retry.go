package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-sql-driver/mysql"
	"github.com/mirastock/warehouse_backend/config"
	"github.com/mirastock/warehouse_backend/models"
)

const maxRetryAttempts = 3

type conflictError struct {
	msg   string
	cause error
}

func (e *conflictError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *conflictError) Unwrap() error { return models.ErrStorageConflict }

func errConflict(msg string, cause error) error {
	return &conflictError{msg: msg, cause: cause}
}

// IsRetryable reports whether err is a transient storage conflict worth
// re-running the whole operation for: our own conflict sentinel, a lost
// redis lock race, or a MySQL lock wait timeout / deadlock.
func IsRetryable(err error) bool {
	if errors.Is(err, models.ErrStorageConflict) {
		return true
	}
	if errors.Is(err, redislock.ErrNotObtained) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// 1205 lock wait timeout, 1213 deadlock victim
		return mysqlErr.Number == 1205 || mysqlErr.Number == 1213
	}
	return false
}

// RunWithRetry executes op, retrying with jittered backoff on retryable
// storage conflicts. Non-retryable errors are returned as-is.
func RunWithRetry(ctx context.Context, opName string, op func() error) error {
	logger := config.GetLogger()
	var err error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		err = op()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == maxRetryAttempts {
			break
		}
		backoff := time.Duration(50*attempt) * time.Millisecond
		backoff += time.Duration(rand.Intn(50)) * time.Millisecond
		logger.WithField("operation", opName).WithField("attempt", attempt).
			Warnf("retrying after storage conflict: %v", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
