package utils

import (
	"context"
	"errors"
	"net"

	"gas_oracle/internal/apperr"
)

// IsRecoverableError reports whether retrying the failed operation may succeed.
// Client-side failures (bad input, auth) are final; upstream and network failures are not.
func IsRecoverableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return apperr.KindOf(err) == apperr.KindInternal
}
