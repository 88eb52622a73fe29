package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Status(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
		name   string
	}{
		{KindBadRequest, http.StatusBadRequest, "Bad Request"},
		{KindUnauthorized, http.StatusUnauthorized, "Unauthorized"},
		{KindForbidden, http.StatusForbidden, "Forbidden"},
		{KindNotFound, http.StatusNotFound, "Not Found"},
		{KindTooManyRequests, http.StatusTooManyRequests, "Too Many Requests"},
		{KindInternal, http.StatusInternalServerError, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.kind.Status())
			assert.Equal(t, tt.name, tt.kind.String())
		})
	}
}

func TestFrom(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, From(nil))
	})

	t.Run("tagged error survives wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("handler: %w", Forbidden("no credit"))
		got := From(wrapped)
		require.NotNil(t, got)
		assert.Equal(t, KindForbidden, got.Kind)
		assert.Equal(t, "no credit", got.Message)
	})

	t.Run("untagged error becomes internal", func(t *testing.T) {
		cause := errors.New("connection refused")
		got := From(cause)
		assert.Equal(t, KindInternal, got.Kind)
		assert.Equal(t, "connection refused", got.ServerMessage())
		assert.ErrorIs(t, got, cause)
	})
}

func TestInternal_KeepsCause(t *testing.T) {
	cause := errors.New("pq: relation does not exist")
	err := Internal("Error while trying to discover your api usage.", cause)

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, cause.Error(), err.ServerMessage())
	assert.Contains(t, err.Error(), "discover your api usage")
	assert.Empty(t, BadRequest("bad").ServerMessage())
}
