package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOfWrapped(t *testing.T) {
	err := fmt.Errorf("create booking: %w", Conflict("court %s is already booked", "c1"))
	assert.Equal(t, http.StatusConflict, StatusOf(err))

	e, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, "conflict", e.Code)
	assert.Equal(t, "court c1 is already booked", e.Message)

	assert.Equal(t, http.StatusInternalServerError, StatusOf(fmt.Errorf("boom")))
}
