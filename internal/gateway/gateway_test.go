package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransientClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsTransient(base))
	assert.False(t, IsTransient(nil))
	assert.Nil(t, Transient(nil))

	// Wrapping elsewhere in the chain still classifies.
	wrapped := fmt.Errorf("send question: %w", Transient(base))
	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, base)
}

func TestAllowlist(t *testing.T) {
	isAdmin := Allowlist([]int64{100, 200})

	assert.True(t, isAdmin(100, -1))
	assert.True(t, isAdmin(200, 55))
	assert.False(t, isAdmin(300, -1))

	none := Allowlist(nil)
	assert.False(t, none(100, -1))
}
