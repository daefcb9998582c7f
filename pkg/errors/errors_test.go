package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	e1 := New("cause1")
	e2 := New("cause2").Wrap(e1)
	e := New("dummy").Wrap(e2)
	assert.True(t, Is(e, e1))
	assert.True(t, Is(e, e2))
	assert.True(t, Is(e, New("dummy")))
	assert.Equal(t, "dummy", e.Error())
}

func TestWrapLeavesSentinelUntouched(t *testing.T) {
	sentinel := New("not found")
	wrapped := sentinel.Wrap(fmt.Errorf("io fault"))

	require.NotSame(t, sentinel, wrapped)
	require.Nil(t, sentinel.Unwrap())
	assert.True(t, Is(wrapped, sentinel))
	assert.EqualError(t, wrapped.Unwrap(), "io fault")
}

func TestAs(t *testing.T) {
	cause := New("inner")
	err := fmt.Errorf("outer: %w", cause)

	var target *Error
	require.True(t, As(err, &target))
	assert.Equal(t, "inner", target.Error())
}
