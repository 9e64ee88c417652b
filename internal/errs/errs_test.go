package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfClassified(t *testing.T) {
	err := NotFound("node %d", 42)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindValidation))
}

func TestKindOfUnclassifiedDefaultsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("boom")))
}

func TestWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := ServiceUnavailable("embedding provider call failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindServiceUnavailable, KindOf(err))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("pool exhausted")
	err := ResourceUnavailable("acquire connection", cause)
	assert.Contains(t, err.Error(), "pool exhausted")
}
