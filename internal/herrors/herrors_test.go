package herrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistence_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence("write_snapshot", cause, false)

	assert.True(t, Is(err, KindPersistence))
	assert.False(t, err.Fatal)
	assert.ErrorIs(t, err, cause)
}

func TestIs_DoesNotMatchUnrelatedErrors(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindPersistence))
}

func TestIs_DistinguishesKinds(t *testing.T) {
	protoErr := Protocol("INVALID_MESSAGE", "bad frame")
	assert.True(t, Is(protoErr, KindProtocol))
	assert.False(t, Is(protoErr, KindAuthorization))
}

func TestErrorString_IncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("boom")
	err := Persistence("touch_room", cause, true)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, err.Fatal)
}

func TestErrAlreadyExists_IsDistinctFromOtherPersistenceErrors(t *testing.T) {
	assert.False(t, errors.Is(Persistence("create_room", ErrAlreadyExists, false), ErrNotFound))
}
