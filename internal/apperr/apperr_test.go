package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := NotFound("deal %s not found", "d1")
	wrapped := fmt.Errorf("load: %w", base)

	assert.Equal(t, KindNotFound, KindOf(base))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "deal d1 not found", Message(wrapped))
	assert.Equal(t, "internal error", Message(errors.New("boom")))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("x: %w", Forbidden("not a party"))
	assert.True(t, errors.Is(err, Forbidden("")))
	assert.False(t, errors.Is(err, NotFound("")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("liteserver timeout")
	err := Wrap(KindLedgerUnavailable, cause, "balance check")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ledger_unavailable")
	assert.True(t, IsKind(err, KindLedgerUnavailable))
}
