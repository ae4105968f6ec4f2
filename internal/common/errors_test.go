package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestStoreErr(t *testing.T) {
	assert.NoError(t, StoreErr("op", nil))
	assert.ErrorIs(t, StoreErr("op", gorm.ErrRecordNotFound), gorm.ErrRecordNotFound)
	assert.NotErrorIs(t, StoreErr("op", gorm.ErrRecordNotFound), ErrStoreUnavailable)

	err := StoreErr("insert turn", errors.New("disk I/O error"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "insert turn")
}

func TestNewULID(t *testing.T) {
	a, err := NewULID()
	assert.NoError(t, err)
	b, err := NewULID()
	assert.NoError(t, err)
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}

func TestStoreErr_DoesNotRewrap(t *testing.T) {
	inner := StoreErr("record usage", errors.New("locked"))
	outer := StoreErr("commit", inner)
	assert.Same(t, inner, outer)
}
