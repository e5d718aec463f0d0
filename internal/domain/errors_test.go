package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_KindSurvivesWrapping(t *testing.T) {
	base := NewConflict(CodeDuplicateName, "name taken")
	wrapped := fmt.Errorf("create portfolio: %w", base)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	de, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeDuplicateName, de.Code)
}

func TestError_UntypedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, IsNotFound(nil))
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewInternal(nil).Wrap(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "SYS_E_5001")
	assert.Contains(t, err.Error(), "disk full")
}

func TestCashReserve_Valid(t *testing.T) {
	assert.True(t, CashReserve{TotalAmount: 5000, WarChestAmount: 1000}.Valid())
	assert.True(t, CashReserve{}.Valid())
	assert.False(t, CashReserve{TotalAmount: 100, WarChestAmount: 200}.Valid())
	assert.False(t, CashReserve{TotalAmount: -1}.Valid())
}

func TestNotificationChannel_Valid(t *testing.T) {
	assert.True(t, ChannelEmail.Valid())
	assert.True(t, ChannelPush.Valid())
	assert.False(t, NotificationChannel("SMS").Valid())
}

func TestConditionType_Valid(t *testing.T) {
	assert.True(t, ConditionTrailingStopLoss.Valid())
	assert.False(t, ConditionType("MOON_PHASE").Valid())
}

func TestHolding_FindLot(t *testing.T) {
	h := Holding{Lots: []Lot{{LotID: "a"}, {LotID: "b"}}}
	assert.Equal(t, 1, h.FindLot("b"))
	assert.Equal(t, -1, h.FindLot("c"))
}
