package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBookingStatusMachine(t *testing.T) {
	cases := []struct {
		from, to BookingStatus
		allowed  bool
	}{
		{BookingPending, BookingConfirmed, true},
		{BookingPending, BookingCancelled, true},
		{BookingPending, BookingExpired, true},
		{BookingPending, BookingCompleted, false},
		{BookingConfirmed, BookingCheckedIn, true},
		{BookingConfirmed, BookingNoShow, true},
		{BookingConfirmed, BookingExpired, false},
		{BookingCheckedIn, BookingCompleted, true},
		{BookingCheckedIn, BookingNoShow, false},
		{BookingCancelled, BookingConfirmed, false},
		{BookingExpired, BookingPending, false},
		{BookingCompleted, BookingCancelled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestBookingTerminalStatuses(t *testing.T) {
	assert.False(t, BookingPending.Terminal())
	assert.False(t, BookingConfirmed.Terminal())
	assert.False(t, BookingCheckedIn.Terminal())
	assert.True(t, BookingCompleted.Terminal())
	assert.True(t, BookingCancelled.Terminal())
	assert.True(t, BookingExpired.Terminal())
	assert.True(t, BookingNoShow.Terminal())
}

func TestPaymentStatusMachine(t *testing.T) {
	assert.True(t, PaymentPending.CanTransitionTo(PaymentProcessing))
	assert.True(t, PaymentPending.CanTransitionTo(PaymentCompleted))
	assert.True(t, PaymentProcessing.CanTransitionTo(PaymentFailed))
	assert.True(t, PaymentCompleted.CanTransitionTo(PaymentRefunded))
	assert.True(t, PaymentCompleted.CanTransitionTo(PaymentPartiallyRefunded))
	assert.True(t, PaymentPartiallyRefunded.CanTransitionTo(PaymentRefunded))

	assert.False(t, PaymentCompleted.CanTransitionTo(PaymentPending))
	assert.False(t, PaymentFailed.CanTransitionTo(PaymentCompleted))
	assert.False(t, PaymentRefunded.CanTransitionTo(PaymentCompleted))
	assert.False(t, PaymentPending.CanTransitionTo(PaymentRefunded))
}
