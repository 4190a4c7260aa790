package store

import (
	"testing"

	"github.com/google/uuid"
)

func TestOrderPair(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	low, high := OrderPair(a, b)
	if low != a || high != b {
		t.Errorf("OrderPair(a, b) = (%s, %s), want (a, b)", low, high)
	}
	low, high = OrderPair(b, a)
	if low != a || high != b {
		t.Errorf("OrderPair(b, a) = (%s, %s), want (a, b)", low, high)
	}
}
