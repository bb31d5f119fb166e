package money

import "testing"

func TestSnapToTick(t *testing.T) {
	cases := []struct {
		p, tick, want Price
	}{
		{1003, 10, 1000},
		{1006, 10, 1010},
		{1005, 10, 1010},
		{-1006, 10, -1010},
		{100, 0, 100},
	}
	for _, c := range cases {
		if got := SnapToTick(c.p, c.tick); got != c.want {
			t.Errorf("SnapToTick(%d, %d) = %d, want %d", c.p, c.tick, got, c.want)
		}
	}
}

func TestIsMultiple(t *testing.T) {
	if !IsMultiple(100, 10) {
		t.Error("100 should be a multiple of 10")
	}
	if IsMultiple(105, 10) {
		t.Error("105 should not be a multiple of 10")
	}
	if IsMultiple(100, 0) {
		t.Error("unit <= 0 should never be satisfied")
	}
}

func TestFee(t *testing.T) {
	// notional 1,000,000, 5 bps taker -> 500
	if got := Fee(1_000_000, 5, 0); got != 500 {
		t.Errorf("Fee = %d, want 500", got)
	}
	// floors at minFee
	if got := Fee(100, 5, 10); got != 10 {
		t.Errorf("Fee = %d, want floor 10", got)
	}
	// maker rebate (negative bps) is not floored
	if got := Fee(1_000_000, -2, 0); got != -200 {
		t.Errorf("Fee rebate = %d, want -200", got)
	}
}

func TestAddSubQty(t *testing.T) {
	sum, err := AddQty(5, 10)
	if err != nil || sum != 15 {
		t.Fatalf("AddQty = %d, %v", sum, err)
	}
	if _, err := SubQty(5, 10); err == nil {
		t.Error("expected underflow error")
	}
	diff, err := SubQty(10, 5)
	if err != nil || diff != 5 {
		t.Fatalf("SubQty = %d, %v", diff, err)
	}
}

func TestAbs(t *testing.T) {
	if Qty(-5).Abs() != 5 {
		t.Error("Qty.Abs")
	}
	if Price(-5).Abs() != 5 {
		t.Error("Price.Abs")
	}
}
