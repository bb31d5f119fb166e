package catalog

import "testing"

func testSymbol() *Symbol {
	return &Symbol{
		Name:         "BTC-USD",
		TickSize:     100,
		LotSize:      1,
		ContractSize: 1,
		MarginRate:   0.1,
		MaintRate:    0.05,
		MakerFeeBps:  -2,
		TakerFeeBps:  5,
		MinNotional:  1000,
		MinFee:       1,
		Active:       true,
	}
}

func TestRegisterAndGet(t *testing.T) {
	c := New()
	s := testSymbol()
	if err := c.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := c.Get("BTC-USD")
	if !ok || got.Name != "BTC-USD" {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	if err := c.Register(s); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestValidateRejectsBadSymbol(t *testing.T) {
	s := testSymbol()
	s.TickSize = 0
	if err := s.Validate(); err == nil {
		t.Error("expected validation error for zero tick size")
	}
}

func TestSetActive(t *testing.T) {
	c := New()
	s := testSymbol()
	_ = c.Register(s)
	if err := c.SetActive("BTC-USD", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, _ := c.Get("BTC-USD")
	if got.Active {
		t.Error("expected symbol to be inactive")
	}
	if err := c.SetActive("NOPE", false); err == nil {
		t.Error("expected error for unknown symbol")
	}
}
