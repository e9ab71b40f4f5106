package venue

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"btc/usdt:perp", "BTC/USDT:PERP", true},
		{"eth/usdt", "ETH/USDT", true},
		{"btc/usd:20260918", "BTC/USD:20260918", true},
		{"btc/usd:20260918-50000-c", "BTC/USD:20260918-50000-C", true},
		{"not a symbol", "", false},
	}
	for _, c := range cases {
		got, ok := NormalizeSymbol(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("NormalizeSymbol(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestBase(t *testing.T) {
	if got := Base("BTC/USDT:PERP"); got != "BTC" {
		t.Errorf("Base() = %q, want BTC", got)
	}
}
