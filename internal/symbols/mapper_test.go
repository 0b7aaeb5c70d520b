package symbols

import "testing"

func TestCanonical(t *testing.T) {
	tests := []struct {
		provider string
		in       string
		want     string
	}{
		{"kucoin", "XBT-USDTM", "BTCUSDT"},
		{"restapi", "btc/usd", "BTCUSD"},
		{"binance", "ETHUSDT", "ETHUSDT"},
		{"binance", "1000BONKUSDT", "BONKUSDT"},
		{"binance", "1000SHIBUSDT", "SHIBUSDT"},
		{"bybit", "SHIB1000USDT", "SHIBUSDT"},
		{"bybit", "1000PEPEUSDT", "PEPEUSDT"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.provider, tt.in); got != tt.want {
			t.Errorf("Canonical(%s,%s)=%s want %s", tt.provider, tt.in, got, tt.want)
		}
	}
}

func TestNativeRoundTrip(t *testing.T) {
	for _, provider := range []string{"binance", "bybit", "kucoin", "restapi"} {
		for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SHIBUSDT", "PEPEUSDT"} {
			native := Native(provider, sym)
			if back := Canonical(provider, native); back != sym {
				t.Errorf("%s: %s -> %s -> %s", provider, sym, native, back)
			}
		}
	}
}

func TestMultiplier(t *testing.T) {
	if Multiplier("binance", "shibusdt") != 1000 {
		t.Fatalf("expected 1000x for scaled contract")
	}
	if Multiplier("binance", "BTCUSDT") != 1 || Multiplier("restapi", "SHIBUSDT") != 1 {
		t.Fatalf("unexpected multiplier")
	}
}
