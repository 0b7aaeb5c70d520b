// Package symbols maps canonical unit keys (BTCUSDT style) to the native
// instrument names of each provider and back.
package symbols

import "strings"

// scaled lists contracts quoted per 1000 units on some providers.
var scaled = map[string]map[string]string{
	"binance": {
		"BONKUSDT": "1000BONKUSDT",
		"PEPEUSDT": "1000PEPEUSDT",
		"SHIBUSDT": "1000SHIBUSDT",
	},
	"bybit": {
		"BONKUSDT": "1000BONKUSDT",
		"PEPEUSDT": "1000PEPEUSDT",
		"SHIBUSDT": "SHIB1000USDT",
	},
}

// Canonical converts a provider-native symbol to the canonical key:
// upper case, no separators, BTC instead of XBT, no contract scaling.
func Canonical(provider, sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	p := strings.ToLower(provider)
	for canonical, native := range scaled[p] {
		if sym == native {
			return canonical
		}
	}
	switch p {
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	default:
		sym = strings.NewReplacer("-", "", "/", "", "_", "").Replace(sym)
	}
	return sym
}

// Native converts a canonical key to the provider's instrument name.
// Providers without special rules get the key unchanged.
func Native(provider, canonical string) string {
	canonical = strings.ToUpper(strings.TrimSpace(canonical))
	p := strings.ToLower(provider)
	if native, ok := scaled[p][canonical]; ok {
		return native
	}
	if p == "kucoin" {
		if strings.HasPrefix(canonical, "BTC") {
			canonical = "XBT" + canonical[3:]
		}
		return canonical + "M"
	}
	return canonical
}

// Multiplier is the contract scaling a provider applies to prices of sym.
func Multiplier(provider, canonical string) float64 {
	if _, ok := scaled[strings.ToLower(provider)][strings.ToUpper(canonical)]; ok {
		return 1000
	}
	return 1
}
