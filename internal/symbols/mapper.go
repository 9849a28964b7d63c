package symbols

import "strings"

// ToCanonical converts source-specific symbol formats to the canonical style:
// uppercase without separators, BTC instead of XBT.
// Currently supported sources: binance, bybit, kucoin, okx, sim.
func ToCanonical(source, sym string) string {
	switch strings.ToLower(source) {
	case "binance":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT":
			sym = "SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case "kucoin":
		sym = NormalizeKucoinSymbol(sym)
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	default:
		// sim sources already use the canonical format
	}
	return sym
}
