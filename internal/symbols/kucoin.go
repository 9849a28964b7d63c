package symbols

import "strings"

// NormalizeKucoinSymbol converts KuCoin futures contract symbols to the
// canonical form used by the feed store. Examples:
//
//	XBTUSDTM -> BTCUSDT
//	ETH-USDTM -> ETHUSDT
//
// Dashes are removed, the trailing 'M' contract marker is trimmed and XBT
// maps to BTC.
func NormalizeKucoinSymbol(sym string) string {
	sym = strings.ReplaceAll(sym, "-", "")
	sym = strings.TrimSuffix(sym, "M")
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	return sym
}
