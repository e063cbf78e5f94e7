package gate

import "strings"

// staticSectors maps well-known tickers to their sector. Crypto tickers get
// a dedicated bucket since they correlate as a block regardless of venue
// listing. Unknown symbols yield no sector and are never blocked on sector
// grounds, only on correlation grounds.
var staticSectors = map[string]string{
	"AAPL": "Technology",
	"MSFT": "Technology",
	"GOOG": "Technology",
	"NVDA": "Technology",
	"AMD":  "Technology",
	"META": "Technology",
	"AMZN": "Consumer Discretionary",
	"TSLA": "Consumer Discretionary",
	"JPM":  "Financials",
	"BAC":  "Financials",
	"GS":   "Financials",
	"XOM":  "Energy",
	"CVX":  "Energy",
	"JNJ":  "Healthcare",
	"PFE":  "Healthcare",
	"UNH":  "Healthcare",

	"BTC":  "Cryptocurrency",
	"ETH":  "Cryptocurrency",
	"SOL":  "Cryptocurrency",
	"ADA":  "Cryptocurrency",
	"XRP":  "Cryptocurrency",
	"DOGE": "Cryptocurrency",
	"LTC":  "Cryptocurrency",
	"DOT":  "Cryptocurrency",
}

// LookupSector resolves a symbol's sector from the static table, recognizing
// exchange-suffixed crypto forms like BTC-USD and BTCUSD. Returns nil for
// unknown symbols.
func LookupSector(symbol string) *string {
	upper := strings.ToUpper(symbol)
	if sector, ok := staticSectors[upper]; ok {
		return &sector
	}

	base := upper
	for _, suffix := range []string{"-USD", "/USD", "USD", "-USDT", "/USDT", "USDT"} {
		if strings.HasSuffix(upper, suffix) && len(upper) > len(suffix) {
			base = strings.TrimSuffix(upper, suffix)
			break
		}
	}
	if sector, ok := staticSectors[base]; ok && sector == "Cryptocurrency" {
		return &sector
	}
	return nil
}
