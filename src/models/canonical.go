package models

import "strings"

// assetAliases collapses every exchange-specific code for an asset to one
// canonical symbol. Kraken uses legacy X/Z prefixed codes for old assets,
// suffixed variants for staked/ledger balances (ETH2.S, ATOM.S, DOT28.S) and
// plain codes elsewhere; trade records and ledger records frequently disagree
// on which variant they carry for the same underlying asset. All of that is
// resolved here, once, at ingestion. The ledger never sees an alias.
var assetAliases = map[string]string{
	// Bitcoin
	"XXBT": "BTC",
	"XBT":  "BTC",
	// Ethereum, including the post-merge staking variants
	"XETH":   "ETH",
	"ETH2":   "ETH",
	"ETH2.S": "ETH",
	"ETHW":   "ETHW", // the fork is a distinct asset, not an ETH alias
	// Other X-prefixed legacy codes
	"XXDG": "DOGE",
	"XDG":  "DOGE",
	"XLTC": "LTC",
	"XXRP": "XRP",
	"XXLM": "XLM",
	"XXMR": "XMR",
	"XZEC": "ZEC",
	"XREP": "REP",
	"XETC": "ETC",
	"XMLN": "MLN",
	// Fiat
	"ZEUR": "EUR",
	"ZUSD": "USD",
	"ZGBP": "GBP",
	"ZJPY": "JPY",
	"ZCAD": "CAD",
	"ZAUD": "AUD",
	"ZCHF": "CHF",
	"EUR.HOLD": "EUR",
	"USD.HOLD": "USD",
}

// stakingSuffixes mark Kraken's bonded/earn balance variants; the suffix is
// stripped before alias lookup so ATOM21.S and ATOM resolve identically.
var stakingSuffixes = []string{".S", ".M", ".P", ".F", ".B"}

var fiatSymbols = map[string]bool{
	"EUR": true,
	"USD": true,
	"GBP": true,
	"JPY": true,
	"CAD": true,
	"AUD": true,
	"CHF": true,
}

// CanonicalAsset maps an exchange asset code to the single symbol used
// internally. A lookup miss after canonicalization is a genuine unknown
// asset, never a naming variant to be papered over downstream.
func CanonicalAsset(code string) string {
	symbol := strings.ToUpper(strings.TrimSpace(code))
	if symbol == "" {
		return ""
	}

	if canonical, ok := assetAliases[symbol]; ok {
		return canonical
	}

	for _, suffix := range stakingSuffixes {
		if strings.HasSuffix(symbol, suffix) {
			base := strings.TrimSuffix(symbol, suffix)
			// Bonded variants may carry a numeric tag (DOT28.S, ATOM21.S).
			base = strings.TrimRight(base, "0123456789")
			if canonical, ok := assetAliases[base]; ok {
				return canonical
			}
			return base
		}
	}

	// Legacy four-letter X/Z prefixed codes not in the table.
	if len(symbol) == 4 && (symbol[0] == 'X' || symbol[0] == 'Z') {
		if canonical, ok := assetAliases[symbol[1:]]; ok {
			return canonical
		}
		return symbol[1:]
	}

	return symbol
}

// IsFiat reports whether a canonical symbol is a fiat currency.
func IsFiat(symbol string) bool {
	return fiatSymbols[CanonicalAsset(symbol)]
}

// SplitPair resolves a Kraken trading pair into canonical base and quote
// symbols. Pairs come in legacy form (XXBTZEUR), plain form (ADAEUR) and
// occasionally with a slash (BTC/EUR).
func SplitPair(pair string) (base, quote string) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	if p == "" {
		return "", ""
	}
	if i := strings.IndexByte(p, '/'); i > 0 {
		return CanonicalAsset(p[:i]), CanonicalAsset(p[i+1:])
	}

	// Longest known quote suffix wins: legacy Z-prefixed fiat first.
	quotes := []string{"ZEUR", "ZUSD", "ZGBP", "ZJPY", "ZCAD", "ZAUD", "USDT", "USDC", "XXBT", "XETH", "EUR", "USD", "GBP", "JPY", "CAD", "AUD", "CHF", "XBT", "ETH", "BTC"}
	for _, q := range quotes {
		if !strings.HasSuffix(p, q) || len(p) <= len(q) {
			continue
		}
		base := p[:len(p)-len(q)]
		// A legacy Z-prefixed fiat quote only ever follows a legacy base
		// code; XTZEUR is XTZ+EUR, not XT+ZEUR.
		if len(q) == 4 && q[0] == 'Z' {
			if _, known := assetAliases[base]; !known {
				continue
			}
		}
		return CanonicalAsset(base), CanonicalAsset(q)
	}
	return CanonicalAsset(p), ""
}
