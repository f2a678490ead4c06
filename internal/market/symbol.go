package market

import "strings"

// cryptoQuotes are the quote currencies recognized when splitting a concatenated pair.
var cryptoQuotes = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

// Pair is a base/quote split of a symbol. Equities have an empty Quote.
type Pair struct {
	Base  string
	Quote string
}

// ParseSymbol accepts "BTC/USD", "BTCUSD", "btc-usd" or an equity ticker.
// A dash only splits when the right leg is a known quote currency, so class
// shares such as "BRK-B" stay equities. Concatenated pairs need at least six
// characters so that equity tickers (five characters at most) are never misread.
func ParseSymbol(s string) Pair {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Pair{}
	}
	if base, quote, ok := strings.Cut(s, "/"); ok && base != "" && quote != "" {
		return Pair{Base: base, Quote: quote}
	}
	if base, quote, ok := strings.Cut(s, "-"); ok && base != "" && isCryptoQuote(quote) {
		return Pair{Base: base, Quote: quote}
	}
	if len(s) >= 6 {
		for _, quote := range cryptoQuotes {
			if strings.HasSuffix(s, quote) && len(s) > len(quote)+1 {
				return Pair{Base: s[:len(s)-len(quote)], Quote: quote}
			}
		}
	}
	return Pair{Base: s}
}

func isCryptoQuote(q string) bool {
	for _, c := range cryptoQuotes {
		if q == c {
			return true
		}
	}
	return false
}

// IsPair reports whether the symbol names a crypto pair.
func (p Pair) IsPair() bool { return p.Quote != "" }

// Slash is the "BTC/USD" spelling; equities return the bare ticker.
func (p Pair) Slash() string {
	if !p.IsPair() {
		return p.Base
	}
	return p.Base + "/" + p.Quote
}

// Compact is the "BTCUSD" spelling.
func (p Pair) Compact() string {
	return p.Base + p.Quote
}

// IsCrypto reports whether symbol trades around the clock.
func IsCrypto(symbol string) bool {
	return ParseSymbol(symbol).IsPair()
}

// Aliases lists every spelling a broker might use for symbol, the input's own form first.
func Aliases(symbol string) []string {
	p := ParseSymbol(symbol)
	if !p.IsPair() {
		if p.Base == "" {
			return nil
		}
		return []string{p.Base}
	}
	first := strings.ToUpper(strings.TrimSpace(symbol))
	out := []string{first}
	for _, alt := range []string{p.Slash(), p.Compact()} {
		if alt != first {
			out = append(out, alt)
		}
	}
	return out
}

// SameSymbol reports whether a and b name the same instrument in any spelling.
func SameSymbol(a, b string) bool {
	pa, pb := ParseSymbol(a), ParseSymbol(b)
	return pa.Compact() != "" && pa.Compact() == pb.Compact()
}
