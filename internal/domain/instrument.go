package domain

import "strings"

// InstrumentKey identifies a tradable instrument on an exchange.
type InstrumentKey struct {
	Symbol          string `json:"symbol"`
	Exchange        string `json:"exchange"`
	InstrumentGroup string `json:"instrumentGroup,omitempty"`
}

// String returns the key in "EXCHANGE:SYMBOL[:GROUP]" form. It is used as the
// cache and subscription key for everything scoped to an instrument.
func (k InstrumentKey) String() string {
	s := k.Exchange + ":" + k.Symbol
	if g := strings.TrimSpace(k.InstrumentGroup); g != "" {
		s += ":" + g
	}
	return s
}

// Equal reports whether two keys refer to the same instrument. An empty
// group and a whitespace-only group are considered equal.
func (k InstrumentKey) Equal(other InstrumentKey) bool {
	return k.Symbol == other.Symbol &&
		k.Exchange == other.Exchange &&
		strings.TrimSpace(k.InstrumentGroup) == strings.TrimSpace(other.InstrumentGroup)
}

// IsZero reports whether the key has no symbol or exchange.
func (k InstrumentKey) IsZero() bool {
	return k.Symbol == "" || k.Exchange == ""
}

// Instrument is reference data for a tradable instrument. It is immutable
// once fetched.
type Instrument struct {
	InstrumentKey
	ShortName   string  `json:"shortName"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Currency    string  `json:"currency"`
	MinStep     float64 `json:"minstep"`
	LotSize     float64 `json:"lotsize"`
}

// HasPriceStep reports whether a price ladder can be generated for the
// instrument. Some bond instruments are quoted without a price step.
func (i Instrument) HasPriceStep() bool {
	return i.MinStep > 0
}
