package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed universe.yaml
var universeYAML []byte

// Category represents the kind of a tradable instrument.
type Category string

const (
	Index  Category = "index"
	Equity Category = "equity"
)

// Instrument represents the static metadata of a tradable instrument.
type Instrument struct {
	Symbol           string   `yaml:"symbol" json:"symbol"`
	DisplayName      string   `yaml:"displayName" json:"displayName"`
	Category         Category `yaml:"category" json:"category"`
	FinnhubSymbol    string   `yaml:"finnhubSymbol" json:"finnhubSymbol"`
	TwelveDataSymbol string   `yaml:"twelveDataSymbol" json:"twelveDataSymbol"`
	Spread           *float64 `yaml:"spread,omitempty" json:"spread,omitempty"`
}

// Universe represents the fixed set of tradable instruments.
type Universe struct {
	instruments []Instrument
	index       map[string]int
}

// ParseUniverse parses the provided yaml document into an instrument universe.
func ParseUniverse(data []byte) (*Universe, error) {
	var doc struct {
		Instruments []Instrument `yaml:"instruments"`
	}

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("decoding universe: %w", err)
	}

	if len(doc.Instruments) == 0 {
		return nil, errors.New("universe has no instruments")
	}

	u := &Universe{
		instruments: make([]Instrument, 0, len(doc.Instruments)),
		index:       make(map[string]int, len(doc.Instruments)),
	}

	var errs error
	for idx := range doc.Instruments {
		inst := doc.Instruments[idx]
		inst.Symbol = strings.ToUpper(strings.TrimSpace(inst.Symbol))

		switch {
		case inst.Symbol == "":
			errs = errors.Join(errs, fmt.Errorf("instrument %d has no symbol", idx))
			continue
		case inst.Category != Index && inst.Category != Equity:
			errs = errors.Join(errs, fmt.Errorf("%s: unknown category %q", inst.Symbol, inst.Category))
			continue
		}

		if _, ok := u.index[inst.Symbol]; ok {
			errs = errors.Join(errs, fmt.Errorf("%s: duplicate instrument", inst.Symbol))
			continue
		}

		// Provider aliases default to the symbol itself.
		if inst.FinnhubSymbol == "" {
			inst.FinnhubSymbol = inst.Symbol
		}
		if inst.TwelveDataSymbol == "" {
			inst.TwelveDataSymbol = inst.Symbol
		}

		u.index[inst.Symbol] = len(u.instruments)
		u.instruments = append(u.instruments, inst)
	}

	if errs != nil {
		return nil, errs
	}

	return u, nil
}

// DefaultUniverse returns the embedded instrument universe.
func DefaultUniverse() (*Universe, error) {
	return ParseUniverse(universeYAML)
}

// Lookup returns the instrument for the provided symbol.
func (u *Universe) Lookup(symbol string) (*Instrument, bool) {
	idx, ok := u.index[symbol]
	if !ok {
		return nil, false
	}

	inst := u.instruments[idx]
	return &inst, true
}

// Contains returns whether the provided symbol is part of the universe.
func (u *Universe) Contains(symbol string) bool {
	_, ok := u.index[symbol]
	return ok
}

// Symbols returns all symbols of the universe in declaration order.
func (u *Universe) Symbols() []string {
	symbols := make([]string, 0, len(u.instruments))
	for idx := range u.instruments {
		symbols = append(symbols, u.instruments[idx].Symbol)
	}

	return symbols
}

// Filter returns the unique universe symbols of the provided set, preserving order.
func (u *Universe) Filter(symbols []string) []string {
	set := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if !u.Contains(symbol) || slices.Contains(set, symbol) {
			continue
		}
		set = append(set, symbol)
	}

	return set
}

// Watchlist derives the actively polled symbols from the provided allow-list. Entries are
// normalized and filtered to the universe; an empty allow-list selects the whole universe. The
// result is capped at the provided limit.
func (u *Universe) Watchlist(allowed []string, limit int) []string {
	requested := make([]string, 0, len(allowed))
	for _, symbol := range allowed {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		requested = append(requested, symbol)
	}

	if len(requested) == 0 {
		requested = u.Symbols()
	}

	watchlist := u.Filter(requested)
	if limit > 0 && len(watchlist) > limit {
		watchlist = watchlist[:limit]
	}

	return watchlist
}
