package market

import "strings"

// SectorKey identifies a sector by market and terminal sector code.
// Codes collide across markets, so the market is always part of the key.
type SectorKey struct {
	Market string
	Code   string
}

// NewSectorKey builds a composite sector key. Market falls back to KOSPI
// when empty.
func NewSectorKey(marketName, code string) SectorKey {
	m := strings.ToUpper(strings.TrimSpace(marketName))
	if m == "" {
		m = KOSPI
	}
	return SectorKey{Market: m, Code: strings.TrimSpace(code)}
}

// SectorNameKey identifies a sector by market and normalized name, for
// matching names across feeds that render the same sector differently.
type SectorNameKey struct {
	Market string
	Name   string
}

// NewSectorNameKey builds a composite name key with the name normalized.
func NewSectorNameKey(marketName, name string) SectorNameKey {
	m := strings.ToUpper(strings.TrimSpace(marketName))
	if m == "" {
		m = KOSPI
	}
	return SectorNameKey{Market: m, Name: NormalizeSectorName(name)}
}

// NormalizeSectorName canonicalizes a sector name for cross-feed matching:
// trailing parenthetical qualifiers and spaces are dropped and the
// middle-dot separator becomes a slash.
// "오락·문화" and "오락/문화 (KOSDAQ)" both normalize to "오락/문화".
func NormalizeSectorName(name string) string {
	s := strings.TrimSpace(name)
	if i := strings.Index(s, "("); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "·", "/")
	return s
}
