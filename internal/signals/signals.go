package signals

import (
	"regexp"
	"strconv"
	"strings"

	"quotarun/internal/config"
)

// Scope classifies which quota window ran out.
type Scope string

const (
	ScopeNone      Scope = "none"
	ScopeShortTerm Scope = "short_term"
	ScopeLongTerm  Scope = "long_term"
)

// Signals is the quota state observed in one window of worker output.
type Signals struct {
	UnitsProcessed int
	AnyExhaustion  bool
	// LongTermConsumed is the largest per-credential daily consumption in
	// hours. It is meaningful only when HasLongTerm is set.
	LongTermConsumed float64
	HasLongTerm      bool
	// ShortTermConsumed mirrors LongTermConsumed for the hourly window.
	ShortTermConsumed float64
	HasShortTerm      bool
}

// Scope reports the exhausted window given the long-term threshold in hours.
func (s Signals) Scope(thresholdHours float64) Scope {
	if !s.AnyExhaustion {
		return ScopeNone
	}
	if s.HasLongTerm && s.LongTermConsumed > thresholdHours {
		return ScopeLongTerm
	}
	return ScopeShortTerm
}

// Parser recognizes the configured worker markers.
type Parser struct {
	exhausted string
	units     *regexp.Regexp
	longTerm  *regexp.Regexp
	shortTerm *regexp.Regexp
}

// NewParser compiles patterns for markers. Empty markers never match.
func NewParser(markers config.Markers) *Parser {
	return &Parser{
		exhausted: markers.Exhausted,
		units:     keyPattern(markers.Units, `([^\s|,;]*)`),
		longTerm:  keyPattern(markers.LongTerm, `(\d+(?:\.\d+)?)h?`),
		shortTerm: keyPattern(markers.ShortTerm, `(\d+(?:\.\d+)?)h?`),
	}
}

func keyPattern(key, value string) *regexp.Regexp {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	prefix := ""
	if isWordByte(key[0]) {
		prefix = `\b`
	}
	return regexp.MustCompile(prefix + regexp.QuoteMeta(key) + `\s*=\s*` + value)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// Parse scans lines, oldest first. The last units value wins and an
// unparseable or negative last value counts as zero. Consumption values take
// the maximum across the window.
func (p *Parser) Parse(lines []string) Signals {
	var s Signals
	for _, line := range lines {
		if p.exhausted != "" && strings.Contains(line, p.exhausted) {
			s.AnyExhaustion = true
		}
		if p.units != nil {
			matches := p.units.FindAllStringSubmatch(line, -1)
			if len(matches) > 0 {
				last := matches[len(matches)-1][1]
				if n, err := strconv.Atoi(last); err == nil && n >= 0 {
					s.UnitsProcessed = n
				} else {
					s.UnitsProcessed = 0
				}
			}
		}
		if v, ok := maxValue(p.longTerm, line); ok && (!s.HasLongTerm || v > s.LongTermConsumed) {
			s.LongTermConsumed = v
			s.HasLongTerm = true
		}
		if v, ok := maxValue(p.shortTerm, line); ok && (!s.HasShortTerm || v > s.ShortTermConsumed) {
			s.ShortTermConsumed = v
			s.HasShortTerm = true
		}
	}
	return s
}

func maxValue(pattern *regexp.Regexp, line string) (float64, bool) {
	if pattern == nil {
		return 0, false
	}
	var (
		best  float64
		found bool
	)
	for _, match := range pattern.FindAllStringSubmatch(line, -1) {
		v, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		if !found || v > best {
			best = v
			found = true
		}
	}
	return best, found
}
