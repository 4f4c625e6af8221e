// Package archive implements the PHH hand-history format: a line-oriented,
// textual key-value record of one completed hand, used as the canonical
// external archive independent of the log store's binary representation.
package archive

import (
	"fmt"
	"strconv"
	"strings"
)

// Hand is one parsed or to-be-rendered PHH record. Field order on output
// matches the fixed key order the format specifies; optional fields are
// omitted from the output entirely when zero-valued.
type Hand struct {
	Variant           string
	Antes             []int64
	BlindsOrStraddles []int64
	MinBet            int64
	StartingStacks    []int64
	Actions           []string
	Players           []string
	Event             string
	Day               int
	Month             int
	Year              int

	// Optional fields.
	HandNumber string
	Level      string
	Casino     string
	City       string
	Region     string
	Country    string
	Currency   string
}

// requiredKeyOrder is the fixed output order of a Hand's required keys.
var requiredKeyOrder = []string{
	"variant", "antes", "blinds_or_straddles", "min_bet", "starting_stacks",
	"actions", "players", "event", "day", "month", "year",
}

// Render encodes h into its canonical PHH textual form.
func (h Hand) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "variant = %s\n", quote(h.Variant))
	fmt.Fprintf(&b, "antes = %s\n", intArray(h.Antes))
	fmt.Fprintf(&b, "blinds_or_straddles = %s\n", intArray(h.BlindsOrStraddles))
	fmt.Fprintf(&b, "min_bet = %d\n", h.MinBet)
	fmt.Fprintf(&b, "starting_stacks = %s\n", intArray(h.StartingStacks))
	fmt.Fprintf(&b, "actions = %s\n", stringArray(h.Actions))
	fmt.Fprintf(&b, "players = %s\n", stringArray(h.Players))
	fmt.Fprintf(&b, "event = %s\n", quote(h.Event))
	fmt.Fprintf(&b, "day = %d\n", h.Day)
	fmt.Fprintf(&b, "month = %d\n", h.Month)
	fmt.Fprintf(&b, "year = %d\n", h.Year)

	writeOptional(&b, "hand", h.HandNumber)
	writeOptional(&b, "level", h.Level)
	writeOptional(&b, "casino", h.Casino)
	writeOptional(&b, "city", h.City)
	writeOptional(&b, "region", h.Region)
	writeOptional(&b, "country", h.Country)
	writeOptional(&b, "currency", h.Currency)

	return b.String()
}

func writeOptional(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s = %s\n", key, quote(value))
}

func quote(s string) string {
	return strconv.Quote(s)
}

func intArray(vals []int64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func stringArray(vals []string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = quote(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// RenderFile concatenates multiple hands separated by a blank line.
func RenderFile(hands []Hand) string {
	rendered := make([]string, len(hands))
	for i, h := range hands {
		rendered[i] = strings.TrimRight(h.Render(), "\n")
	}
	return strings.Join(rendered, "\n\n") + "\n"
}

// Parse decodes a single hand record from its PHH text. Required keys
// that are absent yield a zero-valued field rather than an error, since a
// caller re-deriving entries from the parsed record only needs whichever
// keys that derivation consumes.
func Parse(text string) (Hand, error) {
	var h Hand
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "---" {
			continue
		}
		key, value, ok := strings.Cut(line, " = ")
		if !ok {
			return Hand{}, fmt.Errorf("archive: malformed PHH line %q", line)
		}
		if err := h.setField(key, value); err != nil {
			return Hand{}, err
		}
	}
	return h, nil
}

// ParseFile splits a multi-hand archive on blank-line or "---" separators
// and parses each record.
func ParseFile(text string) ([]Hand, error) {
	blocks := splitRecords(text)
	hands := make([]Hand, 0, len(blocks))
	for _, block := range blocks {
		if strings.TrimSpace(block) == "" {
			continue
		}
		h, err := Parse(block)
		if err != nil {
			return nil, err
		}
		hands = append(hands, h)
	}
	return hands, nil
}

func splitRecords(text string) []string {
	normalized := strings.ReplaceAll(text, "\n---\n", "\n\n")
	return strings.Split(normalized, "\n\n")
}

func (h *Hand) setField(key, value string) error {
	switch key {
	case "variant":
		s, err := unquote(value)
		if err != nil {
			return err
		}
		h.Variant = s
	case "antes":
		vals, err := parseIntArray(value)
		if err != nil {
			return err
		}
		h.Antes = vals
	case "blinds_or_straddles":
		vals, err := parseIntArray(value)
		if err != nil {
			return err
		}
		h.BlindsOrStraddles = vals
	case "min_bet":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("archive: min_bet: %w", err)
		}
		h.MinBet = n
	case "starting_stacks":
		vals, err := parseIntArray(value)
		if err != nil {
			return err
		}
		h.StartingStacks = vals
	case "actions":
		vals, err := parseStringArray(value)
		if err != nil {
			return err
		}
		h.Actions = vals
	case "players":
		vals, err := parseStringArray(value)
		if err != nil {
			return err
		}
		h.Players = vals
	case "event":
		s, err := unquote(value)
		if err != nil {
			return err
		}
		h.Event = s
	case "day":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("archive: day: %w", err)
		}
		h.Day = n
	case "month":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("archive: month: %w", err)
		}
		h.Month = n
	case "year":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("archive: year: %w", err)
		}
		h.Year = n
	case "hand":
		s, err := unquote(value)
		if err != nil {
			return err
		}
		h.HandNumber = s
	case "level":
		s, err := unquote(value)
		if err != nil {
			return err
		}
		h.Level = s
	case "casino":
		s, err := unquote(value)
		if err != nil {
			return err
		}
		h.Casino = s
	case "city":
		s, err := unquote(value)
		if err != nil {
			return err
		}
		h.City = s
	case "region":
		s, err := unquote(value)
		if err != nil {
			return err
		}
		h.Region = s
	case "country":
		s, err := unquote(value)
		if err != nil {
			return err
		}
		h.Country = s
	case "currency":
		s, err := unquote(value)
		if err != nil {
			return err
		}
		h.Currency = s
	default:
		// Unknown keys are tolerated so future fields don't break old
		// readers.
	}
	return nil
}

func unquote(s string) (string, error) {
	out, err := strconv.Unquote(s)
	if err != nil {
		return "", fmt.Errorf("archive: bad quoted string %q: %w", s, err)
	}
	return out, nil
}

func parseIntArray(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("archive: expected numeric array, got %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	out := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("archive: bad integer in array: %w", err)
		}
		out[i] = n
	}
	return out, nil
}

func parseStringArray(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("archive: expected string array, got %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, nil
	}
	parts := splitQuotedList(inner)
	out := make([]string, len(parts))
	for i, p := range parts {
		v, err := unquote(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// splitQuotedList splits a comma-separated list of quoted strings,
// respecting commas that appear inside quotes.
func splitQuotedList(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuotes:
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// Card renders one card as PHH's two-character rank+suit encoding.
func Card(rank, suit byte) string {
	return string([]byte{rank, suit})
}

const (
	ranks = "23456789TJQKA"
	suits = "cdhs"
)

// ValidateCard reports whether s is a well-formed two-character PHH card.
func ValidateCard(s string) bool {
	if len(s) != 2 {
		return false
	}
	return strings.IndexByte(ranks, s[0]) >= 0 && strings.IndexByte(suits, s[1]) >= 0
}

// IsRequiredKey reports whether key is one of the fixed required keys.
func IsRequiredKey(key string) bool {
	for _, k := range requiredKeyOrder {
		if k == key {
			return true
		}
	}
	return false
}
