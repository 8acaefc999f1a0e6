// Package biomet holds the biomet bike datalogger frame schema, the frame
// decoder and a synthetic frame generator.
//
// Wire format (one line per sample, 1 Hz):
//
//	[ETX]BattV,PTemp_C,AirTC,...,DewPointC\r\n
package biomet

import (
	"math"
	"strconv"
	"strings"
)

const (
	stx = '\x02'
	etx = '\x03'
)

// Decode parses one raw frame into a Record keyed by schema position.
// It never fails: values that are absent or unparsable are NaN, so a short
// or corrupt frame still yields a complete record.
func Decode(raw string) Record {
	rec, _ := DecodeCount(raw)
	return rec
}

// DecodeCount is Decode that also reports how many values the frame carried,
// so callers can flag frames whose length differs from FieldCount.
func DecodeCount(raw string) (Record, int) {
	s := strings.TrimSpace(raw)
	if len(s) > 0 && (s[0] == etx || s[0] == stx) {
		s = s[1:]
	}
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)

	tokens := strings.Split(s, ",")
	rec := NewRecord()
	for i, name := range Fields {
		if i >= len(tokens) {
			break
		}
		rec[name] = parseValue(tokens[i])
	}
	if s == "" {
		return rec, 0
	}
	return rec, len(tokens)
}

func parseValue(tok string) float64 {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return math.NaN()
	}
	if !isDecimal(tok) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// isDecimal reports whether tok is a plain decimal number with an optional
// sign, fraction and exponent. ParseFloat alone would also take "INF",
// "Infinity" and hex floats, which the logger prints for over-range sensors
// or not at all.
func isDecimal(tok string) bool {
	i := 0
	if i < len(tok) && (tok[i] == '+' || tok[i] == '-') {
		i++
	}
	digits := 0
	for ; i < len(tok) && isDigit(tok[i]); i++ {
		digits++
	}
	if i < len(tok) && tok[i] == '.' {
		i++
		for ; i < len(tok) && isDigit(tok[i]); i++ {
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i < len(tok) && (tok[i] == 'e' || tok[i] == 'E') {
		i++
		if i < len(tok) && (tok[i] == '+' || tok[i] == '-') {
			i++
		}
		exp := 0
		for ; i < len(tok) && isDigit(tok[i]); i++ {
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == len(tok)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
