package biomet

import (
	"math"
	"strconv"
	"strings"
	"testing"
)

// fullFrame builds a frame whose i-th value is i+0.5.
func fullFrame() string {
	vals := make([]string, len(Fields))
	for i := range vals {
		vals[i] = strconv.FormatFloat(float64(i)+0.5, 'f', 1, 64)
	}
	return strings.Join(vals, ",")
}

func TestDecode_FullFrame(t *testing.T) {
	rec := Decode(fullFrame())

	if len(rec) != len(Fields) {
		t.Fatalf("expected %d fields, got %d", len(Fields), len(rec))
	}
	for i, name := range Fields {
		want := float64(i) + 0.5
		if got := rec[name]; got != want {
			t.Errorf("field %d (%s): expected %v, got %v", i, name, want, got)
		}
	}
}

func TestDecode_ShortFrame(t *testing.T) {
	rec := Decode("12.5,25.1,19.8")

	if len(rec) != len(Fields) {
		t.Fatalf("expected %d fields, got %d", len(Fields), len(rec))
	}
	if rec["BattV"] != 12.5 || rec["PTemp_C"] != 25.1 || rec["AirTC"] != 19.8 {
		t.Errorf("leading values not decoded: %v %v %v", rec["BattV"], rec["PTemp_C"], rec["AirTC"])
	}
	for _, name := range Fields[3:] {
		if !math.IsNaN(rec[name]) {
			t.Errorf("field %s: expected NaN, got %v", name, rec[name])
		}
	}
}

func TestDecode_NonNumericToken(t *testing.T) {
	tokens := strings.Split(fullFrame(), ",")
	tokens[2] = "ERR"
	tokens[10] = ""
	rec := Decode(strings.Join(tokens, ","))

	if !math.IsNaN(rec["AirTC"]) {
		t.Errorf("AirTC: expected NaN, got %v", rec["AirTC"])
	}
	if !math.IsNaN(rec["WSDiag"]) {
		t.Errorf("WSDiag: expected NaN, got %v", rec["WSDiag"])
	}
	if rec["RH"] != 3.5 {
		t.Errorf("RH: expected 3.5, got %v", rec["RH"])
	}
	if rec["DewPointC"] != float64(len(Fields)-1)+0.5 {
		t.Errorf("DewPointC: unexpected %v", rec["DewPointC"])
	}
}

func TestDecode_OverRangeAndNonDecimalTokens(t *testing.T) {
	rec := Decode("INF,-INF,-inf,Infinity,0x1p4,NAN,1e999,1_000,12abc,.,1e,+")

	for _, name := range Fields[:12] {
		if !math.IsNaN(rec[name]) {
			t.Errorf("%s: expected NaN, got %v", name, rec[name])
		}
		if got := Format(name, rec[name]); got != "NaN" {
			t.Errorf("%s: expected NaN display, got %q", name, got)
		}
	}
}

func TestParseValue_DecimalForms(t *testing.T) {
	tests := []struct {
		tok  string
		want float64
	}{
		{"12.5", 12.5},
		{"-7", -7},
		{"+3.25", 3.25},
		{".5", 0.5},
		{"5.", 5},
		{"1.5e3", 1500},
		{"2E-2", 0.02},
		{" 42 ", 42},
	}
	for _, tt := range tests {
		if got := parseValue(tt.tok); got != tt.want {
			t.Errorf("parseValue(%q) = %v, want %v", tt.tok, got, tt.want)
		}
	}
}

func TestDecode_ControlCharAndTerminators(t *testing.T) {
	clean := fullFrame()
	noisy := []string{
		"\x03" + clean + "\r\n",
		"  \x03" + clean + "\n",
		"\x02" + clean,
		clean + "\r\n\r\n",
	}

	want := Decode(clean)
	for _, raw := range noisy {
		got := Decode(raw)
		for _, name := range Fields {
			if got[name] != want[name] {
				t.Errorf("%q field %s: expected %v, got %v", raw[:4], name, want[name], got[name])
				break
			}
		}
	}
}

func TestDecode_OnlyOneControlCharStripped(t *testing.T) {
	rec := Decode("\x03\x0312.5,1")
	if !math.IsNaN(rec["BattV"]) {
		t.Errorf("BattV: expected NaN for doubled control char, got %v", rec["BattV"])
	}
	if rec["PTemp_C"] != 1 {
		t.Errorf("PTemp_C: expected 1, got %v", rec["PTemp_C"])
	}
}

func TestDecode_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\r\n", "\x03"} {
		rec := Decode(raw)
		if len(rec) != len(Fields) {
			t.Fatalf("%q: expected %d fields, got %d", raw, len(Fields), len(rec))
		}
		for _, name := range Fields {
			if !math.IsNaN(rec[name]) {
				t.Errorf("%q field %s: expected NaN, got %v", raw, name, rec[name])
			}
		}
	}
}

func TestDecode_ExtraTokensIgnored(t *testing.T) {
	rec := Decode(fullFrame() + ",99,100")
	if len(rec) != len(Fields) {
		t.Fatalf("expected %d fields, got %d", len(Fields), len(rec))
	}
	if rec["DewPointC"] != float64(len(Fields)-1)+0.5 {
		t.Errorf("DewPointC: unexpected %v", rec["DewPointC"])
	}
}
