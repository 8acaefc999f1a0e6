package biomet

import (
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestWireFields_AlignedWithSchema(t *testing.T) {
	if len(wireFields) != len(Fields) {
		t.Fatalf("wire table has %d entries, schema has %d", len(wireFields), len(Fields))
	}
	for i, f := range wireFields {
		if f.name != Fields[i] {
			t.Errorf("position %d: wire table has %s, schema has %s", i, f.name, Fields[i])
		}
	}
}

func TestSynthetic_FrameShape(t *testing.T) {
	s := NewSynthetic(rand.New(rand.NewSource(1)))
	frame := s.NextFrame()

	if strings.ContainsAny(frame, "\r\n") {
		t.Errorf("frame contains line terminator: %q", frame)
	}
	if n := len(strings.Split(frame, ",")); n != len(Fields) {
		t.Errorf("expected %d values, got %d", len(Fields), n)
	}
}

func TestSynthetic_DecodesFinite(t *testing.T) {
	s := NewSynthetic(rand.New(rand.NewSource(42)))

	for i := 0; i < 500; i++ {
		rec := Decode(s.NextFrame())
		for _, name := range Fields {
			v := rec[name]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("tick %d field %s: not finite (%v)", i+1, name, v)
			}
		}
		if lat := rec["Latitude"]; lat < -90 || lat > 90 {
			t.Fatalf("tick %d: latitude out of range: %v", i+1, lat)
		}
		if lon := rec["Longitude"]; lon < -180 || lon > 180 {
			t.Fatalf("tick %d: longitude out of range: %v", i+1, lon)
		}
		if c := rec["Course"]; c < 0 || c > 360 {
			t.Fatalf("tick %d: course out of range: %v", i+1, c)
		}
		if q := rec["FixQual"]; q < 0 || q > 2 {
			t.Fatalf("tick %d: fix quality out of range: %v", i+1, q)
		}
		if n := rec["NumSats"]; n < 8 || n > 12 {
			t.Fatalf("tick %d: satellite count out of range: %v", i+1, n)
		}
	}
}

func TestSynthetic_MovesAtNominalSpeed(t *testing.T) {
	s := NewSynthetic(rand.New(rand.NewSource(7)))

	lat0, lon0 := s.Position()
	for i := 0; i < 60; i++ {
		s.NextFrame()
	}
	lat1, lon1 := s.Position()

	// Flat-earth distance; 60 ticks at 5 m/s can cover at most 300 m.
	dy := (lat1 - lat0) * metersPerDeg
	dx := (lon1 - lon0) * metersPerDeg * math.Cos(lat0*math.Pi/180)
	dist := math.Hypot(dx, dy)
	if dist <= 0 || dist > 300.5 {
		t.Errorf("expected displacement in (0, 300] m, got %.1f m", dist)
	}
	if s.Tick() != 60 {
		t.Errorf("expected tick 60, got %d", s.Tick())
	}
}

func TestSynthetic_Reset(t *testing.T) {
	s := NewSynthetic(rand.New(rand.NewSource(3)))
	for i := 0; i < 10; i++ {
		s.NextFrame()
	}
	if lat, lon := s.Position(); lat == Origin.Lat && lon == Origin.Lon {
		t.Fatal("position did not advance")
	}

	s.Reset()

	if s.Tick() != 0 {
		t.Errorf("expected tick 0 after reset, got %d", s.Tick())
	}
	if lat, lon := s.Position(); lat != Origin.Lat || lon != Origin.Lon {
		t.Errorf("expected origin after reset, got %v,%v", lat, lon)
	}
}

func TestSynthetic_Deterministic(t *testing.T) {
	clock := func() time.Time { return time.Unix(1_700_000_000, 0) }

	a := NewSynthetic(rand.New(rand.NewSource(99)))
	a.SetClock(clock)
	b := NewSynthetic(rand.New(rand.NewSource(99)))
	b.SetClock(clock)

	for i := 0; i < 5; i++ {
		if fa, fb := a.NextFrame(), b.NextFrame(); fa != fb {
			t.Fatalf("tick %d: frames differ\n%s\n%s", i+1, fa, fb)
		}
	}
}

func TestSynthetic_DegreesMinutesConsistent(t *testing.T) {
	s := NewSynthetic(rand.New(rand.NewSource(5)))
	rec := Decode(s.NextFrame())

	lat := rec["Latitude_Degrees"] + rec["Latitude_Minutes"]/60
	if math.Abs(lat-rec["Latitude"]) > 0.0001 {
		t.Errorf("latitude degrees/minutes %v disagree with decimal %v", lat, rec["Latitude"])
	}
	lon := rec["Longitude_Degrees"] + rec["Longitude_Minutes"]/60
	if math.Abs(lon-rec["Longitude"]) > 0.0001 {
		t.Errorf("longitude degrees/minutes %v disagree with decimal %v", lon, rec["Longitude"])
	}
}
