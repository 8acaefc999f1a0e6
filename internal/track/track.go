// Package track turns the record history into the ride path shown on the map.
package track

import (
	"math"
	"time"

	"github.com/shaunagostinho/biomet-dash/internal/history"
)

type Point struct {
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	Speed float64   `json:"speed,omitempty"` // m/s, 0 when unknown
}

type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

type Track struct {
	Points     []Point `json:"points"`
	DistanceKm float64 `json:"distanceKm"`
	Bounds     *Bounds `json:"bounds,omitempty"`
}

// Last returns the newest fix.
func (t Track) Last() (Point, bool) {
	if len(t.Points) == 0 {
		return Point{}, false
	}
	return t.Points[len(t.Points)-1], true
}

// FromHistory extracts the fixes from entries, oldest first. Entries whose
// Latitude or Longitude is missing, not finite or exactly zero carry no fix
// and are skipped. DistanceKm sums every segment between consecutive fixes.
func FromHistory(entries []history.Entry) Track {
	t := Track{Points: make([]Point, 0, len(entries))}

	for _, e := range entries {
		lat, lon := e.Record.Value("Latitude"), e.Record.Value("Longitude")
		if !validCoord(lat) || !validCoord(lon) {
			continue
		}
		p := Point{Time: e.Time, Lat: lat, Lon: lon}
		if e.Record.Valid("Speed_ms") {
			p.Speed = e.Record["Speed_ms"]
		}

		if n := len(t.Points); n > 0 {
			prev := t.Points[n-1]
			t.DistanceKm += HaversineKm(prev.Lat, prev.Lon, lat, lon)
		}
		t.extend(p)
		t.Points = append(t.Points, p)
	}
	return t
}

func (t *Track) extend(p Point) {
	if t.Bounds == nil {
		t.Bounds = &Bounds{MinLat: p.Lat, MaxLat: p.Lat, MinLon: p.Lon, MaxLon: p.Lon}
		return
	}
	b := t.Bounds
	b.MinLat = math.Min(b.MinLat, p.Lat)
	b.MaxLat = math.Max(b.MaxLat, p.Lat)
	b.MinLon = math.Min(b.MinLon, p.Lon)
	b.MaxLon = math.Max(b.MaxLon, p.Lon)
}

func validCoord(v float64) bool {
	return v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// HaversineKm calculates the great-circle distance between two lat/lon points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0 // Earth radius km
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
