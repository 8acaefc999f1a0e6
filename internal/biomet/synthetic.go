package biomet

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Origin is where the simulated ride starts and restarts after Reset.
var Origin = struct{ Lat, Lon float64 }{51.51448, 7.46523}

const (
	simSpeed      = 5.0      // m/s, ~18 km/h
	metersPerDeg  = 111000.0 // per degree of latitude
	headingRate   = 0.02     // rad of base-heading phase per tick
	headingJitter = 0.3      // full width of the random heading perturbation, rad
	gpsNoise      = 0.00001  // full width of receiver position noise, deg
)

// Synthetic generates frames in the datalogger's wire format for running the
// dashboard without hardware. Each NextFrame call advances one 1 s tick along
// a continuous simulated ride.
type Synthetic struct {
	mu   sync.Mutex
	rng  *rand.Rand
	now  func() time.Time
	tick int
	lat  float64
	lon  float64
}

// NewSynthetic creates a generator starting at Origin. A nil rng is seeded
// from the clock.
func NewSynthetic(rng *rand.Rand) *Synthetic {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Synthetic{
		rng: rng,
		now: time.Now,
		lat: Origin.Lat,
		lon: Origin.Lon,
	}
}

// SetClock replaces the wall clock that drives the daily cycles.
func (s *Synthetic) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Reset rewinds the ride to Origin.
func (s *Synthetic) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick = 0
	s.lat = Origin.Lat
	s.lon = Origin.Lon
}

// Position returns the current noiseless position of the simulated ride.
func (s *Synthetic) Position() (lat, lon float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lat, s.lon
}

// Tick returns the number of frames generated since the last Reset.
func (s *Synthetic) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// sample is the per-tick state shared by the field generators.
type sample struct {
	t       float64 // wall clock, seconds
	lat     float64 // reported latitude incl. noise
	lon     float64 // reported longitude incl. noise
	heading float64 // rad
	rnd     func() float64
}

// daily returns a slow sinusoid of wall-clock time with the given period.
func (p *sample) daily(period float64) float64 { return math.Sin(p.t / period) }

func (p *sample) uniform(base, span float64) float64 { return base + p.rnd()*span }

type wireField struct {
	name     string
	decimals int
	gen      func(p *sample) float64
}

func constant(v float64) func(*sample) float64 { return func(*sample) float64 { return v } }

func uniform(base, span float64) func(*sample) float64 {
	return func(p *sample) float64 { return p.uniform(base, span) }
}

func cyclic(base, amp, period, noise float64) func(*sample) float64 {
	return func(p *sample) float64 { return base + amp*p.daily(period) + p.rnd()*noise }
}

// wireFields mirrors Fields position by position with the decimals the
// datalogger prints. It is independent of the display precision table.
var wireFields = []wireField{
	{"BattV", 2, uniform(12.5, 0.5)},
	{"PTemp_C", 2, uniform(25, 10)},
	{"AirTC", 2, cyclic(20, 5, 3600, 2)},
	{"RH", 1, cyclic(60, 20, 7200, 5)},
	{"Black_Globe_C", 2, cyclic(22, 3, 3600, 1)},
	{"mrt_blg", 2, cyclic(21, 4, 3600, 1)},
	{"WindDir", 1, uniform(0, 360)},
	{"TrueWindDir", 1, uniform(0, 360)},
	{"WS_ms", 2, uniform(2, 8)},
	{"TrueWS_ms", 2, uniform(2, 8)},
	{"WSDiag", 0, constant(0)},
	{"ShortWaveRadUp", 1, cyclic(300, 400, 3600, 50)},
	{"ShortWaveRadDown", 1, cyclic(200, 600, 3600, 100)},
	{"LongWaveRadUp", 1, uniform(400, 50)},
	{"LongWaveRadDown", 1, uniform(300, 50)},
	{"NR01UpDownTempC", 2, uniform(25, 5)},
	{"NR01UpDownTempK", 2, uniform(298, 5)},
	{"NetShortWaveRadUpDown", 0, constant(100)},
	{"NetLongWaveRadUpDown", 0, constant(100)},
	{"AlbedoUpDown", 2, uniform(0.15, 0.1)},
	{"TotalRadUp", 1, uniform(500, 100)},
	{"TotalRadDown", 1, uniform(800, 200)},
	{"TotalNetRadUpDown", 0, constant(300)},
	{"LongWaveRadUpTCorr", 1, uniform(400, 50)},
	{"LongWaveRadDownTCorr", 1, uniform(300, 50)},
	{"ShortWaveRadFwd", 1, cyclic(250, 350, 3600, 50)},
	{"ShortWaveRadAft", 1, cyclic(250, 350, 3600, 50)},
	{"LongWaveRadFwd", 1, uniform(380, 40)},
	{"LongWaveRadAft", 1, uniform(380, 40)},
	{"NR01FwdAftTempC", 2, uniform(25, 3)},
	{"NR01FwdAftTempK", 2, uniform(298, 3)},
	{"NetShortWaveRadFwdAft", 0, constant(0)},
	{"NetLongWaveRadFwdAft", 0, constant(0)},
	{"AlbedoFwdAft", 2, uniform(0.15, 0.05)},
	{"TotalRadFwd", 1, uniform(630, 100)},
	{"TotalRadAft", 1, uniform(630, 100)},
	{"TotalNetRadFwdAft", 0, constant(0)},
	{"LongWaveRadFwdTCorr", 1, uniform(380, 40)},
	{"LongWaveRadAftTCorr", 1, uniform(380, 40)},
	{"ShortWaveRadLeft", 1, cyclic(250, 350, 3600, 50)},
	{"ShortWaveRadRight", 1, cyclic(250, 350, 3600, 50)},
	{"LongWaveRadLeft", 1, uniform(380, 40)},
	{"LongWaveRadRight", 1, uniform(380, 40)},
	{"NR01LeftRightTempC", 2, uniform(25, 3)},
	{"NR01LeftRightTempK", 2, uniform(298, 3)},
	{"NetShortWaveRadLeftRight", 0, constant(0)},
	{"NetLongWaveRadLeftRight", 0, constant(0)},
	{"AlbedoLeftRight", 2, uniform(0.15, 0.05)},
	{"TotalRadLeft", 1, uniform(630, 100)},
	{"TotalRadRight", 1, uniform(630, 100)},
	{"TotalNetRadLeftRight", 0, constant(0)},
	{"LongWaveRadLeftTCorr", 1, uniform(380, 40)},
	{"LongWaveRadRightTCorr", 1, uniform(380, 40)},
	{"mrt_nr01", 1, cyclic(21, 3, 3600, 1)},
	{"Latitude_Degrees", 0, func(p *sample) float64 { return math.Floor(p.lat) }},
	{"Latitude_Minutes", 3, func(p *sample) float64 { return (p.lat - math.Floor(p.lat)) * 60 }},
	{"Latitude", 6, func(p *sample) float64 { return p.lat }},
	{"Longitude_Degrees", 0, func(p *sample) float64 { return math.Floor(p.lon) }},
	{"Longitude_Minutes", 3, func(p *sample) float64 { return (p.lon - math.Floor(p.lon)) * 60 }},
	{"Longitude", 6, func(p *sample) float64 { return p.lon }},
	{"Speed", 1, uniform(4, 2)},
	{"Speed_ms", 2, func(p *sample) float64 { return simSpeed + (p.rnd()-0.5)*1 }},
	{"Course", 1, func(p *sample) float64 { return math.Mod(p.heading*180/math.Pi+360, 360) }},
	{"MagVar", 0, constant(0)},
	{"FixQual", 0, func(p *sample) float64 { return math.Floor(p.rnd() * 3) }},
	{"NumSats", 0, func(p *sample) float64 { return 8 + math.Floor(p.rnd()*5) }},
	{"Altitude", 1, uniform(100, 50)},
	{"PPS", 0, constant(1)},
	{"SecSinceGPRMC", 0, constant(0)},
	{"GPSReady", 0, constant(1)},
	{"MaxClockChange", 0, constant(0)},
	{"NumClockChange", 0, constant(0)},
	{"TS100SS_Fan_RPM", 0, uniform(2000, 500)},
	{"SatVapPress", 2, uniform(2.5, 0.5)},
	{"VapPress", 2, uniform(1.8, 0.4)},
	{"DewPointC", 1, cyclic(15, 3, 3600, 1)},
}

// NextFrame advances the ride by one tick and returns the frame the
// datalogger would have printed, without line terminator.
func (s *Synthetic) NextFrame() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++

	// Slowly swinging base heading plus a small random wobble, like
	// following streets.
	base := math.Sin(float64(s.tick)*headingRate) * math.Pi
	heading := base + (s.rng.Float64()-0.5)*headingJitter

	// Flat-earth step; longitude degrees shrink with cos(latitude).
	dLat := simSpeed * math.Cos(heading) / metersPerDeg
	dLon := simSpeed * math.Sin(heading) / (metersPerDeg * math.Cos(s.lat*math.Pi/180))
	s.lat += dLat
	s.lon += dLon

	p := &sample{
		t:       float64(s.now().UnixMilli()) / 1000,
		lat:     s.lat + (s.rng.Float64()-0.5)*gpsNoise,
		lon:     s.lon + (s.rng.Float64()-0.5)*gpsNoise,
		heading: heading,
		rnd:     s.rng.Float64,
	}

	values := make([]string, len(wireFields))
	for i, f := range wireFields {
		values[i] = strconv.FormatFloat(f.gen(p), 'f', f.decimals, 64)
	}
	return strings.Join(values, ",")
}
