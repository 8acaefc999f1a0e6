package biomet

import (
	"encoding/json"
	"math"
	"strconv"
)

// Fields is the datalogger's CSV column order. The position of every name is
// part of the firmware contract: never reorder, insert or drop entries.
var Fields = []string{
	"BattV",
	"PTemp_C",
	"AirTC",
	"RH",
	"Black_Globe_C",
	"mrt_blg",
	"WindDir",
	"TrueWindDir",
	"WS_ms",
	"TrueWS_ms",
	"WSDiag",
	"ShortWaveRadUp",
	"ShortWaveRadDown",
	"LongWaveRadUp",
	"LongWaveRadDown",
	"NR01UpDownTempC",
	"NR01UpDownTempK",
	"NetShortWaveRadUpDown",
	"NetLongWaveRadUpDown",
	"AlbedoUpDown",
	"TotalRadUp",
	"TotalRadDown",
	"TotalNetRadUpDown",
	"LongWaveRadUpTCorr",
	"LongWaveRadDownTCorr",
	"ShortWaveRadFwd",
	"ShortWaveRadAft",
	"LongWaveRadFwd",
	"LongWaveRadAft",
	"NR01FwdAftTempC",
	"NR01FwdAftTempK",
	"NetShortWaveRadFwdAft",
	"NetLongWaveRadFwdAft",
	"AlbedoFwdAft",
	"TotalRadFwd",
	"TotalRadAft",
	"TotalNetRadFwdAft",
	"LongWaveRadFwdTCorr",
	"LongWaveRadAftTCorr",
	"ShortWaveRadLeft",
	"ShortWaveRadRight",
	"LongWaveRadLeft",
	"LongWaveRadRight",
	"NR01LeftRightTempC",
	"NR01LeftRightTempK",
	"NetShortWaveRadLeftRight",
	"NetLongWaveRadLeftRight",
	"AlbedoLeftRight",
	"TotalRadLeft",
	"TotalRadRight",
	"TotalNetRadLeftRight",
	"LongWaveRadLeftTCorr",
	"LongWaveRadRightTCorr",
	"mrt_nr01",
	"Latitude_Degrees",
	"Latitude_Minutes",
	"Latitude",
	"Longitude_Degrees",
	"Longitude_Minutes",
	"Longitude",
	"Speed",
	"Speed_ms",
	"Course",
	"MagVar",
	"FixQual",
	"NumSats",
	"Altitude",
	"PPS",
	"SecSinceGPRMC",
	"GPSReady",
	"MaxClockChange",
	"NumClockChange",
	"TS100SS_Fan_RPM",
	"SatVapPress",
	"VapPress",
	"DewPointC",
}

// FieldCount is the number of values in a complete frame.
var FieldCount = len(Fields)

// DisplayField describes how a schema field is shown on the dashboard.
type DisplayField struct {
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	Label     string `json:"label"`
	Precision int    `json:"precision"` // Decimal places for display rounding
}

var displayFields = []DisplayField{
	{Name: "BattV", Unit: "V", Label: "Battery Voltage", Precision: 2},
	{Name: "AirTC", Unit: "°C", Label: "Air Temperature", Precision: 2},
	{Name: "RH", Unit: "%", Label: "Relative Humidity", Precision: 1},
	{Name: "SatVapPress", Unit: "kPa", Label: "Saturation Vapour Pressure", Precision: 2},
	{Name: "VapPress", Unit: "kPa", Label: "Vapour Pressure", Precision: 2},
	{Name: "DewPointC", Unit: "°C", Label: "Dew Point", Precision: 1},
	{Name: "Black_Globe_C", Unit: "°C", Label: "Black Globe Temperature", Precision: 2},
	{Name: "mrt_blg", Unit: "°C", Label: "BLG Tmrt", Precision: 2},
	{Name: "WindDir", Unit: "°", Label: "Wind Direction", Precision: 1},
	{Name: "WS_ms", Unit: "m/s", Label: "Wind Speed", Precision: 2},
	{Name: "TrueWindDir", Unit: "°", Label: "True Wind Direction", Precision: 1},
	{Name: "TrueWS_ms", Unit: "m/s", Label: "True Wind Speed", Precision: 2},
	{Name: "ShortWaveRadUp", Unit: "W/m²", Label: "SW Radiation Up", Precision: 1},
	{Name: "ShortWaveRadDown", Unit: "W/m²", Label: "SW Radiation Down", Precision: 1},
	{Name: "LongWaveRadUpTCorr", Unit: "W/m²", Label: "LW Radiation Up", Precision: 1},
	{Name: "LongWaveRadDownTCorr", Unit: "W/m²", Label: "LW Radiation Down", Precision: 1},
	{Name: "AlbedoUpDown", Unit: "", Label: "Albedo (Up/Down)", Precision: 2},
	{Name: "ShortWaveRadFwd", Unit: "W/m²", Label: "SW Radiation Forward", Precision: 1},
	{Name: "ShortWaveRadAft", Unit: "W/m²", Label: "SW Radiation Aft", Precision: 1},
	{Name: "LongWaveRadFwdTCorr", Unit: "W/m²", Label: "LW Radiation Forward", Precision: 1},
	{Name: "LongWaveRadAftTCorr", Unit: "W/m²", Label: "LW Radiation Aft", Precision: 1},
	{Name: "ShortWaveRadLeft", Unit: "W/m²", Label: "SW Radiation Left", Precision: 1},
	{Name: "ShortWaveRadRight", Unit: "W/m²", Label: "SW Radiation Right", Precision: 1},
	{Name: "LongWaveRadLeft", Unit: "W/m²", Label: "LW Radiation Left", Precision: 1},
	{Name: "LongWaveRadRight", Unit: "W/m²", Label: "LW Radiation Right", Precision: 1},
	{Name: "LongWaveRadLeftTCorr", Unit: "W/m²", Label: "LW Radiation Left", Precision: 1},
	{Name: "LongWaveRadRightTCorr", Unit: "W/m²", Label: "LW Radiation Right", Precision: 1},
	{Name: "mrt_nr01", Unit: "°C", Label: "NR01 Tmrt", Precision: 1},
	{Name: "Latitude", Unit: "°", Precision: 5},
	{Name: "Longitude", Unit: "°", Precision: 5},
	{Name: "Speed_ms", Unit: "m/s", Label: "Speed", Precision: 2},
	{Name: "Course", Unit: "°", Precision: 1},
	{Name: "FixQual", Unit: "", Label: "Fix Quality", Precision: 0},
	{Name: "NumSats", Unit: "", Label: "Number of Satellites", Precision: 0},
	{Name: "Altitude", Unit: "m", Precision: 1},
}

var displayIndex = func() map[string]DisplayField {
	m := make(map[string]DisplayField, len(displayFields))
	for _, f := range displayFields {
		if f.Label == "" {
			f.Label = f.Name
		}
		m[f.Name] = f
	}
	return m
}()

// Dashboard lists the fields shown as live cards, in card order.
var Dashboard = []string{
	"Latitude",
	"Longitude",
	"Altitude",
	"Speed_ms",
	"Course",
	"FixQual",
	"ShortWaveRadUp",
	"LongWaveRadUpTCorr",
	"ShortWaveRadDown",
	"LongWaveRadDownTCorr",
	"ShortWaveRadFwd",
	"LongWaveRadFwdTCorr",
	"ShortWaveRadAft",
	"LongWaveRadAftTCorr",
	"ShortWaveRadLeft",
	"ShortWaveRadRight",
	"LongWaveRadLeftTCorr",
	"LongWaveRadRightTCorr",
	"WS_ms",
	"TrueWS_ms",
	"WindDir",
	"TrueWindDir",
	"mrt_blg",
	"mrt_nr01",
	"AlbedoUpDown",
	"DewPointC",
	"AirTC",
	"RH",
	"SatVapPress",
	"VapPress",
}

// Display returns the display metadata for a field.
func Display(name string) (DisplayField, bool) {
	f, ok := displayIndex[name]
	return f, ok
}

// DashboardFields returns the display metadata of the dashboard cards in order.
func DashboardFields() []DisplayField {
	out := make([]DisplayField, 0, len(Dashboard))
	for _, name := range Dashboard {
		if f, ok := displayIndex[name]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Format renders a value for display. Fields without display metadata keep
// their shortest representation; missing values render as "NaN".
func Format(name string, v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	f, ok := displayIndex[name]
	if !ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', f.Precision, 64)
}

// Record maps every schema field to its decoded value. NaN marks a value
// that was missing or unparsable in the frame.
type Record map[string]float64

// NewRecord returns a record with every schema field set to NaN.
func NewRecord() Record {
	r := make(Record, len(Fields))
	for _, name := range Fields {
		r[name] = math.NaN()
	}
	return r
}

// Value returns the value of a field, or NaN if the field is unknown.
func (r Record) Value(name string) float64 {
	v, ok := r[name]
	if !ok {
		return math.NaN()
	}
	return v
}

// Valid reports whether the field holds a finite value.
func (r Record) Valid(name string) bool {
	v := r.Value(name)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clone returns an independent copy of the record.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Formatted renders every field through Format.
func (r Record) Formatted() map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = Format(k, v)
	}
	return out
}

// MarshalJSON writes non-finite values as null, which encoding/json
// cannot represent otherwise.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]*float64, len(r))
	for k, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			m[k] = nil
			continue
		}
		v := v
		m[k] = &v
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads null values back as NaN.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]*float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Record, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = math.NaN()
			continue
		}
		out[k] = *v
	}
	*r = out
	return nil
}
