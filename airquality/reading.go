package airquality

import (
	"fmt"
	"math"
	"strconv"

	"periph.io/x/conn/v3/physic"
)

// Reading is one decoded sample. It is never modified after construction.
type Reading struct {
	SequenceNumber uint64

	// units: ppm
	CO2 int

	// units: degrees Celsius
	Temperature float64

	// units: % of relative Humidity
	Humidity float64
}

// AppendJSON appends r as a flat JSON object. Keys keep a fixed order and are
// separated by ", " and ": ", which is the shape consumers of the endpoint
// already parse.
func (r Reading) AppendJSON(b []byte) []byte {
	b = append(b, `{"sequence_number": `...)
	b = strconv.AppendUint(b, r.SequenceNumber, 10)
	b = append(b, `, "CO2_ppm": `...)
	b = strconv.AppendInt(b, int64(r.CO2), 10)
	b = append(b, `, "temperature_celsius": `...)
	b = appendFloat(b, r.Temperature)
	b = append(b, `, "relative_humidity_percent": `...)
	b = appendFloat(b, r.Humidity)
	return append(b, '}')
}

// appendFloat writes the shortest decimal that parses back to f, always with
// a fraction or an exponent so the value reads as a float.
func appendFloat(b []byte, f float64) []byte {
	if a := math.Abs(f); a != 0 && (a < 1e-4 || a >= 1e16) {
		return strconv.AppendFloat(b, f, 'e', -1, 64)
	}
	start := len(b)
	b = strconv.AppendFloat(b, f, 'f', -1, 64)
	for _, c := range b[start:] {
		if c == '.' {
			return b
		}
	}
	return append(b, '.', '0')
}

func (r Reading) String() string {
	t := physic.ZeroCelsius + physic.Temperature(r.Temperature*float64(physic.Celsius))
	h := physic.RelativeHumidity(r.Humidity * float64(physic.PercentRH))
	return fmt.Sprintf("#%d CO2: %d PPM Temperature: %s Humidity: %s", r.SequenceNumber, r.CO2, t.String(), h.String())
}
