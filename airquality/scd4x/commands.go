package scd4x

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// command describes one SCD4x command word and its framing.
type command struct {
	name string
	word uint16
	// Number of 16-bit words in the response. Each is followed by a CRC byte.
	responseWords int
	// True if the sensor accepts the command during periodic measurement.
	whileMeasuring bool
	// Time the sensor needs before the response can be read.
	execTime time.Duration
}

var (
	cmdStartPeriodicMeasurement = command{
		name: "start_periodic_measurement",
		word: 0x21b1,
	}
	cmdStopPeriodicMeasurement = command{
		name:           "stop_periodic_measurement",
		word:           0x3f86,
		whileMeasuring: true,
	}
	cmdReadMeasurement = command{
		name:           "read_measurement",
		word:           0xec05,
		responseWords:  3,
		whileMeasuring: true,
		execTime:       time.Millisecond,
	}
	cmdGetDataReadyStatus = command{
		name:           "get_data_ready_status",
		word:           0xe4b8,
		responseWords:  1,
		whileMeasuring: true,
		execTime:       time.Millisecond,
	}
	cmdSetAutomaticSelfCalibration = command{
		name:     "set_automatic_self_calibration_enabled",
		word:     0x2416,
		execTime: time.Millisecond,
	}
	cmdGetSerialNumber = command{
		name:          "get_serial_number",
		word:          0x3682,
		responseWords: 3,
		execTime:      time.Millisecond,
	}
)

func (c command) String() string {
	return fmt.Sprintf("%s(0x%04x)", c.name, c.word)
}

// Lower 11 bits of the data ready status word are non-zero once a
// measurement is available.
const dataReadyMask = 1<<11 - 1

var errCRC = errors.New("scd4x: invalid crc")

// crc8 is the Sensirion checksum: polynomial 0x31, init 0xff.
func crc8(data []byte) byte {
	crc := byte(0xff)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// encode returns the command word followed by each argument word and its CRC.
func (c command) encode(args ...uint16) []byte {
	w := make([]byte, 2, 2+3*len(args))
	w[0] = byte(c.word >> 8)
	w[1] = byte(c.word)
	for _, a := range args {
		hi, lo := byte(a>>8), byte(a)
		w = append(w, hi, lo, crc8([]byte{hi, lo}))
	}
	return w
}

// decodeWords verifies each word's CRC and returns the words.
func decodeWords(r []byte) ([]uint16, error) {
	words := make([]uint16, len(r)/3)
	for i := range words {
		chunk := r[i*3 : i*3+3]
		if crc8(chunk[:2]) != chunk[2] {
			return nil, errors.Wrapf(errCRC, "word %d", i)
		}
		words[i] = uint16(chunk[0])<<8 | uint16(chunk[1])
	}
	return words, nil
}

func countToCelsius(count uint16) float64 {
	return -45 + 175*float64(count)/65535
}

func countToPercentRH(count uint16) float64 {
	return 100 * float64(count) / 65535
}
