// Package metrics exposes readings and fault counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"

	"github.com/alepar/co2monitor/airquality"
)

const program = "co2monitor"

// Metrics is safe to use as a nil pointer, which records nothing.
type Metrics struct {
	co2         *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	sequence    *prometheus.GaugeVec

	sensorFaults *prometheus.CounterVec
	requests     *prometheus.CounterVec
}

func newGauge(name string, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		[]string{"serial_number"},
	)
}

// New creates the collectors and registers them, together with Go build info,
// on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		co2:         newGauge("air_co2_level", "Air Carbon Dioxide level (units: ppm)"),
		temperature: newGauge("air_temperature", "Air Temperature (units: degrees Celsius)"),
		humidity:    newGauge("air_humidity", "Humidity (units: % of relative Humidity)"),
		sequence:    newGauge("air_reading_sequence_number", "Sequence number of the latest reading"),
		sensorFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_faults_total",
				Help: "Measurement cycles that ended in a transient bus fault",
			},
			[]string{"op"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "responder_requests_total",
				Help: "Requests answered by the reading endpoint, by route",
			},
			[]string{"route"},
		),
	}
	reg.MustRegister(
		m.co2, m.temperature, m.humidity, m.sequence,
		m.sensorFaults, m.requests,
		collectors.NewBuildInfoCollector(),
		versioncollector.NewCollector(program),
	)
	return m
}

// RegisterPowerCycles exposes a counter maintained elsewhere.
func RegisterPowerCycles(reg prometheus.Registerer, count func() uint64) {
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "wifi_power_cycles_total",
			Help: "Times the radio was power-cycled while joining the network",
		},
		func() float64 { return float64(count()) },
	))
}

func (m *Metrics) ObserveReading(serialNr string, r airquality.Reading) {
	if m == nil {
		return
	}
	m.co2.WithLabelValues(serialNr).Set(float64(r.CO2))
	m.temperature.WithLabelValues(serialNr).Set(r.Temperature)
	m.humidity.WithLabelValues(serialNr).Set(r.Humidity)
	m.sequence.WithLabelValues(serialNr).Set(float64(r.SequenceNumber))
}

func (m *Metrics) ObserveFault(op string) {
	if m == nil {
		return
	}
	m.sensorFaults.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveRequest(route string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route).Inc()
}
