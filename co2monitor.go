package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/alepar/co2monitor/airquality"
	"github.com/alepar/co2monitor/airquality/i2cbus"
	"github.com/alepar/co2monitor/airquality/metrics"
	"github.com/alepar/co2monitor/airquality/responder"
	"github.com/alepar/co2monitor/airquality/scd4x"
	"github.com/alepar/co2monitor/airquality/scheduler"
	"github.com/alepar/co2monitor/airquality/wifi"
)

const program = "co2monitor"

// CLI args
var (
	listenAddr     = flag.String("listen-address", ":80", "The address to serve readings on.")
	metricsAddr    = flag.String("metrics-address", "", "The address to expose Prometheus metrics on, disabled if empty.")
	secretsPath    = flag.String("secrets", "secrets.json5", "JSON5 file with the wireless network ssid and password")
	i2cBusName     = flag.String("i2c-bus", "", "I2C bus the sensor is attached to, first available if empty")
	wifiInterface  = flag.String("wifi-interface", "wlan0", "wireless network interface")
	ledPin         = flag.String("led-pin", "", "GPIO pin of the status LED, none if empty")
	pollInterval   = flag.Duration("poll-interval", 2500*time.Millisecond, "time interval between sensor reads")
	requestTimeout = flag.Duration("request-timeout", 10*time.Second, "deadline for a single client exchange")
	logLevel       = flag.String("log-level", "info", "one of debug, info, warn, error")
	showVersion    = flag.Bool("version", false, "print version information and exit")
)

func init() {
	//logging
	formatter := &log.TextFormatter{
		FullTimestamp: true,
	}
	log.SetFormatter(formatter)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Print(program))
		return
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level: %s", err)
	}
	log.SetLevel(level)
	log.Infof("Starting %s %s", program, version.Info())
	log.Infof("Build context %s", version.BuildContext())

	creds, err := wifi.LoadCredentials(*secretsPath)
	if err != nil {
		log.Fatalf("failed to load credentials from %s: %s", *secretsPath, err)
	}

	if _, err := host.Init(); err != nil {
		log.Fatalf("failed to initialize periph host: %s", err)
	}
	bus, err := i2creg.Open(*i2cBusName)
	if err != nil {
		log.Fatalf("failed to open i2c bus %q: %s", *i2cBusName, err)
	}
	defer bus.Close()

	linkCfg := wifi.Config{}
	if *ledPin != "" {
		pin := gpioreg.ByName(*ledPin)
		if pin == nil {
			log.Fatalf("unknown gpio pin %q", *ledPin)
		}
		if err := pin.Out(gpio.Low); err != nil {
			log.Fatalf("failed to drive gpio pin %q: %s", *ledPin, err)
		}
		linkCfg.Indicator = wifi.PinIndicator{Pin: pin}
	}
	link := wifi.NewManager(wifi.NewWPARadio(*wifiInterface), linkCfg)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	metrics.RegisterPowerCycles(reg, link.PowerCycles)

	store := airquality.NewStore()
	sensor := scd4x.NewSession(i2cbus.New(bus), scd4x.Config{PollInterval: *pollInterval})

	sched := scheduler.New(link, sensor, store, responder.New(store, m, *requestTimeout), m, scheduler.Config{
		Credentials:    creds,
		ListenAddress:  *listenAddr,
		MetricsAddress: *metricsAddr,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		}),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("stopped: %s", err)
		os.Exit(1)
	}
	log.Info("Shutting down")
}
