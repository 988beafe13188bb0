// Package scheduler brings the device up: it joins the network, then serves
// readings and drives the sensor until the context is cancelled.
package scheduler

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/alepar/co2monitor/airquality"
	"github.com/alepar/co2monitor/airquality/metrics"
	"github.com/alepar/co2monitor/airquality/responder"
	"github.com/alepar/co2monitor/airquality/wifi"
)

// Link joins the network and returns the assigned address.
type Link interface {
	Connect(ctx context.Context, creds wifi.Credentials) (string, error)
}

type Config struct {
	Credentials wifi.Credentials
	// ListenAddress of the reading endpoint. Default ":80".
	ListenAddress string
	// MetricsAddress, when set, serves MetricsHandler at /metrics.
	MetricsAddress string
	MetricsHandler http.Handler
	// InitRetry is the pause between failed sensor initializations. Default 5s.
	InitRetry time.Duration
	// Listen opens the reading endpoint. Default net.Listen.
	Listen func(network, address string) (net.Listener, error)
	Clock  clock.Clock
}

type Scheduler struct {
	link      Link
	sensor    airquality.Sensor
	store     *airquality.Store
	responder *responder.Responder
	metrics   *metrics.Metrics
	cfg       Config
}

func New(
	link Link,
	sensor airquality.Sensor,
	store *airquality.Store,
	rs *responder.Responder,
	m *metrics.Metrics,
	cfg Config,
) *Scheduler {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":80"
	}
	if cfg.InitRetry <= 0 {
		cfg.InitRetry = 5 * time.Second
	}
	if cfg.Listen == nil {
		cfg.Listen = net.Listen
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Scheduler{
		link:      link,
		sensor:    sensor,
		store:     store,
		responder: rs,
		metrics:   m,
		cfg:       cfg,
	}
}

// Run blocks until ctx is cancelled or a task fails. Nothing else starts
// before the network link is up.
func (s *Scheduler) Run(ctx context.Context) error {
	addr, err := s.link.Connect(ctx, s.cfg.Credentials)
	if err != nil {
		return errors.Wrap(err, "failed to join network")
	}
	log.WithField("address", addr).Info("Network is up")

	ln, err := s.cfg.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.ListenAddress)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.responder.Serve(gctx, ln)
	})
	if s.cfg.MetricsAddress != "" && s.cfg.MetricsHandler != nil {
		g.Go(func() error {
			return s.serveMetrics(gctx)
		})
	}
	g.Go(func() error {
		return s.measure(gctx)
	})
	return g.Wait()
}

func (s *Scheduler) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.cfg.MetricsHandler)
	srv := &http.Server{
		Addr:              s.cfg.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.WithField("address", s.cfg.MetricsAddress).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics listener failed")
	}
	return nil
}

// measure is the sensor task. Faults never end it; only cancellation does.
func (s *Scheduler) measure(ctx context.Context) error {
	if err := s.sensor.Discover(ctx); err != nil {
		return ignoreCancel(ctx, errors.Wrap(err, "sensor discovery"))
	}

	for {
		err := s.sensor.Initialize(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Errorf("retrying error in sensor initialization: %s", err)
		if err := airquality.Wait(ctx, s.cfg.Clock, s.cfg.InitRetry); err != nil {
			return nil
		}
	}

	serialNr := s.sensor.SerialNumber()
	for {
		res := s.sensor.PollAndRead(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !res.OK() {
			log.Errorf("retrying error in measurement: %s", res.Fault)
			s.metrics.ObserveFault(faultOp(res.Fault))
			continue
		}

		if err := s.store.Publish(res.Reading); err != nil {
			log.Errorf("dropping reading: %s", err)
			continue
		}
		s.metrics.ObserveReading(serialNr, res.Reading)
		log.WithFields(log.Fields{
			"serial_number":   serialNr,
			"sequence_number": res.Reading.SequenceNumber,
		}).Info(res.Reading)
	}
}

func faultOp(err error) string {
	var fault *airquality.TransientFault
	if errors.As(err, &fault) {
		return fault.Op
	}
	return "unknown"
}

func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
