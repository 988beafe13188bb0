// Package responder answers minimal HTTP/1.1 requests for the latest reading
// over raw TCP, one request per connection.
package responder

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/co2monitor/airquality"
	"github.com/alepar/co2monitor/airquality/metrics"
)

// LatestPath is the only route that returns a reading.
const LatestPath = "/sensor/latest.json"

// The path is only recognised at this byte offset of the request line, i.e.
// after "GET ". Other methods fall through to the 404 response.
const pathOffset = 4

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

const (
	routeLatest   = "latest"
	routeNotFound = "not_found"
)

var notFoundResponse = []byte("HTTP/1.1 404 GTFO\r\n" +
	"Connection: close\r\n" +
	"Content-Length: 8\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Go away!")

var emptyObject = []byte("{}")

// Readings is the read side of the reading store.
type Readings interface {
	Current() (airquality.Reading, bool)
}

type Responder struct {
	readings Readings
	metrics  *metrics.Metrics
	// Timeout bounds the whole exchange on one connection.
	timeout time.Duration
	clock   clock.Clock
}

func New(readings Readings, m *metrics.Metrics, timeout time.Duration) *Responder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Responder{readings: readings, metrics: m, timeout: timeout, clock: clock.New()}
}

// Serve accepts connections until ctx is done, handling each in its own
// goroutine. Accept errors are logged and retried with a growing delay. It
// closes ln before returning.
func (rs *Responder) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.WithField("address", ln.Addr().String()).Info("Serving readings")
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay = acceptBackoff(delay)
			log.Errorf("retrying error in accept in %s: %s", delay, err)
			if err := airquality.Wait(ctx, rs.clock, delay); err != nil {
				return nil
			}
			continue
		}
		delay = 0
		go rs.Handle(conn)
	}
}

func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	if next := 2 * prev; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}

// Handle runs one request/response exchange and closes conn.
func (rs *Responder) Handle(conn net.Conn) {
	defer conn.Close()
	log.WithField("remote", conn.RemoteAddr().String()).Debug("Client connected")
	if err := conn.SetDeadline(time.Now().Add(rs.timeout)); err != nil {
		log.Debugf("failed to set connection deadline: %s", err)
		return
	}

	r := bufio.NewReader(conn)
	requestLine, err := r.ReadString('\n')
	if err != nil && requestLine == "" {
		log.Debugf("no request line: %s", err)
		return
	}
	log.Debugf("Request line: %q", requestLine)
	if err == nil {
		discardHeaders(r)
	}

	w := bufio.NewWriter(conn)
	_, _ = w.Write(rs.respond(requestLine))
	if err := w.Flush(); err != nil {
		log.Errorf("failed to write response: %s", err)
		return
	}
	log.Debug("Client disconnected")
}

// discardHeaders consumes header lines up to and including the blank line
// that ends them, or until the stream ends.
func discardHeaders(r *bufio.Reader) {
	for {
		header, err := r.ReadString('\n')
		if header == "\r\n" || header == "\n" {
			return
		}
		if err != nil {
			if err != io.EOF {
				log.Debugf("reading headers: %s", err)
			}
			return
		}
		log.Debugf("header... %q", header)
	}
}

func (rs *Responder) respond(requestLine string) []byte {
	// TODO match the request target properly; a 4-letter method puts the
	// path at offset 5 and is answered with 404.
	if strings.Index(requestLine, LatestPath) != pathOffset {
		rs.metrics.ObserveRequest(routeNotFound)
		return notFoundResponse
	}
	rs.metrics.ObserveRequest(routeLatest)
	body := emptyObject
	if reading, ok := rs.readings.Current(); ok {
		body = reading.AppendJSON(nil)
	}
	return responseWithBody(body)
}

func responseWithBody(body []byte) []byte {
	b := make([]byte, 0, 128+len(body))
	b = append(b, "HTTP/1.1 200 OK\r\n"+
		"Connection: close\r\n"+
		"Content-Type: application/json; charset=utf-8\r\n"+
		"Content-Length: "...)
	b = strconv.AppendInt(b, int64(len(body)), 10)
	b = append(b, "\r\n\r\n"...)
	return append(b, body...)
}
