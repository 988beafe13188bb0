package responder

import (
	"context"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"

	"github.com/alepar/co2monitor/airquality"
	"github.com/alepar/co2monitor/airquality/metrics"
)

const scenarioBody = `{"sequence_number": 0, "CO2_ppm": 712, "temperature_celsius": 21.4, "relative_humidity_percent": 38.2}`

func serve(t *testing.T, rs *Responder) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		test.That(t, rs.Serve(ctx, ln), test.ShouldBeNil)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return ln.Addr().String()
}

// exchange sends request, half-closes the connection and returns everything
// the server wrote back.
func exchange(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()
	test.That(t, conn.SetDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)

	_, err = io.WriteString(conn, request)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conn.(*net.TCPConn).CloseWrite(), test.ShouldBeNil)

	resp, err := io.ReadAll(conn)
	test.That(t, err, test.ShouldBeNil)
	return string(resp)
}

const latestRequest = "GET /sensor/latest.json HTTP/1.1\r\nHost: co2\r\nAccept: */*\r\n\r\n"

func TestLatestBeforeFirstReading(t *testing.T) {
	addr := serve(t, New(airquality.NewStore(), nil, time.Second))

	resp := exchange(t, addr, latestRequest)
	test.That(t, resp, test.ShouldEqual, "HTTP/1.1 200 OK\r\n"+
		"Connection: close\r\n"+
		"Content-Type: application/json; charset=utf-8\r\n"+
		"Content-Length: 2\r\n"+
		"\r\n"+
		"{}")
}

func TestLatestReading(t *testing.T) {
	store := airquality.NewStore()
	test.That(t, store.Publish(airquality.Reading{
		SequenceNumber: 0,
		CO2:            712,
		Temperature:    21.4,
		Humidity:       38.2,
	}), test.ShouldBeNil)
	addr := serve(t, New(store, nil, time.Second))

	resp := exchange(t, addr, latestRequest)
	test.That(t, resp, test.ShouldEqual, "HTTP/1.1 200 OK\r\n"+
		"Connection: close\r\n"+
		"Content-Type: application/json; charset=utf-8\r\n"+
		"Content-Length: 102\r\n"+
		"\r\n"+
		scenarioBody)
	test.That(t, len(scenarioBody), test.ShouldEqual, 102)
}

func TestRepeatedRequestsAreIdentical(t *testing.T) {
	store := airquality.NewStore()
	test.That(t, store.Publish(airquality.Reading{CO2: 450, Temperature: 20, Humidity: 40.5}), test.ShouldBeNil)
	addr := serve(t, New(store, nil, time.Second))

	first := exchange(t, addr, latestRequest)
	second := exchange(t, addr, latestRequest)
	test.That(t, second, test.ShouldEqual, first)
	test.That(t, first, test.ShouldEndWith, `{"sequence_number": 0, "CO2_ppm": 450, "temperature_celsius": 20.0, "relative_humidity_percent": 40.5}`)
}

func TestNotFound(t *testing.T) {
	addr := serve(t, New(airquality.NewStore(), nil, time.Second))

	for _, request := range []string{
		"GET /foo/bar HTTP/1.1\r\n\r\n",
		"GET / HTTP/1.1\r\nHost: co2\r\n\r\n",
		"POST /sensor/latest.json HTTP/1.1\r\n\r\n",
		"GET  /sensor/latest.json HTTP/1.1\r\n\r\n",
	} {
		t.Run(request, func(t *testing.T) {
			resp := exchange(t, addr, request)
			test.That(t, resp, test.ShouldEqual, string(notFoundResponse))
		})
	}
}

func TestNotFoundWireFormat(t *testing.T) {
	test.That(t, string(notFoundResponse), test.ShouldEqual,
		"HTTP/1.1 404 GTFO\r\nConnection: close\r\nContent-Length: 8\r\nContent-Type: text/plain\r\n\r\nGo away!")
}

func TestHeadersEndedByEOF(t *testing.T) {
	addr := serve(t, New(airquality.NewStore(), nil, time.Second))

	resp := exchange(t, addr, "GET /sensor/latest.json HTTP/1.1\r\nHost: co2\r\n")
	test.That(t, resp, test.ShouldEndWith, "\r\n\r\n{}")
}

func TestRequestLineWithoutNewline(t *testing.T) {
	addr := serve(t, New(airquality.NewStore(), nil, time.Second))

	resp := exchange(t, addr, "GET /sensor/latest.json")
	test.That(t, resp, test.ShouldStartWith, "HTTP/1.1 200 OK\r\n")
}

func TestEmptyRequestGetsNoResponse(t *testing.T) {
	addr := serve(t, New(airquality.NewStore(), nil, time.Second))

	resp := exchange(t, addr, "")
	test.That(t, resp, test.ShouldBeEmpty)
}

func TestRequestsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	addr := serve(t, New(airquality.NewStore(), metrics.New(reg), time.Second))

	exchange(t, addr, latestRequest)
	exchange(t, addr, latestRequest)
	exchange(t, addr, "GET /foo/bar HTTP/1.1\r\n\r\n")

	expected := `
# HELP responder_requests_total Requests answered by the reading endpoint, by route
# TYPE responder_requests_total counter
responder_requests_total{route="latest"} 2
responder_requests_total{route="not_found"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "responder_requests_total")
	test.That(t, err, test.ShouldBeNil)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(airquality.NewStore(), nil, time.Second).Serve(ctx, ln) }()
	cancel()

	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	_, err = net.Dial("tcp", ln.Addr().String())
	test.That(t, err, test.ShouldNotBeNil)
}

// flakyListener fails the first failures calls to Accept with EMFILE.
type flakyListener struct {
	net.Listener

	mu       sync.Mutex
	failures int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", syscall.EMFILE)}
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func TestServeSurvivesAcceptErrors(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	ln := &flakyListener{Listener: inner, failures: 3}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(airquality.NewStore(), nil, time.Second).Serve(ctx, ln) }()

	resp := exchange(t, inner.Addr().String(), latestRequest)
	test.That(t, resp, test.ShouldEndWith, "\r\n\r\n{}")
	select {
	case err := <-done:
		t.Fatalf("Serve returned while the context was live: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestAcceptBackoff(t *testing.T) {
	var delays []time.Duration
	var d time.Duration
	for i := 0; i < 10; i++ {
		d = acceptBackoff(d)
		delays = append(delays, d)
	}
	test.That(t, delays, test.ShouldResemble, []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		160 * time.Millisecond,
		320 * time.Millisecond,
		640 * time.Millisecond,
		time.Second,
		time.Second,
	})
}

type noDeadlineConn struct {
	net.Conn
}

func (c noDeadlineConn) SetDeadline(time.Time) error {
	return errors.New("deadlines not supported")
}

func TestHandleWithoutDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		New(airquality.NewStore(), nil, time.Second).Handle(noDeadlineConn{server})
	}()

	test.That(t, client.SetDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)
	resp, err := io.ReadAll(client)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp, test.ShouldBeEmpty)
	<-done
}
