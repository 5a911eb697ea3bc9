package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nftledger"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	mints = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "mints_total",
			Help:      "Total number of tokens minted.",
		},
	)

	burns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "burns_total",
			Help:      "Total number of tokens burned.",
		},
	)

	listings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "listings_total",
			Help:      "Total number of listings created.",
		},
		[]string{"type"},
	)

	sales = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "sales_total",
			Help:      "Total number of completed sales.",
		},
		[]string{"type"},
	)

	volume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "volume_minor_units_total",
			Help:      "Sum of sale prices in minor units.",
		},
		[]string{"currency"},
	)

	bids = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "bids_total",
			Help:      "Total number of accepted bids.",
		},
	)

	auctionsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "auctions_settled_total",
			Help:      "Total number of auctions ended, by outcome.",
		},
		[]string{"outcome"},
	)

	invariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "invariant_violations_total",
			Help:      "Internal inconsistencies detected while serving requests.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		mints,
		burns,
		listings,
		sales,
		volume,
		bids,
		auctionsSettled,
		invariantViolations,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordMint counts n newly minted tokens.
func RecordMint(n int) {
	mints.Add(float64(n))
}

// RecordBurn counts a burned token.
func RecordBurn() {
	burns.Inc()
}

// RecordListing counts a new listing of the given type.
func RecordListing(listingType string) {
	listings.WithLabelValues(listingType).Inc()
}

// RecordSale counts a completed sale and adds its price to the traded volume.
func RecordSale(listingType, currency string, price int64) {
	sales.WithLabelValues(listingType).Inc()
	volume.WithLabelValues(currency).Add(float64(price))
}

// RecordBid counts an accepted bid.
func RecordBid() {
	bids.Inc()
}

// RecordAuctionSettled counts an ended auction. Outcome is "sold" or "no_bids".
func RecordAuctionSettled(outcome string) {
	auctionsSettled.WithLabelValues(outcome).Inc()
}

// RecordInvariantViolation counts a detected internal inconsistency.
func RecordInvariantViolation() {
	invariantViolations.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// canonicalPath collapses identifiers so label cardinality stays bounded:
// /collections/abc/nfts/7/transfer becomes /collections/:id/nfts/:id/transfer.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "collections" && parts[0] != "listings" {
		return "/" + parts[0]
	}
	for i := 1; i < len(parts); i += 2 {
		if parts[i] != "batch" {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
