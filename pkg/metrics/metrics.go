// Package metrics exposes the Prometheus instrumentation for the token
// validation pipeline. Authentication failures are counted by error kind
// here; the HTTP responses themselves stay generic.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registerErr  error

	authRequestsTotal   *prometheus.CounterVec
	jwksFetchesTotal    *prometheus.CounterVec
	jwksStaleServed     prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
)

// Register initializes all collectors against the given registerer and
// returns the handler for the metrics endpoint. Safe to call more than
// once; registration happens a single time.
func Register(reg prometheus.Registerer) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	registerOnce.Do(func() {
		authRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poolguard_auth_requests_total",
			Help: "Authentication attempts by result and error kind",
		}, []string{"result", "kind"})

		jwksFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poolguard_jwks_fetches_total",
			Help: "Outbound key set fetches by result",
		}, []string{"result"})

		jwksStaleServed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poolguard_jwks_stale_served_total",
			Help: "Lookups answered from a stale key set during the grace window",
		})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poolguard_http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poolguard_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		for _, c := range []prometheus.Collector{
			authRequestsTotal,
			jwksFetchesTotal,
			jwksStaleServed,
			httpRequestsTotal,
			httpRequestDuration,
		} {
			if err := reg.Register(c); err != nil {
				registerErr = err
				return
			}
		}
	})

	if registerErr != nil {
		return nil, registerErr
	}

	return promhttp.Handler(), nil
}

// AuthSuccess counts a successful authentication.
func AuthSuccess() {
	if authRequestsTotal != nil {
		authRequestsTotal.WithLabelValues("success", "").Inc()
	}
}

// AuthFailure counts a failed authentication by error kind.
func AuthFailure(kind string) {
	if authRequestsTotal != nil {
		authRequestsTotal.WithLabelValues("failure", kind).Inc()
	}
}

// JWKSFetch counts an outbound key set fetch.
func JWKSFetch(ok bool) {
	if jwksFetchesTotal == nil {
		return
	}
	if ok {
		jwksFetchesTotal.WithLabelValues("success").Inc()
	} else {
		jwksFetchesTotal.WithLabelValues("failure").Inc()
	}
}

// JWKSStaleServed counts a lookup answered from a stale key set.
func JWKSStaleServed() {
	if jwksStaleServed != nil {
		jwksStaleServed.Inc()
	}
}

// ObserveHTTP records one served HTTP request.
func ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	}
	if httpRequestDuration != nil {
		httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
	}
}
