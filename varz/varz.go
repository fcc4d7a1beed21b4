/*
varz provides helpers to create Prometheus metrics with package-qualified
names, so dbcache's "cache_hits_total" becomes
cyclepot_dbcache_cache_hits_total.

Handler serves them on /metrics.
*/
package varz

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cyclepot"

// callerPackage returns the last path element of the package of the caller
// of the function.  If the variable is declared in a var block, this will
// remove the "init" bit.
func callerPackage() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return packageOf(fn.Name())
}

func packageOf(funcName string) string {
	n := funcName
	if slash := strings.LastIndex(n, "/"); slash != -1 {
		n = n[slash+1:]
	}
	if dot := strings.Index(n, "."); dot != -1 {
		n = n[:dot]
	}
	return sanitize(n)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}

func fqName(pkg, name string) string {
	return fmt.Sprintf("%s_%s_%s", namespace, pkg, name)
}

func NewCounter(name, help string) prometheus.Counter {
	return promauto.NewCounter(prometheus.CounterOpts{Name: fqName(callerPackage(), name), Help: help})
}

func NewCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Name: fqName(callerPackage(), name), Help: help}, labels)
}

func NewGauge(name, help string) prometheus.Gauge {
	return promauto.NewGauge(prometheus.GaugeOpts{Name: fqName(callerPackage(), name), Help: help})
}

func NewHistogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    fqName(callerPackage(), name),
		Help:    help,
		Buckets: prometheus.DefBuckets,
	}, labels)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
