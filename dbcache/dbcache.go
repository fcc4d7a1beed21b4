// Package dbcache puts read caches in front of state storage for the
// public read paths.  Caches are dropped on dbnotify events, so writes from
// other processes show up promptly.
//
// The allocation path must not read through these caches.
package dbcache

import (
	"github.com/ts4z/cyclepot/varz"
)

var (
	cacheHits   = varz.NewCounterVec("hits_total", "Cache hits by cache.", "cache")
	cacheMisses = varz.NewCounterVec("misses_total", "Cache misses by cache.", "cache")
)

func hit(cache string) {
	cacheHits.WithLabelValues(cache).Inc()
}

func miss(cache string) {
	cacheMisses.WithLabelValues(cache).Inc()
}
