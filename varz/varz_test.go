package varz

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

var testCounter = NewCounter("test_events_total", "events counted by the varz test")

func TestPackageOf(t *testing.T) {
	assert.Equal(t, "dbcache", packageOf("github.com/ts4z/cyclepot/dbcache.init"))
	assert.Equal(t, "cycle", packageOf("github.com/ts4z/cyclepot/cycle.(*Orchestrator).Check"))
	assert.Equal(t, "main", packageOf("main.main"))
	assert.Equal(t, "x_y", packageOf("example.com/x-y.init"))
}

func TestCounterIsPackageQualified(t *testing.T) {
	testCounter.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(testCounter))
	assert.Equal(t, 1, testutil.CollectAndCount(testCounter, "cyclepot_varz_test_events_total"))
}
