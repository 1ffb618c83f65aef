package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperationMetricsStats(t *testing.T) {
	var om OperationMetrics

	avg, fastest, slowest, p50, p95 := om.Stats()
	assert.Zero(t, avg+fastest+slowest+p50+p95)

	for i := 1; i <= 20; i++ {
		status := http.StatusConflict
		if i == 7 {
			status = http.StatusCreated
		}
		om.Record(time.Duration(i)*time.Millisecond, status)
	}
	om.Record(0, 0)

	assert.EqualValues(t, 21, om.Total)
	assert.EqualValues(t, 1, om.Success)
	assert.EqualValues(t, 19, om.Conflict)
	assert.EqualValues(t, 1, om.Error)

	avg, fastest, slowest, p50, p95 = om.Stats()
	assert.Equal(t, 10*time.Millisecond, avg)
	assert.Equal(t, time.Duration(0), fastest)
	assert.Equal(t, 20*time.Millisecond, slowest)
	assert.Equal(t, 10*time.Millisecond, p50)
	assert.Equal(t, 19*time.Millisecond, p95)
}
