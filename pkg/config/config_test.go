package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRuntimeConfig(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	assert.Equal(t, TransportTCP, cfg.Transport)
	assert.Equal(t, 100*time.Millisecond, cfg.AckTimeout)
	assert.Equal(t, 60*time.Second, cfg.ReplyTimeout)
	assert.True(t, cfg.PortRangeLow < cfg.PortRangeHigh)
}

func TestGetSetReset(t *testing.T) {
	defer Reset()

	custom := DefaultRuntimeConfig()
	custom.RequestWorkers = 3
	Set(custom)

	assert.Equal(t, 3, Get().RequestWorkers)

	Reset()
	assert.Equal(t, DefaultRuntimeConfig().RequestWorkers, Get().RequestWorkers)
}

func TestGetReturnsCopyNotSharedState(t *testing.T) {
	defer Reset()

	cfg := Get()
	cfg.RequestWorkers = 999
	assert.NotEqual(t, 999, Get().RequestWorkers)
}
