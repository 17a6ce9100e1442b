package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.RecordAdapterCall("aave-v3", "GetReserveData", 20*time.Millisecond, nil)
	c.RecordAdapterCall("aave-v3", "GetReserveData", time.Second, lending.NewError(lending.KindNetworkError, "down"))
	c.RecordAdapterCall("aave-v3", "GetReserveData", time.Second, errors.New("plain"))
	c.RecordTransaction("compound-v2", "supply", nil)
	c.RecordPartialFailure("GetCurrentRates", "compound-v2")
	c.RecordRPCLatency("eth_call", "http://node", 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.adapterCalls.WithLabelValues("aave-v3", "GetReserveData", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.adapterCalls.WithLabelValues("aave-v3", "GetReserveData", "network_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.adapterCalls.WithLabelValues("aave-v3", "GetReserveData", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("compound-v2", "supply", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.partialFailures.WithLabelValues("GetCurrentRates", "compound-v2")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.rpcLatency))

	c.Reset()
	assert.Equal(t, 0, testutil.CollectAndCount(c.adapterCalls))
}

func TestCollectorDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)
	_, err = NewCollector(reg)
	assert.Error(t, err)
}
