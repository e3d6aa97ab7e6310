package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

func TestRecordRefresh(t *testing.T) {
	before := testutil.ToFloat64(RefreshTotal.WithLabelValues("success"))
	RecordRefresh("success", 7, 25*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(RefreshTotal.WithLabelValues("success")))
	assert.Equal(t, float64(7), testutil.ToFloat64(SnapshotGeneration))
}

func TestRecordEnsure(t *testing.T) {
	ok := EnsureTotal.WithLabelValues("ge", "ok")
	miss := EnsureTotal.WithLabelValues("ge", "ErrEnsureProductClaimValueMismatch")
	beforeOK, beforeMiss := testutil.ToFloat64(ok), testutil.ToFloat64(miss)

	RecordEnsure("ge", ensure.StatusSuccess)
	RecordEnsure("ge", ensure.ErrEnsureProductClaimValueMismatch)

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(ok))
	assert.Equal(t, beforeMiss+1, testutil.ToFloat64(miss))
}

func TestRecordReadinessStateIsExclusive(t *testing.T) {
	RecordReadinessState(ensure.StateReady)

	assert.Equal(t, float64(1), testutil.ToFloat64(ReadinessState.WithLabelValues("ready")))
	assert.Equal(t, float64(0), testutil.ToFloat64(ReadinessState.WithLabelValues("initializing")))

	RecordReadinessState(ensure.StateFailed)
	assert.Equal(t, float64(0), testutil.ToFloat64(ReadinessState.WithLabelValues("ready")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ReadinessState.WithLabelValues("failed")))
}

func TestObserverWithEngine(t *testing.T) {
	set := ensure.NewClaimSet()
	set.Trusted = true
	set.AddProduct("app", true, map[string]ensure.Value{"seats": ensure.Int64Value(10)})
	src := ensure.SourceFunc(func(ctx context.Context, _ ensure.Request) (*ensure.ClaimSet, error) {
		return set.Clone(), nil
	})

	e, err := ensure.New(ensure.Config{Source: src, Observer: Observer{}})
	require.NoError(t, err)
	defer e.Uninitialize()

	okCounter := EnsureTotal.WithLabelValues("ok", "ok")
	before := testutil.ToFloat64(okCounter)

	h, err := e.InstantEnsure(context.Background(), "app", "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(TransactionsOpen))
	assert.Equal(t, float64(1), testutil.ToFloat64(ReadinessState.WithLabelValues("ready")))
	assert.Equal(t, before+1, testutil.ToFloat64(okCounter))

	require.NoError(t, e.EndEnsure(h))
	assert.Equal(t, float64(0), testutil.ToFloat64(TransactionsOpen))
}

func TestRefreshHistogramObserved(t *testing.T) {
	RecordRefresh("error", 0, time.Second)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "claimguard_refresh_duration_seconds" {
			hist = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.GreaterOrEqual(t, hist.GetSampleCount(), uint64(1))
}

func TestStartServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	RecordTransactionsOpen(3)
	addr, err := StartServer(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "claimguard_transactions_open 3"))
}
