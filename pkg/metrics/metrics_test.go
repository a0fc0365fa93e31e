package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordObject(t *testing.T) {
	r := NewRun("http://netbox.lab")

	r.RecordObject("site", "created", 10*time.Millisecond)
	r.RecordObject("site", "exists", 5*time.Millisecond)
	r.RecordObject("site", "exists", 5*time.Millisecond)

	created, err := r.objectsTotal.GetMetricWithLabelValues("site", "created")
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(created))

	existing, err := r.objectsTotal.GetMetricWithLabelValues("site", "exists")
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(existing))

	assert.Equal(t, 1, testutil.CollectAndCount(r.ensureDuration))
}

func TestRecordStep(t *testing.T) {
	r := NewRun("http://netbox.lab")
	r.RecordStep("devices", 1500*time.Millisecond)

	g, err := r.stepDuration.GetMetricWithLabelValues("devices")
	require.NoError(t, err)
	assert.Equal(t, 1.5, testutil.ToFloat64(g))
}

func TestFinish(t *testing.T) {
	r := NewRun("http://netbox.lab")

	r.Finish(2*time.Second, nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.runSuccess))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.runDuration))
	assert.Greater(t, testutil.ToFloat64(r.lastRun), float64(0))

	r.Finish(time.Second, errors.New("boom"))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.runSuccess))
}

func TestRunsAreIsolated(t *testing.T) {
	a := NewRun("http://a")
	b := NewRun("http://b")
	a.RecordObject("tag", "created", time.Millisecond)

	c, err := b.objectsTotal.GetMetricWithLabelValues("tag", "created")
	require.NoError(t, err)
	assert.Equal(t, float64(0), testutil.ToFloat64(c))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRun("http://netbox.lab")
	r.RecordObject("device", "created", time.Millisecond)
	r.Finish(time.Second, nil)

	path := filepath.Join(t.TempDir(), "nbseed.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `nbseed_reconcile_objects_total{kind="device",netbox="http://netbox.lab",state="created"} 1`)
	assert.Contains(t, text, "nbseed_run_success")
}

func TestWriteTextfileBadPath(t *testing.T) {
	r := NewRun("http://netbox.lab")
	err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "nbseed.prom"))
	assert.Error(t, err)
}
