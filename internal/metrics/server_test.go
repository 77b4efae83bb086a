package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesMetrics(t *testing.T) {
	PacketsDecodedTotal.WithLabelValues("link").Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `ibdissect_packets_decoded_total{start="link"}`)
}

func TestStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "/m").Stop(context.Background()))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(DiagnosticsTotal.WithLabelValues("truncated", "bth"))
	DiagnosticsTotal.WithLabelValues("truncated", "bth").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(DiagnosticsTotal.WithLabelValues("truncated", "bth")))
}
