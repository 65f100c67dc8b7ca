package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classchat/pkg/types"
)

func TestSetConnectionState(t *testing.T) {
	SetConnectionState(types.StateReconnecting)
	assert.Equal(t, float64(3), testutil.ToFloat64(ConnectionState))

	SetConnectionState(types.StateOpen)
	assert.Equal(t, float64(2), testutil.ToFloat64(ConnectionState))
}

func TestHandler_ExposesChatMetrics(t *testing.T) {
	FramesDroppedTotal.WithLabelValues("malformed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "classchat_frames_dropped_total")
	assert.Contains(t, rec.Body.String(), "classchat_connection_state")
}
