package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"wagate/internal/transport"
)

type fixedState transport.State

func (s fixedState) State() transport.State { return transport.State(s) }

func TestReadyzReportsTransportState(t *testing.T) {
	rec := httptest.NewRecorder()
	Readyz(0, TransportConnected(fixedState(transport.StateConnected)))(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	Readyz(0, TransportConnected(fixedState(transport.StatePairing)))(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), string(transport.StatePairing))
}
