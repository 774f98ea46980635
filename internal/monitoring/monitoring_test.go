package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/thingpilot/lorawan-node/internal/test"
)

type testState string

func (s testState) String() string {
	return string(s)
}

func TestHealthCheck(t *testing.T) {
	defer func(f func(context.Context) error) { pingRedis = f }(pingRedis)

	state := func() fmt.Stringer { return testState("Connected") }

	tests := []struct {
		Name           string
		FrameLog       bool
		PingErr        error
		ExpectedStatus int
		ExpectedBody   string
	}{
		{
			Name:           "session state",
			ExpectedStatus: http.StatusOK,
			ExpectedBody:   "session: Connected",
		},
		{
			Name:           "redis ok",
			FrameLog:       true,
			ExpectedStatus: http.StatusOK,
			ExpectedBody:   "session: Connected",
		},
		{
			Name:           "redis error",
			FrameLog:       true,
			PingErr:        errors.New("connection refused"),
			ExpectedStatus: http.StatusServiceUnavailable,
			ExpectedBody:   "redis ping error: connection refused",
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			pingRedis = func(context.Context) error { return tst.PingErr }

			c := test.GetConfig()
			c.Monitoring.HealthcheckEndpoint = true
			c.Monitoring.FrameLog = tst.FrameLog

			rec := httptest.NewRecorder()
			newMux(c, state).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(tst.ExpectedStatus, rec.Code)
			assert.Equal(tst.ExpectedBody, rec.Body.String())
		})
	}
}

func TestEndpoints(t *testing.T) {
	assert := require.New(t)

	c := test.GetConfig()
	c.Monitoring.PrometheusEndpoint = true

	rec := httptest.NewRecorder()
	newMux(c, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(http.StatusOK, rec.Code)

	// healthcheck endpoint disabled
	rec = httptest.NewRecorder()
	newMux(c, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(http.StatusNotFound, rec.Code)
}
