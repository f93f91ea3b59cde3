package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

type stubStatus struct {
	state string
	err   error
}

func (s stubStatus) InstanceStatus(context.Context) (string, error) { return s.state, s.err }

func TestHealth(t *testing.T) {
	okProbe := Check{Name: "postgres", Probe: func(context.Context) error { return nil }}
	badProbe := Check{Name: "postgres", Probe: func(context.Context) error { return errors.New("refused") }}

	tests := []struct {
		name    string
		gateway instanceStatus
		checks  []Check
		code    int
		want    string
	}{
		{"all good", stubStatus{state: "open"}, []Check{okProbe}, http.StatusOK, `"status":"ok"`},
		{"instance closed", stubStatus{state: "close"}, nil, http.StatusOK, `"whatsapp":"close"`},
		{"gateway down", stubStatus{err: errors.New("timeout")}, nil, http.StatusOK, `"whatsapp":"unreachable"`},
		{"probe fails", stubStatus{state: "open"}, []Check{badProbe}, http.StatusServiceUnavailable, `"postgres":"error"`},
		{"no gateway", nil, nil, http.StatusOK, `"whatsapp":"unknown"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.gateway, logging.Discard(), tt.checks...)
			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}
