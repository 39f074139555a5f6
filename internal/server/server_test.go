package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"recibod/internal/dispatch"
	"recibod/pkg/logx"
)

type stubRunner struct {
	res dispatch.SlotResult
	err error

	uid, slot string
	dry       bool
}

func (s *stubRunner) RunSlot(ctx context.Context, uid, label string, dry bool) (dispatch.SlotResult, error) {
	s.uid, s.slot, s.dry = uid, label, dry
	return s.res, s.err
}

func newTestServer(t *testing.T, runner Runner, token string) *Server {
	t.Helper()
	return New(Config{Enabled: true, Token: token}, runner, logx.Nop())
}

func doRun(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.auth(s.handleRun)(rec, req)
	return rec
}

func TestRunEndpoint(t *testing.T) {
	t.Parallel()
	runner := &stubRunner{res: dispatch.SlotResult{
		UID: "u1", Scope: "loans", Slot: "08:00", Category: "dueToday", Reason: dispatch.ReasonDryRun,
	}}
	s := newTestServer(t, runner, "")

	rec := doRun(t, s, "/v1/run?uid=u1&slot=loans&dry=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !runner.dry || runner.uid != "u1" || runner.slot != "loans" {
		t.Fatalf("runner args: %+v", runner)
	}

	var body struct {
		OK     bool                `json:"ok"`
		Dry    bool                `json:"dry"`
		Result dispatch.SlotResult `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || !body.Dry || body.Result.Reason != dispatch.ReasonDryRun {
		t.Fatalf("body = %+v", body)
	}
}

func TestRunEndpointValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &stubRunner{}, "")

	if rec := doRun(t, s, "/v1/run?slot=loans"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing uid: status %d", rec.Code)
	}
	if rec := doRun(t, s, "/v1/run?uid=u1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing slot: status %d", rec.Code)
	}
}

func TestRunEndpointMapsDispatchErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &stubRunner{err: dispatch.ErrUnknownUser}, "")
	if rec := doRun(t, s, "/v1/run?uid=ghost&slot=loans"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user: status %d", rec.Code)
	}

	s = newTestServer(t, &stubRunner{err: dispatch.ErrUnknownSlot}, "")
	if rec := doRun(t, s, "/v1/run?uid=u1&slot=nope"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown slot: status %d", rec.Code)
	}
}

func TestRunEndpointToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &stubRunner{}, "s3cret")

	if rec := doRun(t, s, "/v1/run?uid=u1&slot=loans"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/run?uid=u1&slot=loans", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	s.auth(s.handleRun)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: status %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &stubRunner{}, "")
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}
