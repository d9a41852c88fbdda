package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"coach/internal/agent"
	"coach/internal/model"
	"coach/internal/platform"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeController struct {
	recordingTarget
	agents map[string]*model.AgentSummary
	fail   error
}

func newFakeController(ids ...string) *fakeController {
	f := &fakeController{agents: make(map[string]*model.AgentSummary)}
	for _, id := range ids {
		f.agents[id] = &model.AgentSummary{AgentID: id}
	}
	return f
}

func (f *fakeController) lookup(id string) (*model.AgentSummary, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	a, ok := f.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", platform.ErrUnknownAgent, id)
	}
	return a, nil
}

func (f *fakeController) Approve(id string) error {
	a, err := f.lookup(id)
	if err != nil {
		return err
	}
	a.Approvals++
	return f.recordingTarget.Approve(id)
}

func (f *fakeController) Disapprove(id string) error {
	a, err := f.lookup(id)
	if err != nil {
		return err
	}
	a.Disapprovals++
	a.Exploring = true
	return f.recordingTarget.Disapprove(id)
}

func (f *fakeController) Status(id string) (model.AgentSummary, error) {
	a, err := f.lookup(id)
	if err != nil {
		return model.AgentSummary{}, err
	}
	return *a, nil
}

func (f *fakeController) Summary() model.SessionSummary {
	out := model.SessionSummary{ID: "s1", Frames: 42}
	for _, id := range []string{"player1", "player2"} {
		if a, ok := f.agents[id]; ok {
			out.Agents = append(out.Agents, *a)
		}
	}
	return out
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newTestServer(t *testing.T, ctrl Controller) *Server {
	t.Helper()
	srv, err := NewServer(ctrl, ServerConfig{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestApproveAndDisapproveRoutes(t *testing.T) {
	ctrl := newFakeController("player1", "player2")
	h := newTestServer(t, ctrl).Handler()

	rec := do(t, h, http.MethodPost, "/agents/player1/approve")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/agents/player2/disapprove")
	if rec.Code != http.StatusOK {
		t.Fatalf("disapprove status %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Verdict Verdict            `json:"verdict"`
		Agent   model.AgentSummary `json:"agent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Verdict != Disapprove || !body.Agent.Exploring || body.Agent.Disapprovals != 1 {
		t.Fatalf("unexpected response: %+v", body)
	}
	if fmt.Sprint(ctrl.calls) != "[approve:player1 disapprove:player2]" {
		t.Fatalf("unexpected calls: %v", ctrl.calls)
	}
}

func TestUnknownAgentIs404(t *testing.T) {
	h := newTestServer(t, newFakeController("player1")).Handler()
	for _, path := range []string{"/agents/ghost/approve", "/agents/ghost/disapprove"} {
		if rec := do(t, h, http.MethodPost, path); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodGet, "/agents/ghost/status"); rec.Code != http.StatusNotFound {
		t.Fatalf("status: expected 404, got %d", rec.Code)
	}
}

func TestControllerFailureIs500(t *testing.T) {
	ctrl := newFakeController("player1")
	ctrl.fail = errors.New("disk full")
	h := newTestServer(t, ctrl).Handler()
	if rec := do(t, h, http.MethodPost, "/agents/player1/approve"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestAgentsAndHealth(t *testing.T) {
	h := newTestServer(t, newFakeController("player1", "player2")).Handler()

	rec := do(t, h, http.MethodGet, "/agents")
	var summary model.SessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode agents: %v", err)
	}
	if summary.ID != "s1" || len(summary.Agents) != 2 {
		t.Fatalf("unexpected agents response: %+v", summary)
	}

	rec = do(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
	var health healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.Frames != 42 || health.Goroutines == 0 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestServerDrivesRealSession(t *testing.T) {
	settings := agent.DefaultSettings()
	settings.Hidden = []int{4}
	session, err := platform.NewSession(context.Background(), platform.Config{Seed: 3, Settings: settings})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	h := newTestServer(t, session).Handler()
	if rec := do(t, h, http.MethodPost, "/agents/player2/disapprove"); rec.Code != http.StatusOK {
		t.Fatalf("disapprove status %d: %s", rec.Code, rec.Body.String())
	}
	status, err := session.Status("player2")
	if err != nil || !status.Exploring {
		t.Fatalf("expected player2 exploring: %+v err=%v", status, err)
	}
	if rec := do(t, h, http.MethodPost, "/agents/player9/approve"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown player, got %d", rec.Code)
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	srv, err := NewServer(newFakeController("player1"), ServerConfig{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}
