package vehicle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// solverServer fakes a 2captcha-compatible API: submissions get an ID,
// results stay pending for pendingPolls calls, then return code.
type solverServer struct {
	t *testing.T

	code         string
	pendingPolls int
	rejectSubmit string
	rejectResult string

	submitCalls int
	pollCalls   int
	lastBody    string
}

func (ss *solverServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /in.php", func(w http.ResponseWriter, r *http.Request) {
		ss.submitCalls++
		if err := r.ParseForm(); err != nil {
			ss.t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostFormValue("method"); got != "base64" {
			ss.t.Errorf("method = %q, want base64", got)
		}
		if got := r.PostFormValue("key"); got != "solver-key" {
			ss.t.Errorf("key = %q, want solver-key", got)
		}
		ss.lastBody = r.PostFormValue("body")
		if ss.rejectSubmit != "" {
			fmt.Fprintf(w, `{"status":0,"request":%q}`, ss.rejectSubmit)
			return
		}
		fmt.Fprint(w, `{"status":1,"request":"task-42"}`)
	})

	mux.HandleFunc("GET /res.php", func(w http.ResponseWriter, r *http.Request) {
		ss.pollCalls++
		q := r.URL.Query()
		if got := q.Get("id"); got != "task-42" {
			ss.t.Errorf("id = %q, want task-42", got)
		}
		if got := q.Get("action"); got != "get" {
			ss.t.Errorf("action = %q, want get", got)
		}
		if ss.rejectResult != "" {
			fmt.Fprintf(w, `{"status":0,"request":%q}`, ss.rejectResult)
			return
		}
		if ss.pollCalls <= ss.pendingPolls {
			fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
			return
		}
		fmt.Fprintf(w, `{"status":1,"request":%q}`, ss.code)
	})

	return mux
}

func newTestSolver(t *testing.T, ss *solverServer) *TwoCaptcha {
	t.Helper()
	srv := httptest.NewServer(ss.handler())
	t.Cleanup(srv.Close)

	s, err := NewTwoCaptcha("solver-key", srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewTwoCaptcha: %v", err)
	}
	s.pollInterval = time.Millisecond
	return s
}

func TestTwoCaptchaSolve(t *testing.T) {
	ss := &solverServer{t: t, code: "7KQ3", pendingPolls: 1}
	s := newTestSolver(t, ss)

	code, err := s.Solve(context.Background(), "data:image/png;base64,aW1hZ2U=")
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if code != "7KQ3" {
		t.Errorf("code = %q, want 7KQ3", code)
	}
	if ss.lastBody != "aW1hZ2U=" {
		t.Errorf("submitted body = %q, want bare base64 without data URI prefix", ss.lastBody)
	}
	if ss.submitCalls != 1 || ss.pollCalls != 2 {
		t.Errorf("calls = %d submit, %d poll; want 1, 2", ss.submitCalls, ss.pollCalls)
	}
}

func TestTwoCaptchaSubmitRejected(t *testing.T) {
	ss := &solverServer{t: t, rejectSubmit: "ERROR_ZERO_BALANCE"}
	s := newTestSolver(t, ss)

	_, err := s.Solve(context.Background(), "aW1hZ2U=")
	if err == nil || !strings.Contains(err.Error(), "ERROR_ZERO_BALANCE") {
		t.Fatalf("err = %v, want submission rejection", err)
	}
}

func TestTwoCaptchaUnsolvable(t *testing.T) {
	ss := &solverServer{t: t, rejectResult: "ERROR_CAPTCHA_UNSOLVABLE"}
	s := newTestSolver(t, ss)

	_, err := s.Solve(context.Background(), "aW1hZ2U=")
	if err == nil || !strings.Contains(err.Error(), "ERROR_CAPTCHA_UNSOLVABLE") {
		t.Fatalf("err = %v, want solving failure", err)
	}
}

func TestTwoCaptchaGivesUpAfterPollBudget(t *testing.T) {
	ss := &solverServer{t: t, code: "never", pendingPolls: 100}
	s := newTestSolver(t, ss)
	s.pollAttempts = 3

	_, err := s.Solve(context.Background(), "aW1hZ2U=")
	if err == nil || !strings.Contains(err.Error(), "not solved") {
		t.Fatalf("err = %v, want poll exhaustion", err)
	}
	if ss.pollCalls != 3 {
		t.Errorf("poll calls = %d, want 3", ss.pollCalls)
	}
}

func TestTwoCaptchaContextCancelled(t *testing.T) {
	ss := &solverServer{t: t, code: "x", pendingPolls: 100}
	s := newTestSolver(t, ss)
	s.pollInterval = time.Hour

	// Submission succeeds, then the deadline fires while Solve waits out
	// the poll interval.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.Solve(ctx, "aW1hZ2U="); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if ss.submitCalls != 1 || ss.pollCalls != 0 {
		t.Errorf("calls = %d submit, %d poll; want 1, 0", ss.submitCalls, ss.pollCalls)
	}
}

func TestNewTwoCaptchaValidation(t *testing.T) {
	if _, err := NewTwoCaptcha("", "http://example.com", time.Second); err == nil {
		t.Error("NewTwoCaptcha with empty key should fail")
	}

	s, err := NewTwoCaptcha("k", "", 0)
	if err != nil {
		t.Fatalf("NewTwoCaptcha with defaults: %v", err)
	}
	if s.baseURL != defaultSolverBaseURL {
		t.Errorf("baseURL = %q, want %q", s.baseURL, defaultSolverBaseURL)
	}
}

func TestConnectCaptchaLoginThroughSolverService(t *testing.T) {
	ss := &solverServer{t: t, code: "9ZK4"}
	solver := newTestSolver(t, ss)

	vs := &vehicleServer{
		t:              t,
		token:          "tok-solved",
		requireCaptcha: true,
		captchaCode:    "9ZK4",
		overview:       map[string]any{"BATTERY_CHARGING_STATE": "OFF"},
	}
	gw := newTestGateway(t, vs, ConnectConfig{Solver: solver})

	snap, err := gw.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.State != StateNotCharging {
		t.Errorf("state = %q, want %q", snap.State, StateNotCharging)
	}
	if ss.submitCalls != 1 {
		t.Errorf("solver submissions = %d, want 1", ss.submitCalls)
	}
	if vs.loginCalls != 2 {
		t.Errorf("login calls = %d, want 2 (challenge then answer)", vs.loginCalls)
	}
}
