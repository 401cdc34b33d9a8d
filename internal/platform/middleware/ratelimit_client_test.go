package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestPlanForDefaultsToDisplay(t *testing.T) {
	rl := NewClientRateLimiter()

	plan := rl.PlanFor("never-seen")
	if plan.Name != PlanDisplay {
		t.Errorf("unassigned client got plan %q, want %q", plan.Name, PlanDisplay)
	}
}

func TestAssignPlan(t *testing.T) {
	rl := NewClientRateLimiter()

	if err := rl.AssignPlan("console-7", PlanConsole); err != nil {
		t.Fatalf("AssignPlan: %v", err)
	}
	if got := rl.PlanFor("console-7").Name; got != PlanConsole {
		t.Errorf("plan = %q, want %q", got, PlanConsole)
	}

	if err := rl.AssignPlan("x", "platinum"); err == nil {
		t.Error("assigning an unknown plan should fail")
	}
}

func TestRegisterPlanReplaces(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.RegisterPlan(RatePlan{Name: PlanDisplay, RequestsPerMinute: 1, RequestsPerHour: 10})

	dec := rl.Admit("board-1")
	if !dec.Allowed {
		t.Fatal("first request should pass")
	}
	rl.Release("board-1")

	if dec := rl.Admit("board-1"); dec.Allowed {
		t.Error("second request should hit the replaced 1/min ceiling")
	}
}

func TestAdmitMinuteCeiling(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.RegisterPlan(RatePlan{Name: "tiny", RequestsPerMinute: 2, RequestsPerHour: 100, Burst: 1})
	if err := rl.AssignPlan("kiosk-1", "tiny"); err != nil {
		t.Fatal(err)
	}

	// Effective minute allowance is RequestsPerMinute + Burst = 3.
	for i := 0; i < 3; i++ {
		dec := rl.Admit("kiosk-1")
		if !dec.Allowed {
			t.Fatalf("request %d should pass", i+1)
		}
		if want := 3 - (i + 1); dec.Remaining != want {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, dec.Remaining, want)
		}
		rl.Release("kiosk-1")
	}

	dec := rl.Admit("kiosk-1")
	if dec.Allowed {
		t.Fatal("request past the minute ceiling should be denied")
	}
	if dec.RetryAfter < 1 {
		t.Errorf("RetryAfter = %d, want >= 1", dec.RetryAfter)
	}
	if dec.Plan != "tiny" {
		t.Errorf("Plan = %q, want tiny", dec.Plan)
	}
}

func TestAdmitMinuteWindowRolls(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.RegisterPlan(RatePlan{Name: "one", RequestsPerMinute: 1, RequestsPerHour: 100})
	rl.AssignPlan("c", "one")

	rl.Admit("c")
	rl.Release("c")
	if dec := rl.Admit("c"); dec.Allowed {
		t.Fatal("second request inside the window should be denied")
	}

	// Force the minute window to expire.
	cc := rl.countersFor("c")
	cc.mu.Lock()
	cc.minute.resetAt = time.Now().Add(-time.Second)
	cc.mu.Unlock()

	if dec := rl.Admit("c"); !dec.Allowed {
		t.Error("request after the window rolled should pass")
	}
}

func TestAdmitHourCeiling(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.RegisterPlan(RatePlan{Name: "hourly", RequestsPerMinute: 1000, RequestsPerHour: 5})
	rl.AssignPlan("c", "hourly")

	cc := rl.countersFor("c")
	cc.mu.Lock()
	cc.hour.count = 5
	cc.mu.Unlock()

	dec := rl.Admit("c")
	if dec.Allowed {
		t.Fatal("request past the hour ceiling should be denied")
	}
	if dec.RetryAfter < 1 {
		t.Errorf("RetryAfter = %d, want >= 1", dec.RetryAfter)
	}
}

func TestAdmitInFlightCap(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.RegisterPlan(RatePlan{Name: "narrow", RequestsPerMinute: 100, RequestsPerHour: 1000, MaxInFlight: 2})
	rl.AssignPlan("c", "narrow")

	// Two admits without release occupy both slots.
	if dec := rl.Admit("c"); !dec.Allowed {
		t.Fatal("first admit should pass")
	}
	if dec := rl.Admit("c"); !dec.Allowed {
		t.Fatal("second admit should pass")
	}

	dec := rl.Admit("c")
	if dec.Allowed {
		t.Fatal("third concurrent request should be denied")
	}
	if dec.RetryAfter != 1 {
		t.Errorf("RetryAfter = %d, want 1 for an in-flight denial", dec.RetryAfter)
	}

	rl.Release("c")
	if dec := rl.Admit("c"); !dec.Allowed {
		t.Error("admit after a release should pass")
	}
}

func TestReleaseWithoutAdmit(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.Release("ghost")

	if got := rl.Usage("ghost").InFlight; got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
}

func TestUsageSnapshot(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.AssignPlan("console-1", PlanConsole)

	rl.Admit("console-1")
	rl.Admit("console-1")
	rl.Release("console-1")

	u := rl.Usage("console-1")
	if u.Plan != PlanConsole {
		t.Errorf("Plan = %q, want %q", u.Plan, PlanConsole)
	}
	if u.MinuteUsed != 2 {
		t.Errorf("MinuteUsed = %d, want 2", u.MinuteUsed)
	}
	if u.HourUsed != 2 {
		t.Errorf("HourUsed = %d, want 2", u.HourUsed)
	}
	if u.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", u.InFlight)
	}
}

func TestResetCounters(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.Admit("c")
	rl.Admit("c")

	rl.Reset("c")

	u := rl.Usage("c")
	if u.MinuteUsed != 0 || u.HourUsed != 0 || u.InFlight != 0 {
		t.Errorf("counters after reset = %+v, want all zero", u)
	}
}

func TestSweepDropsIdleCounters(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.Admit("stale")
	rl.Release("stale")
	rl.Admit("busy") // still in flight, must survive

	for _, id := range []string{"stale", "busy"} {
		cc := rl.countersFor(id)
		cc.mu.Lock()
		cc.lastSeen = time.Now().Add(-3 * time.Hour)
		cc.mu.Unlock()
	}

	if removed := rl.Sweep(counterIdleEvict); removed != 1 {
		t.Errorf("Sweep removed %d records, want 1", removed)
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if _, ok := rl.counters["stale"]; ok {
		t.Error("idle counter survived the sweep")
	}
	if _, ok := rl.counters["busy"]; !ok {
		t.Error("in-flight counter was swept")
	}
}

func TestAdmitConcurrentNeverExceedsCeiling(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.RegisterPlan(RatePlan{Name: "race", RequestsPerMinute: 40, RequestsPerHour: 10000})
	rl.AssignPlan("c", "race")

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dec := rl.Admit("c"); dec.Allowed {
				atomic.AddInt64(&allowed, 1)
				rl.Release("c")
			}
		}()
	}
	wg.Wait()

	if allowed != 40 {
		t.Errorf("admitted %d requests, want exactly 40", allowed)
	}
}

func TestClientRateLimitMiddleware(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.RegisterPlan(RatePlan{Name: "mw", RequestsPerMinute: 1, RequestsPerHour: 100})
	rl.AssignPlan("board-9", "mw")

	handler := ClientRateLimitMiddleware(rl)(okHandler)

	doReq := func() (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Client-ID", "board-9")
		rec := httptest.NewRecorder()
		return rec, handler(echo.New().NewContext(req, rec))
	}

	rec, err := doReq()
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("X-RateLimit-Limit = %q, want 1", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset header missing")
	}

	rec, err = doReq()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("second request: want *echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d, want 429", httpErr.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on denial")
	}
	if msg, ok := httpErr.Message.(string); !ok || !strings.Contains(msg, "mw") {
		t.Errorf("denial message %v should name the plan", httpErr.Message)
	}
}

func TestClientIdentityPriority(t *testing.T) {
	newCtx := func(mutate func(c echo.Context, req *http.Request)) echo.Context {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.9:1234"
		c := echo.New().NewContext(req, httptest.NewRecorder())
		if mutate != nil {
			mutate(c, req)
		}
		return c
	}

	c := newCtx(func(c echo.Context, req *http.Request) {
		c.Set("client_id", "ctx-id")
		req.Header.Set("X-Client-ID", "header-id")
	})
	if got := clientIdentity(c); got != "ctx-id" {
		t.Errorf("identity = %q, want the context value first", got)
	}

	c = newCtx(func(c echo.Context, req *http.Request) {
		req.Header.Set("X-Client-ID", "header-id")
	})
	if got := clientIdentity(c); got != "header-id" {
		t.Errorf("identity = %q, want the header next", got)
	}

	c = newCtx(nil)
	if got := clientIdentity(c); got != "192.0.2.9" {
		t.Errorf("identity = %q, want the client IP fallback", got)
	}
}

func TestRateLimitHandlerPlans(t *testing.T) {
	h := NewRateLimitHandler(NewClientRateLimiter())

	req := httptest.NewRequest(http.MethodGet, "/rate-limits/plans", nil)
	rec := httptest.NewRecorder()
	if err := h.ListPlans(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("ListPlans: %v", err)
	}

	var plans []RatePlan
	if err := json.Unmarshal(rec.Body.Bytes(), &plans); err != nil {
		t.Fatalf("decode plans: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("got %d plans, want the 3 defaults", len(plans))
	}
}

func TestRateLimitHandlerUpsertPlan(t *testing.T) {
	rl := NewClientRateLimiter()
	h := NewRateLimitHandler(rl)

	body := `{"name":"after-hours","requests_per_minute":10,"requests_per_hour":100}`
	req := httptest.NewRequest(http.MethodPut, "/rate-limits/plans", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.UpsertPlan(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}

	if err := rl.AssignPlan("c", "after-hours"); err != nil {
		t.Errorf("new plan not registered: %v", err)
	}

	// Missing name is rejected.
	req = httptest.NewRequest(http.MethodPut, "/rate-limits/plans", strings.NewReader(`{"requests_per_minute":5}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.UpsertPlan(echo.New().NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("nameless plan: got %v, want 400", err)
	}
}

func TestRateLimitHandlerClientLifecycle(t *testing.T) {
	rl := NewClientRateLimiter()
	h := NewRateLimitHandler(rl)
	e := echo.New()

	paramCtx := func(method, body string) (echo.Context, *httptest.ResponseRecorder) {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, "/", strings.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		} else {
			req = httptest.NewRequest(method, "/", nil)
		}
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("portal-3")
		return c, rec
	}

	c, _ := paramCtx(http.MethodPut, `{"plan":"partner"}`)
	if err := h.AssignClientPlan(c); err != nil {
		t.Fatalf("AssignClientPlan: %v", err)
	}

	rl.Admit("portal-3")

	c, rec := paramCtx(http.MethodGet, "")
	if err := h.GetClientUsage(c); err != nil {
		t.Fatalf("GetClientUsage: %v", err)
	}
	var usage ClientUsage
	if err := json.Unmarshal(rec.Body.Bytes(), &usage); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	if usage.Plan != PlanPartner || usage.MinuteUsed != 1 {
		t.Errorf("usage = %+v, want the partner plan with one request", usage)
	}

	c, _ = paramCtx(http.MethodPost, "")
	if err := h.ResetClientCounters(c); err != nil {
		t.Fatalf("ResetClientCounters: %v", err)
	}
	if got := rl.Usage("portal-3").MinuteUsed; got != 0 {
		t.Errorf("MinuteUsed after reset = %d, want 0", got)
	}

	// Unknown tier is a 400.
	c, _ = paramCtx(http.MethodPut, `{"plan":"gold"}`)
	err := h.AssignClientPlan(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("unknown tier: got %v, want 400", err)
	}
}
