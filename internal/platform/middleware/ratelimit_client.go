package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Consumer tiers for the queue API. Waiting-room displays poll a handful of
// read endpoints on a timer, doctor consoles are interactive, and partner
// integrations (kiosk check-in, hospital portals) push heavier traffic.
const (
	PlanDisplay = "display"
	PlanConsole = "console"
	PlanPartner = "partner"
)

const counterIdleEvict = 2 * time.Hour

// RatePlan bundles the limits enforced for one consumer tier.
type RatePlan struct {
	Name              string `json:"name"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	RequestsPerHour   int    `json:"requests_per_hour"`
	Burst             int    `json:"burst"`
	MaxInFlight       int    `json:"max_in_flight"`
}

// effectiveMinuteLimit is the admission ceiling for the minute window.
func (p RatePlan) effectiveMinuteLimit() int {
	return p.RequestsPerMinute + p.Burst
}

// DefaultRatePlans returns the built-in tiers. Clients without an assignment
// land on the display tier.
func DefaultRatePlans() []RatePlan {
	return []RatePlan{
		{Name: PlanDisplay, RequestsPerMinute: 30, RequestsPerHour: 1200, Burst: 10, MaxInFlight: 4},
		{Name: PlanConsole, RequestsPerMinute: 120, RequestsPerHour: 4800, Burst: 40, MaxInFlight: 12},
		{Name: PlanPartner, RequestsPerMinute: 600, RequestsPerHour: 24000, Burst: 150, MaxInFlight: 48},
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Plan       string
	Limit      int // effective per-minute allowance
	Remaining  int
	RetryAfter int // seconds until a retry could succeed
	ResetAt    time.Time
}

// ClientUsage is the admin-facing snapshot of one client's counters.
type ClientUsage struct {
	ClientID    string `json:"client_id"`
	Plan        string `json:"plan"`
	MinuteUsed  int    `json:"minute_used"`
	MinuteLimit int    `json:"minute_limit"`
	HourUsed    int    `json:"hour_used"`
	HourLimit   int    `json:"hour_limit"`
	InFlight    int    `json:"in_flight"`
	MaxInFlight int    `json:"max_in_flight"`
}

// countWindow is a fixed-length counting window that rolls over lazily on
// the next touch after it expires.
type countWindow struct {
	count   int
	length  time.Duration
	resetAt time.Time
}

func (w *countWindow) roll(now time.Time) {
	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(w.length)
	}
}

type clientCounters struct {
	mu       sync.Mutex
	minute   countWindow
	hour     countWindow
	inFlight int
	lastSeen time.Time
}

func newClientCounters(now time.Time) *clientCounters {
	return &clientCounters{
		minute:   countWindow{length: time.Minute, resetAt: now.Add(time.Minute)},
		hour:     countWindow{length: time.Hour, resetAt: now.Add(time.Hour)},
		lastSeen: now,
	}
}

// ClientRateLimiter enforces per-client quotas over a minute window, an hour
// window and a cap on concurrently running requests. Identity comes from the
// middleware (X-Client-ID or IP), tiers are assigned at runtime through the
// admin API.
type ClientRateLimiter struct {
	mu       sync.RWMutex
	plans    map[string]RatePlan
	tiers    map[string]string // client ID -> plan name
	counters map[string]*clientCounters
}

// NewClientRateLimiter builds a limiter pre-loaded with the default tiers.
func NewClientRateLimiter() *ClientRateLimiter {
	rl := &ClientRateLimiter{
		plans:    make(map[string]RatePlan),
		tiers:    make(map[string]string),
		counters: make(map[string]*clientCounters),
	}
	for _, p := range DefaultRatePlans() {
		rl.plans[p.Name] = p
	}
	return rl
}

// RegisterPlan adds or replaces a tier by name.
func (rl *ClientRateLimiter) RegisterPlan(plan RatePlan) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.plans[plan.Name] = plan
}

// AssignPlan moves clientID onto the named tier.
func (rl *ClientRateLimiter) AssignPlan(clientID, planName string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.plans[planName]; !ok {
		return fmt.Errorf("rate plan %q not found", planName)
	}
	rl.tiers[clientID] = planName
	return nil
}

// PlanFor resolves the tier for clientID, defaulting to display.
func (rl *ClientRateLimiter) PlanFor(clientID string) RatePlan {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	name, ok := rl.tiers[clientID]
	if !ok {
		name = PlanDisplay
	}
	plan, ok := rl.plans[name]
	if !ok {
		plan = rl.plans[PlanDisplay]
	}
	return plan
}

func (rl *ClientRateLimiter) countersFor(clientID string) *clientCounters {
	rl.mu.RLock()
	cc, ok := rl.counters[clientID]
	rl.mu.RUnlock()
	if ok {
		return cc
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if cc, ok := rl.counters[clientID]; ok {
		return cc
	}
	cc = newClientCounters(time.Now())
	rl.counters[clientID] = cc
	return cc
}

// Admit decides whether clientID may run another request right now. On
// success all windows are charged and an in-flight slot is taken; the caller
// must Release it when the request finishes.
func (rl *ClientRateLimiter) Admit(clientID string) Decision {
	plan := rl.PlanFor(clientID)
	cc := rl.countersFor(clientID)

	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := time.Now()
	cc.lastSeen = now
	cc.minute.roll(now)
	cc.hour.roll(now)

	dec := Decision{
		Plan:    plan.Name,
		Limit:   plan.effectiveMinuteLimit(),
		ResetAt: cc.minute.resetAt,
	}

	switch {
	case plan.MaxInFlight > 0 && cc.inFlight >= plan.MaxInFlight:
		dec.RetryAfter = 1
	case cc.minute.count >= plan.effectiveMinuteLimit():
		dec.RetryAfter = secondsUntil(cc.minute.resetAt)
	case plan.RequestsPerHour > 0 && cc.hour.count >= plan.RequestsPerHour:
		dec.RetryAfter = secondsUntil(cc.hour.resetAt)
	default:
		cc.minute.count++
		cc.hour.count++
		cc.inFlight++
		dec.Allowed = true
		dec.Remaining = plan.effectiveMinuteLimit() - cc.minute.count
	}

	return dec
}

// Release frees the in-flight slot taken by a successful Admit. Calling it
// without a matching Admit is harmless.
func (rl *ClientRateLimiter) Release(clientID string) {
	cc := rl.countersFor(clientID)
	cc.mu.Lock()
	if cc.inFlight > 0 {
		cc.inFlight--
	}
	cc.mu.Unlock()
}

// Usage snapshots the current counters for clientID.
func (rl *ClientRateLimiter) Usage(clientID string) *ClientUsage {
	plan := rl.PlanFor(clientID)
	cc := rl.countersFor(clientID)

	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := time.Now()
	cc.minute.roll(now)
	cc.hour.roll(now)

	return &ClientUsage{
		ClientID:    clientID,
		Plan:        plan.Name,
		MinuteUsed:  cc.minute.count,
		MinuteLimit: plan.effectiveMinuteLimit(),
		HourUsed:    cc.hour.count,
		HourLimit:   plan.RequestsPerHour,
		InFlight:    cc.inFlight,
		MaxInFlight: plan.MaxInFlight,
	}
}

// Reset zeroes all counters for clientID and restarts its windows.
func (rl *ClientRateLimiter) Reset(clientID string) {
	cc := rl.countersFor(clientID)
	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := time.Now()
	cc.minute = countWindow{length: time.Minute, resetAt: now.Add(time.Minute)}
	cc.hour = countWindow{length: time.Hour, resetAt: now.Add(time.Hour)}
	cc.inFlight = 0
}

// Sweep drops counter records idle for longer than maxIdle and reports how
// many were removed.
func (rl *ClientRateLimiter) Sweep(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, cc := range rl.counters {
		cc.mu.Lock()
		idle := now.Sub(cc.lastSeen) > maxIdle && cc.inFlight == 0
		cc.mu.Unlock()
		if idle {
			delete(rl.counters, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the interval until ctx is cancelled. Run it in
// its own goroutine.
func (rl *ClientRateLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep(counterIdleEvict)
		}
	}
}

// ClientRateLimitMiddleware enforces the limiter on every request. Client
// identity is resolved in priority order: the "client_id" context value, the
// X-Client-ID header, then the client IP.
func ClientRateLimitMiddleware(limiter *ClientRateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := clientIdentity(c)
			dec := limiter.Admit(id)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))

			if !dec.Allowed {
				h.Set("Retry-After", strconv.Itoa(dec.RetryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests,
					fmt.Sprintf("rate limit exceeded for plan %s", dec.Plan))
			}

			defer limiter.Release(id)
			return next(c)
		}
	}
}

func clientIdentity(c echo.Context) string {
	if s, ok := c.Get("client_id").(string); ok && s != "" {
		return s
	}
	if h := c.Request().Header.Get("X-Client-ID"); h != "" {
		return h
	}
	return c.RealIP()
}

// RateLimitHandler exposes the admin surface for tiers and client usage.
type RateLimitHandler struct {
	limiter *ClientRateLimiter
}

func NewRateLimitHandler(limiter *ClientRateLimiter) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

func (h *RateLimitHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/rate-limits/plans", h.ListPlans)
	g.PUT("/rate-limits/plans", h.UpsertPlan)
	g.GET("/rate-limits/clients/:id", h.GetClientUsage)
	g.PUT("/rate-limits/clients/:id/plan", h.AssignClientPlan)
	g.POST("/rate-limits/clients/:id/reset", h.ResetClientCounters)
}

// ListPlans returns every registered tier.
func (h *RateLimitHandler) ListPlans(c echo.Context) error {
	h.limiter.mu.RLock()
	plans := make([]RatePlan, 0, len(h.limiter.plans))
	for _, p := range h.limiter.plans {
		plans = append(plans, p)
	}
	h.limiter.mu.RUnlock()
	return c.JSON(http.StatusOK, plans)
}

// UpsertPlan creates or replaces a tier from the request body.
func (h *RateLimitHandler) UpsertPlan(c echo.Context) error {
	var plan RatePlan
	if err := c.Bind(&plan); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid plan: "+err.Error())
	}
	if plan.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plan name is required")
	}
	h.limiter.RegisterPlan(plan)
	return c.JSON(http.StatusOK, plan)
}

// GetClientUsage returns the live counters for one client.
func (h *RateLimitHandler) GetClientUsage(c echo.Context) error {
	return c.JSON(http.StatusOK, h.limiter.Usage(c.Param("id")))
}

// AssignClientPlan moves a client onto a tier.
func (h *RateLimitHandler) AssignClientPlan(c echo.Context) error {
	clientID := c.Param("id")
	var body struct {
		Plan string `json:"plan"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body: "+err.Error())
	}
	if err := h.limiter.AssignPlan(clientID, body.Plan); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"client_id": clientID,
		"plan":      body.Plan,
	})
}

// ResetClientCounters zeroes the counters for one client.
func (h *RateLimitHandler) ResetClientCounters(c echo.Context) error {
	clientID := c.Param("id")
	h.limiter.Reset(clientID)
	return c.JSON(http.StatusOK, map[string]string{
		"client_id": clientID,
		"status":    "reset",
	})
}

// secondsUntil returns whole seconds from now until t, minimum 1.
func secondsUntil(t time.Time) int {
	s := int(time.Until(t).Seconds())
	if s < 1 {
		return 1
	}
	return s
}
