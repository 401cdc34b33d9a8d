package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

// webhookContext builds an echo context for a handler call; id, when
// non-empty, is bound as the :id path parameter.
func webhookContext(method, target, body, id string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	return c, rec
}

func wantHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != code {
		t.Fatalf("got %v, want HTTP %d", err, code)
	}
}

func TestHandlerSubscribeAndGet(t *testing.T) {
	m, _ := newTestManager()
	h := NewHandler(m)

	c, rec := webhookContext(http.MethodPost, "/webhooks",
		`{"url":"https://displays.local/hook","events":["queue-*"],"topics":["doctor:12"]}`, "")
	if err := h.Subscribe(c); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var created Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Secret == "" {
		t.Error("registration response must include the generated secret")
	}
	if created.Status != StatusActive || len(created.Topics) != 1 {
		t.Errorf("created = %+v", created)
	}

	c, rec = webhookContext(http.MethodGet, "/webhooks/"+created.ID, "", created.ID)
	if err := h.Get(c); err != nil {
		t.Fatalf("Get: %v", err)
	}
	var fetched Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.Secret != "" {
		t.Error("secret leaked through GET")
	}
	if fetched.ID != created.ID || fetched.URL != created.URL {
		t.Errorf("fetched = %+v", fetched)
	}

	c, _ = webhookContext(http.MethodGet, "/webhooks/missing", "", "missing")
	wantHTTPError(t, h.Get(c), http.StatusNotFound)
}

func TestHandlerSubscribeValidation(t *testing.T) {
	m, _ := newTestManager()
	h := NewHandler(m)

	tests := []struct {
		name string
		body string
	}{
		{"bad scheme", `{"url":"ftp://x.local","events":["*"]}`},
		{"no events", `{"url":"https://x.local/hook"}`},
		{"malformed json", `{"url":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := webhookContext(http.MethodPost, "/webhooks", tt.body, "")
			wantHTTPError(t, h.Subscribe(c), http.StatusBadRequest)
		})
	}
}

func TestHandlerListRedactsAndPaginates(t *testing.T) {
	m, _ := newTestManager()
	h := NewHandler(m)
	for i := 0; i < 3; i++ {
		subscribe(t, m, "https://displays.local/hook", []string{"*"}, nil)
	}

	c, rec := webhookContext(http.MethodGet, "/webhooks?limit=2", "", "")
	if err := h.List(c); err != nil {
		t.Fatalf("List: %v", err)
	}
	var resp struct {
		Data    []Subscription `json:"data"`
		Total   int            `json:"total"`
		HasMore bool           `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Fatalf("list = total %d len %d has_more %v", resp.Total, len(resp.Data), resp.HasMore)
	}
	for _, sub := range resp.Data {
		if sub.Secret != "" {
			t.Fatal("secret leaked through list")
		}
	}
}

func TestHandlerUpdate(t *testing.T) {
	m, store := newTestManager()
	h := NewHandler(m)
	sub := subscribe(t, m, "https://displays.local/hook", []string{"*"}, nil)

	c, rec := webhookContext(http.MethodPut, "/webhooks/"+sub.ID,
		`{"url":"https://board.local/hook","events":["queue-changed"],"status":"paused"}`, sub.ID)
	if err := h.Update(c); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	got, _ := store.GetSubscription(context.Background(), sub.ID)
	if got.URL != "https://board.local/hook" || got.Status != StatusPaused {
		t.Fatalf("persisted = %+v", got)
	}
	if len(got.Events) != 1 || got.Events[0] != "queue-changed" {
		t.Fatalf("events = %v", got.Events)
	}
	if got.Secret != sub.Secret {
		t.Error("update must not change the secret")
	}

	c, _ = webhookContext(http.MethodPut, "/webhooks/"+sub.ID, `{"status":"broken"}`, sub.ID)
	wantHTTPError(t, h.Update(c), http.StatusBadRequest)

	c, _ = webhookContext(http.MethodPut, "/webhooks/"+sub.ID, `{"url":"not a url ://"}`, sub.ID)
	wantHTTPError(t, h.Update(c), http.StatusBadRequest)

	c, _ = webhookContext(http.MethodPut, "/webhooks/missing", `{}`, "missing")
	wantHTTPError(t, h.Update(c), http.StatusNotFound)
}

func TestHandlerUpdateReactivationClearsStreak(t *testing.T) {
	m, store := newTestManager()
	h := NewHandler(m)
	sub := subscribe(t, m, "https://displays.local/hook", []string{"*"}, nil)

	failing, _ := store.GetSubscription(context.Background(), sub.ID)
	failing.Status = StatusFailing
	failing.Failures = 7
	if err := store.UpdateSubscription(context.Background(), failing); err != nil {
		t.Fatalf("seed failing state: %v", err)
	}

	c, _ := webhookContext(http.MethodPut, "/webhooks/"+sub.ID, `{"status":"active"}`, sub.ID)
	if err := h.Update(c); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := store.GetSubscription(context.Background(), sub.ID)
	if got.Status != StatusActive || got.Failures != 0 {
		t.Fatalf("status %q failures %d, want active with a clear streak", got.Status, got.Failures)
	}
}

func TestHandlerUnsubscribe(t *testing.T) {
	m, _ := newTestManager()
	h := NewHandler(m)
	sub := subscribe(t, m, "https://displays.local/hook", []string{"*"}, nil)

	c, rec := webhookContext(http.MethodDelete, "/webhooks/"+sub.ID, "", sub.ID)
	if err := h.Unsubscribe(c); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	c, _ = webhookContext(http.MethodDelete, "/webhooks/"+sub.ID, "", sub.ID)
	wantHTTPError(t, h.Unsubscribe(c), http.StatusNotFound)
}

func TestHandlerPauseResume(t *testing.T) {
	m, _ := newTestManager()
	h := NewHandler(m)
	sub := subscribe(t, m, "https://displays.local/hook", []string{"*"}, nil)

	c, rec := webhookContext(http.MethodPost, "/webhooks/"+sub.ID+"/pause", "", sub.ID)
	if err := h.Pause(c); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	var paused Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &paused); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if paused.Status != StatusPaused || paused.Secret != "" {
		t.Fatalf("paused = %+v", paused)
	}

	c, rec = webhookContext(http.MethodPost, "/webhooks/"+sub.ID+"/resume", "", sub.ID)
	if err := h.Resume(c); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	var resumed Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &resumed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resumed.Status != StatusActive {
		t.Fatalf("resumed = %+v", resumed)
	}

	c, _ = webhookContext(http.MethodPost, "/webhooks/missing/pause", "", "missing")
	wantHTTPError(t, h.Pause(c), http.StatusNotFound)
}

func TestHandlerPingAndDeliveries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, _ := newTestManager()
	h := NewHandler(m)
	sub := subscribe(t, m, srv.URL, []string{"*"}, nil)

	c, rec := webhookContext(http.MethodPost, "/webhooks/"+sub.ID+"/test", "", sub.ID)
	if err := h.Ping(c); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	var d Delivery
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.State != StateSucceeded || d.EventType != "webhook-ping" {
		t.Fatalf("ping delivery = %+v", d)
	}

	c, rec = webhookContext(http.MethodGet, "/webhooks/"+sub.ID+"/deliveries", "", sub.ID)
	if err := h.Deliveries(c); err != nil {
		t.Fatalf("Deliveries: %v", err)
	}
	var resp struct {
		Data  []Delivery `json:"data"`
		Total int        `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].ID != d.ID {
		t.Fatalf("deliveries = %+v", resp)
	}

	c, _ = webhookContext(http.MethodPost, "/webhooks/missing/test", "", "missing")
	wantHTTPError(t, h.Ping(c), http.StatusNotFound)
}

func TestHandlerRedeliver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, store := newTestManager()
	h := NewHandler(m)
	sub := subscribe(t, m, srv.URL, []string{"*"}, nil)
	m.Deliver(context.Background(), Event{Type: "queue-changed"})

	logs, _, _ := store.ListDeliveries(context.Background(), sub.ID, 1, 0)
	if len(logs) != 1 {
		t.Fatalf("seed delivery missing")
	}

	c, rec := webhookContext(http.MethodPost, "/webhooks/deliveries/"+logs[0].ID+"/retry", "", logs[0].ID)
	if err := h.Redeliver(c); err != nil {
		t.Fatalf("Redeliver: %v", err)
	}
	var redone Delivery
	if err := json.Unmarshal(rec.Body.Bytes(), &redone); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if redone.State != StateSucceeded || redone.ID == logs[0].ID {
		t.Fatalf("redelivery = %+v", redone)
	}

	c, _ = webhookContext(http.MethodPost, "/webhooks/deliveries/missing/retry", "", "missing")
	wantHTTPError(t, h.Redeliver(c), http.StatusNotFound)
}
