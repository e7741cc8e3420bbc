package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/auth"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/ledger"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/printqueue"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testPrintSecret = "test-print-secret"

type staticIDGenerator struct {
	prefix string
	next   int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ledger.Record{}, &ledger.Setting{}, &printqueue.Job{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Date(2025, 2, 14, 9, 0, 0, 0, time.UTC) }

	ledgerService, err := ledger.NewService(ledger.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{prefix: "record"},
	})
	if err != nil {
		t.Fatalf("failed to construct ledger service: %v", err)
	}
	printService, err := printqueue.NewService(printqueue.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{prefix: "job"},
	})
	if err != nil {
		t.Fatalf("failed to construct print queue service: %v", err)
	}
	tokenIssuer := auth.NewAgentTokenIssuer(auth.AgentTokenIssuerConfig{
		SigningSecret: []byte(testPrintSecret),
		Clock:         clock,
	})

	handler, err := NewHTTPHandler(Dependencies{
		Ledger:       ledgerService,
		PrintQueue:   printService,
		AgentTokens:  tokenIssuer,
		PrintSecret:  testPrintSecret,
		DatabasePath: "test.db",
		Clock:        clock,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func performRequest(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestCreateRecordReturnsEnvelope(t *testing.T) {
	handler := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodPost, "/api/records", gin.H{
		"lorry":  "ka01ab1234",
		"driver": "Ravi",
	}, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	payload := decodeEnvelope(t, recorder)
	if payload["ok"] != true {
		t.Fatalf("expected ok envelope, got %v", payload)
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %v", payload)
	}
	if data["lorry"] != "KA01AB1234" {
		t.Fatalf("expected normalized lorry number, got %v", data["lorry"])
	}
	if data["token"] != float64(1) {
		t.Fatalf("expected first token, got %v", data["token"])
	}
	if data["status"] != "IN" {
		t.Fatalf("expected IN status, got %v", data["status"])
	}
}

func TestCreateRecordRejectsDuplicateActiveVehicle(t *testing.T) {
	handler := newTestHandler(t)

	first := performRequest(t, handler, http.MethodPost, "/api/records", gin.H{"lorry": "KA01AB1234"}, nil)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}

	second := performRequest(t, handler, http.MethodPost, "/api/records", gin.H{"lorry": "ka01ab1234"}, nil)
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 for active duplicate, got %d: %s", second.Code, second.Body.String())
	}
	payload := decodeEnvelope(t, second)
	if payload["ok"] != false {
		t.Fatalf("expected error envelope, got %v", payload)
	}
}

func TestProcessExitWithEmptyBody(t *testing.T) {
	handler := newTestHandler(t)

	created := performRequest(t, handler, http.MethodPost, "/api/records", gin.H{"lorry": "KA01AB1234"}, nil)
	data := decodeEnvelope(t, created)["data"].(map[string]any)
	id := data["id"].(string)

	exited := performRequest(t, handler, http.MethodPatch, "/api/records/"+id+"/exit", nil, nil)
	if exited.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", exited.Code, exited.Body.String())
	}
	exitData := decodeEnvelope(t, exited)["data"].(map[string]any)
	if exitData["status"] != "OUT" {
		t.Fatalf("expected OUT status, got %v", exitData["status"])
	}
	if exitData["days"] != float64(1) {
		t.Fatalf("expected one billed day for same-moment exit, got %v", exitData["days"])
	}
	if exitData["amount"] != float64(120) {
		t.Fatalf("expected default-rate amount, got %v", exitData["amount"])
	}

	again := performRequest(t, handler, http.MethodPatch, "/api/records/"+id+"/exit", nil, nil)
	if again.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second exit, got %d", again.Code)
	}
}

func TestExitUnknownRecord(t *testing.T) {
	handler := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodPatch, "/api/records/missing/exit", nil, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	handler := newTestHandler(t)

	updated := performRequest(t, handler, http.MethodPost, "/api/settings", gin.H{"daily_rate": 150.0}, nil)
	if updated.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", updated.Code, updated.Body.String())
	}

	fetched := performRequest(t, handler, http.MethodGet, "/api/settings", nil, nil)
	data := decodeEnvelope(t, fetched)["data"].(map[string]any)
	if data["daily_rate"] != float64(150) {
		t.Fatalf("expected updated rate, got %v", data["daily_rate"])
	}
}

func TestSetSettingsRejectsRateBelowOne(t *testing.T) {
	handler := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodPost, "/api/settings", gin.H{"daily_rate": 0.5}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestDeleteAllRequiresConfirmation(t *testing.T) {
	handler := newTestHandler(t)
	performRequest(t, handler, http.MethodPost, "/api/records", gin.H{"lorry": "KA01AB1234"}, nil)

	unconfirmed := performRequest(t, handler, http.MethodDelete, "/api/records", gin.H{}, nil)
	if unconfirmed.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirmation, got %d", unconfirmed.Code)
	}

	listed := performRequest(t, handler, http.MethodGet, "/api/records", nil, nil)
	if total := decodeEnvelope(t, listed)["total"]; total != float64(1) {
		t.Fatalf("unconfirmed delete must not touch records, got total %v", total)
	}

	confirmed := performRequest(t, handler, http.MethodDelete, "/api/records", gin.H{"confirm": "DELETE_ALL"}, nil)
	if confirmed.Code != http.StatusOK {
		t.Fatalf("expected 200 with confirmation, got %d", confirmed.Code)
	}

	listed = performRequest(t, handler, http.MethodGet, "/api/records", nil, nil)
	if total := decodeEnvelope(t, listed)["total"]; total != float64(0) {
		t.Fatalf("expected empty collection, got total %v", total)
	}
}

func TestListRecordsFilters(t *testing.T) {
	handler := newTestHandler(t)

	created := performRequest(t, handler, http.MethodPost, "/api/records", gin.H{"lorry": "KA01AB1234", "driver": "Ravi"}, nil)
	id := decodeEnvelope(t, created)["data"].(map[string]any)["id"].(string)
	performRequest(t, handler, http.MethodPost, "/api/records", gin.H{"lorry": "TN22CD5678", "driver": "Suresh"}, nil)
	performRequest(t, handler, http.MethodPatch, "/api/records/"+id+"/exit", nil, nil)

	parked := performRequest(t, handler, http.MethodGet, "/api/records?status=in", nil, nil)
	payload := decodeEnvelope(t, parked)
	if payload["total"] != float64(1) {
		t.Fatalf("expected one parked record, got %v", payload["total"])
	}

	searched := performRequest(t, handler, http.MethodGet, "/api/records?q=ravi", nil, nil)
	payload = decodeEnvelope(t, searched)
	if payload["total"] != float64(1) {
		t.Fatalf("expected driver search hit, got %v", payload["total"])
	}
}

func TestPrintAuthRejectsWrongSecret(t *testing.T) {
	handler := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodPost, "/api/print-auth", gin.H{
		"secret":   "wrong",
		"agent_id": "agent-1",
	}, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestPrintQueueRequiresBearerToken(t *testing.T) {
	handler := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodGet, "/api/print-queue/pending", nil, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", recorder.Code)
	}
}

func TestPrintAuthAndQueueFlow(t *testing.T) {
	handler := newTestHandler(t)

	authed := performRequest(t, handler, http.MethodPost, "/api/print-auth", gin.H{
		"secret":   testPrintSecret,
		"agent_id": "agent-1",
	}, nil)
	if authed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", authed.Code, authed.Body.String())
	}
	authData := decodeEnvelope(t, authed)["data"].(map[string]any)
	token, _ := authData["access_token"].(string)
	if token == "" {
		t.Fatalf("expected an access token, got %v", authData)
	}
	if authData["token_type"] != "Bearer" {
		t.Fatalf("expected Bearer token type, got %v", authData["token_type"])
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}

	enqueued := performRequest(t, handler, http.MethodPost, "/api/print-queue", gin.H{
		"type":  "entry",
		"token": 1,
	}, bearer)
	if enqueued.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", enqueued.Code, enqueued.Body.String())
	}
	jobID := decodeEnvelope(t, enqueued)["data"].(map[string]any)["job_id"].(string)

	pending := performRequest(t, handler, http.MethodGet, "/api/print-queue/pending", nil, bearer)
	if pending.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", pending.Code)
	}
	jobs, ok := decodeEnvelope(t, pending)["data"].([]any)
	if !ok || len(jobs) != 1 {
		t.Fatalf("expected one pending job, got %s", pending.Body.String())
	}

	acked := performRequest(t, handler, http.MethodPatch, "/api/print-queue/"+jobID+"/ack", nil, bearer)
	if acked.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", acked.Code, acked.Body.String())
	}

	pending = performRequest(t, handler, http.MethodGet, "/api/print-queue/pending", nil, bearer)
	jobs, _ = decodeEnvelope(t, pending)["data"].([]any)
	if len(jobs) != 0 {
		t.Fatalf("expected empty pending set after ack, got %d", len(jobs))
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodGet, "/api/health", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	data := decodeEnvelope(t, recorder)["data"].(map[string]any)
	if data["db"] != "test.db" {
		t.Fatalf("expected database path in health payload, got %v", data["db"])
	}
}
