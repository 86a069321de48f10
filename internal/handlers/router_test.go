package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shiftwatch/fieldagent/internal/api"
	"github.com/shiftwatch/fieldagent/internal/models"
	"github.com/shiftwatch/fieldagent/internal/push"
	"github.com/shiftwatch/fieldagent/internal/store"
	"github.com/shiftwatch/fieldagent/internal/syncer"
)

type stubReports struct {
	created   []models.ReportPayload
	createErr error
	queued    []string
	queueErr  error
	pending   []models.QueuedReport
}

func (s *stubReports) CreateDraft(payload models.ReportPayload) (*models.QueuedReport, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, payload)
	return models.NewQueuedReport(payload)
}

type stubSubmitter struct {
	submitted []models.QueuedReport
	err       error
}

func (s *stubSubmitter) SubmitReport(ctx context.Context, report *models.QueuedReport) error {
	if s.err != nil {
		return s.err
	}
	s.submitted = append(s.submitted, *report)
	return nil
}

func (s *stubReports) QueueForSync(id string) error {
	if s.queueErr != nil {
		return s.queueErr
	}
	s.queued = append(s.queued, id)
	return nil
}

func (s *stubReports) Pending() ([]models.QueuedReport, error) { return s.pending, nil }

type stubContacts struct {
	contacts   []models.EmergencyContact
	defaultErr error
}

func (s *stubContacts) GetAll() ([]models.EmergencyContact, error) { return s.contacts, nil }

func (s *stubContacts) GetDefault() (*models.EmergencyContact, error) {
	if s.defaultErr != nil {
		return nil, s.defaultErr
	}
	for i := range s.contacts {
		if s.contacts[i].IsDefault {
			return &s.contacts[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubContacts) Info() (models.CacheInfo, error) {
	return models.CacheInfo{Count: len(s.contacts)}, nil
}

type stubMessages struct {
	messages    []models.StoredMessage
	unread      int64
	markReadErr error
	markedRead  []string
	markedAll   bool
}

func (s *stubMessages) GetAll() ([]models.StoredMessage, error) { return s.messages, nil }
func (s *stubMessages) UnreadCount() (int64, error)             { return s.unread, nil }

func (s *stubMessages) MarkRead(id string) error {
	if s.markReadErr != nil {
		return s.markReadErr
	}
	s.markedRead = append(s.markedRead, id)
	return nil
}

func (s *stubMessages) MarkAllRead() error {
	s.markedAll = true
	return nil
}

type stubPush struct {
	sub          *models.PushSubscription
	subscribeErr error
	status       models.PushStatus
}

func (s *stubPush) Subscribe(ctx context.Context) (*models.PushSubscription, error) {
	return s.sub, s.subscribeErr
}
func (s *stubPush) Unsubscribe(ctx context.Context) error { return nil }
func (s *stubPush) Status() models.PushStatus             { return s.status }

type stubSync struct {
	state     syncer.NetworkState
	requested int
	result    syncer.SyncResult
}

func (s *stubSync) State() syncer.NetworkState { return s.state }
func (s *stubSync) RequestSync()               { s.requested++ }
func (s *stubSync) SyncAll(ctx context.Context) syncer.SyncResult {
	return s.result
}

func testRouter() (*Router, *stubReports, *stubMessages, *stubPush, *stubSync) {
	reports := &stubReports{}
	messages := &stubMessages{}
	pushSvc := &stubPush{}
	syncSvc := &stubSync{}
	rt := NewRouter(reports, &stubSubmitter{}, &stubContacts{}, messages, pushSvc, syncSvc, nil)
	return rt, reports, messages, pushSvc, syncSvc
}

func doRequest(rt *Router, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	return rec
}

func TestCreateReport(t *testing.T) {
	rt, reports, _, _, _ := testRouter()

	rec := doRequest(rt, http.MethodPost, "/api/reports", `{"severity":2,"message":"hole in walkway"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if len(reports.created) != 1 || reports.created[0].Message != "hole in walkway" {
		t.Errorf("Payload not passed through: %v", reports.created)
	}

	var created models.QueuedReport
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if created.Status != models.ReportStatusDraft {
		t.Errorf("Expected draft, got %s", created.Status)
	}
}

func TestCreateReport_Validation(t *testing.T) {
	rt, _, _, _, _ := testRouter()

	for _, body := range []string{`{"severity":1}`, `not json`} {
		rec := doRequest(rt, http.MethodPost, "/api/reports", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCreateReport_StorageDownSubmitsDirectly(t *testing.T) {
	reports := &stubReports{createErr: store.ErrStorageUnavailable}
	submitter := &stubSubmitter{}
	rt := NewRouter(reports, submitter, &stubContacts{}, &stubMessages{}, &stubPush{}, &stubSync{}, nil)

	rec := doRequest(rt, http.MethodPost, "/api/reports", `{"severity":3,"message":"gas smell"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201 via direct submission, got %d: %s", rec.Code, rec.Body)
	}
	if len(submitter.submitted) != 1 {
		t.Fatalf("Expected one direct submission, got %d", len(submitter.submitted))
	}
	if submitter.submitted[0].Message != "gas smell" {
		t.Errorf("Wrong report submitted: %+v", submitter.submitted[0])
	}

	var created models.QueuedReport
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if created.Status != models.ReportStatusSynced {
		t.Errorf("Direct submission must report synced, got %s", created.Status)
	}
}

func TestCreateReport_StorageDownAndOffline(t *testing.T) {
	reports := &stubReports{createErr: store.ErrStorageUnavailable}
	submitter := &stubSubmitter{err: api.ErrNetworkUnreachable}
	rt := NewRouter(reports, submitter, &stubContacts{}, &stubMessages{}, &stubPush{}, &stubSync{}, nil)

	rec := doRequest(rt, http.MethodPost, "/api/reports", `{"severity":3,"message":"gas smell"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 when both storage and network are down, got %d", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != "network_unreachable" {
		t.Errorf("Expected network_unreachable code, got %q", body["code"])
	}
}

func TestQueueReport_NudgesOrchestrator(t *testing.T) {
	rt, reports, _, _, syncSvc := testRouter()

	rec := doRequest(rt, http.MethodPost, "/api/reports/r-123/queue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if len(reports.queued) != 1 || reports.queued[0] != "r-123" {
		t.Errorf("Report not queued: %v", reports.queued)
	}
	if syncSvc.requested != 1 {
		t.Errorf("Expected one sync nudge, got %d", syncSvc.requested)
	}
}

func TestQueueReport_InvalidTransition(t *testing.T) {
	rt, reports, _, _, syncSvc := testRouter()
	reports.queueErr = store.ErrInvalidTransition

	rec := doRequest(rt, http.MethodPost, "/api/reports/r-123/queue", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != "invalid_transition" {
		t.Errorf("Expected invalid_transition code, got %q", body["code"])
	}
	if syncSvc.requested != 0 {
		t.Error("Failed queueing must not nudge the orchestrator")
	}
}

func TestMarkMessageRead_NotFound(t *testing.T) {
	rt, _, messages, _, _ := testRouter()
	messages.markReadErr = store.ErrNotFound

	rec := doRequest(rt, http.MethodPost, "/api/messages/m-1/read", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrNotFound, http.StatusNotFound, "not_found"},
		{store.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{store.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
		{push.ErrUnsupported, http.StatusNotImplemented, "push_unsupported"},
		{push.ErrPermissionDenied, http.StatusForbidden, "push_permission_denied"},
		{push.ErrNotSubscribed, http.StatusConflict, "push_not_subscribed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		if rec.Code != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		var body map[string]string
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["code"] != tc.code {
			t.Errorf("%v: expected code %q, got %q", tc.err, tc.code, body["code"])
		}
	}
}

func TestSubscribePush_PartialSuccess(t *testing.T) {
	rt, _, _, pushSvc, _ := testRouter()
	pushSvc.sub = &models.PushSubscription{Endpoint: "wss://gw/sub/1"}
	pushSvc.subscribeErr = push.ErrServerRegistrationFailed

	rec := doRequest(rt, http.MethodPost, "/api/push/subscribe", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 for partial success, got %d", rec.Code)
	}

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["subscription"] == nil {
		t.Error("Partial success must include the descriptor")
	}
	if body["code"] != "push_server_registration_failed" {
		t.Errorf("Unexpected code %v", body["code"])
	}
}

func TestSubscribePush_HardFailure(t *testing.T) {
	rt, _, _, pushSvc, _ := testRouter()
	pushSvc.subscribeErr = push.ErrPermissionDenied

	rec := doRequest(rt, http.MethodPost, "/api/push/subscribe", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

func TestTriggerSync(t *testing.T) {
	rt, _, _, _, syncSvc := testRouter()
	syncSvc.result = syncer.SyncResult{Success: true, ReportsDelivered: 2}

	// Fire-and-forget by default
	rec := doRequest(rt, http.MethodPost, "/api/sync/trigger", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", rec.Code)
	}
	if syncSvc.requested != 1 {
		t.Errorf("Expected one request, got %d", syncSvc.requested)
	}

	// Inline with ?wait=true
	rec = doRequest(rt, http.MethodPost, "/api/sync/trigger?wait=true", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	var result syncer.SyncResult
	json.Unmarshal(rec.Body.Bytes(), &result)
	if !result.Success || result.ReportsDelivered != 2 {
		t.Errorf("Expected the full result, got %+v", result)
	}
}

func TestHealth(t *testing.T) {
	rt, _, _, _, _ := testRouter()
	rec := doRequest(rt, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}
