package api_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursard/messaging/internal/api"
	"github.com/coursard/messaging/internal/model"
	"github.com/coursard/messaging/internal/protocol"
	"github.com/coursard/messaging/internal/repo"
	"github.com/coursard/messaging/internal/scheduler"
	"github.com/coursard/messaging/internal/service"
)

const testToken = "trigger-secret"

type fakeStore struct {
	mu       sync.Mutex
	created  []*model.ScheduledMessage
	due      []model.ScheduledMessage
	claims   int
	sent     []model.ScheduledMessage
	claimErr error
}

var _ repo.ScheduledMessageRepository = (*fakeStore)(nil)

func (f *fakeStore) Create(ctx context.Context, m *model.ScheduledMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.created = append(f.created, &cp)
	return nil
}

func (f *fakeStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.due, nil
}

func (f *fakeStore) MarkSent(ctx context.Context, id string, sentAt time.Time) error { return nil }

func (f *fakeStore) MarkFailed(ctx context.Context, id, errMsg string) error { return nil }

func (f *fakeStore) TouchLastOccurrence(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (f *fakeStore) ListSent(ctx context.Context, limit, offset int) ([]model.ScheduledMessage, error) {
	return f.sent, nil
}

func (f *fakeStore) claimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims
}

type fakeInbox struct {
	mu     sync.Mutex
	events []model.InboxEvent
}

var _ repo.InboxEventRepository = (*fakeInbox)(nil)

func (f *fakeInbox) Append(ctx context.Context, ev *model.InboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeInbox) MostRecentInbound(ctx context.Context, from string) (*model.InboxEvent, error) {
	return nil, nil
}

type fakeProto struct {
	mu    sync.Mutex
	sends []string
	fail  map[string]error
	next  int
}

var _ service.DeliveryProtocol = (*fakeProto)(nil)

func (f *fakeProto) Send(ctx context.Context, to string, msg protocol.Message) (*protocol.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to)
	if err := f.fail[to]; err != nil {
		return nil, err
	}
	f.next++
	return &protocol.Result{MessageIDs: []string{fmt.Sprintf("wamid.%d", f.next)}, Attempt: "text"}, nil
}

type testEnv struct {
	store   *fakeStore
	inbox   *fakeInbox
	proto   *fakeProto
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := &fakeStore{}
	inbox := &fakeInbox{}
	proto := &fakeProto{fail: map[string]error{}}

	s, err := scheduler.New(time.Hour, 0, func(context.Context) {})
	require.NoError(t, err)
	t.Cleanup(func() { s.Stop() })

	d := service.NewDispatcher(store, proto, 10, 1)
	h := api.NewHandler(s, d, store, inbox, "verify-me")

	return &testEnv{
		store:   store,
		inbox:   inbox,
		proto:   proto,
		handler: api.Router(h, testToken),
	}
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestDispatchRun_RejectsMissingOrWrongToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rr := do(t, env.handler, http.MethodPost, "/v1/dispatch/run", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, env.handler, http.MethodPost, "/v1/dispatch/run", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// An unauthorized call must not read or mutate any record.
	assert.Zero(t, env.store.claimCount())
}

func TestDispatchRun_ReturnsCountsWithPartialFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.store.due = []model.ScheduledMessage{
		{ID: "m-1", Recipients: model.StringList{"+361"}, Body: "a", Status: model.Processing},
		{ID: "m-2", Recipients: model.StringList{"+362"}, Body: "b", Status: model.Processing},
		{ID: "m-3", Recipients: model.StringList{"+363"}, Body: "c", Status: model.Processing},
	}
	env.proto.fail["+362"] = errors.New("provider rejected")

	rr := do(t, env.handler, http.MethodPost, "/v1/dispatch/run", testToken, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.JSONEq(t, `{"processed":3,"succeeded":2,"failed":1}`, rr.Body.String())
}

func TestDispatchRun_InfrastructureFailureIs500(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.store.claimErr = errors.New("store unreachable")

	rr := do(t, env.handler, http.MethodPost, "/v1/dispatch/run", testToken, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCreateMessage_StoresPendingRecord(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	body := `{
		"recipients": ["+361234567"],
		"body": "lecture starts soon",
		"scheduledAt": "2025-06-02T12:00:00Z",
		"isRecurring": true,
		"recurrence": {"kind": "daily"}
	}`

	rr := do(t, env.handler, http.MethodPost, "/v1/messages", testToken, body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Len(t, env.store.created, 1)
	created := env.store.created[0]

	assert.NotEmpty(t, created.ID)
	assert.Contains(t, rr.Body.String(), created.ID)
	assert.Equal(t, model.Pending, created.Status)
	assert.Equal(t, model.StringList{"+361234567"}, created.Recipients)
	assert.True(t, created.IsRecurring)
	assert.Equal(t, model.RuleDaily, created.Recurrence.Kind)
	assert.Nil(t, created.ParentID)
}

func TestCreateMessage_AcceptsStringEncodedRecipients(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	body := `{
		"recipients": "[\"+361\",\"+362\"]",
		"body": "hi",
		"scheduledAt": "2025-06-02T12:00:00Z"
	}`

	rr := do(t, env.handler, http.MethodPost, "/v1/messages", testToken, body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Len(t, env.store.created, 1)
	assert.Equal(t, model.StringList{"+361", "+362"}, env.store.created[0].Recipients)
}

func TestCreateMessage_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"empty recipients", `{"recipients":[],"body":"x","scheduledAt":"2025-06-02T12:00:00Z"}`},
		{"missing scheduledAt", `{"recipients":["+361"],"body":"x"}`},
		{"no body and no template", `{"recipients":["+361"],"scheduledAt":"2025-06-02T12:00:00Z"}`},
		{"garbage json", `{nope`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			rr := do(t, env.handler, http.MethodPost, "/v1/messages", testToken, tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, env.store.created)
		})
	}
}

func TestSendMessage_AdHoc(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rr := do(t, env.handler, http.MethodPost, "/v1/messages/send", testToken,
		`{"recipients":["+361","+362"],"body":"one-off"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, []string{"+361", "+362"}, env.proto.sends)
	assert.Empty(t, env.store.created, "ad-hoc send must not touch the scheduled store")
	assert.Contains(t, rr.Body.String(), "providerMessageIds")
}

func TestSendMessage_DeliveryFailureIs502(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.proto.fail["+361"] = errors.New("cascade exhausted")

	rr := do(t, env.handler, http.MethodPost, "/v1/messages/send", testToken,
		`{"recipients":["+361"],"body":"x"}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestListSentMessages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.store.sent = []model.ScheduledMessage{{ID: "m-1", Status: model.Sent}}

	rr := do(t, env.handler, http.MethodGet, "/v1/messages/sent?limit=5", testToken, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"m-1"`)
}

func TestSchedulerEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rr := do(t, env.handler, http.MethodGet, "/v1/scheduler/status", testToken, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"running":false}`, rr.Body.String())

	rr = do(t, env.handler, http.MethodPost, "/v1/scheduler/start", testToken, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"running":true}`, rr.Body.String())

	rr = do(t, env.handler, http.MethodPost, "/v1/scheduler/stop", testToken, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"running":false}`, rr.Body.String())
}

func TestWebhookVerify(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rr := do(t, env.handler, http.MethodGet,
		"/v1/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42abc", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "42abc", rr.Body.String())

	rr = do(t, env.handler, http.MethodGet,
		"/v1/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42abc", "", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestWebhookEvent_AppendsInboundAndStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	body := `{
		"entry": [{
			"changes": [{
				"value": {
					"metadata": {"display_phone_number": "15550001234", "phone_number_id": "1555000"},
					"messages": [{
						"id": "wamid.in1",
						"from": "+361234567",
						"timestamp": "1748865600",
						"type": "text",
						"text": {"body": "when is the next class?"}
					}],
					"statuses": [{
						"id": "wamid.out1",
						"status": "delivered",
						"timestamp": "1748865601",
						"recipient_id": "+369876543"
					}]
				}
			}]
		}]
	}`

	rr := do(t, env.handler, http.MethodPost, "/v1/webhook", "", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Len(t, env.inbox.events, 2)

	in := env.inbox.events[0]
	assert.Equal(t, model.DirectionInbound, in.Direction)
	assert.Equal(t, "+361234567", in.From)
	assert.Equal(t, "15550001234", in.To)
	assert.Equal(t, model.EventText, in.Type)
	assert.Equal(t, "when is the next class?", in.Text)
	assert.Equal(t, time.Unix(1748865600, 0).UTC(), in.Timestamp)

	st := env.inbox.events[1]
	assert.Equal(t, model.DirectionStatus, st.Direction)
	assert.Equal(t, "+369876543", st.From)
	assert.Equal(t, "delivered", st.Text)
}

func TestWebhookEvent_MediaTypeClassification(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	body := `{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"id": "wamid.in2",
						"from": "+361",
						"timestamp": "not-a-number",
						"type": "image"
					}]
				}
			}]
		}]
	}`

	rr := do(t, env.handler, http.MethodPost, "/v1/webhook", "", body)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, env.inbox.events, 1)
	ev := env.inbox.events[0]
	assert.Equal(t, model.EventMedia, ev.Type)
	assert.WithinDuration(t, time.Now().UTC(), ev.Timestamp, time.Minute)
}

func TestHealth_NoAuthRequired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rr := do(t, env.handler, http.MethodGet, "/v1/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
}
