package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/coursard/messaging/internal/model"
	"github.com/coursard/messaging/internal/repo"
	"github.com/coursard/messaging/internal/scheduler"
	"github.com/coursard/messaging/internal/service"
)

type Handler struct {
	sched       *scheduler.Scheduler
	dispatcher  *service.Dispatcher
	store       repo.ScheduledMessageRepository
	inbox       repo.InboxEventRepository
	verifyToken string
	now         func() time.Time
}

func NewHandler(
	s *scheduler.Scheduler,
	d *service.Dispatcher,
	store repo.ScheduledMessageRepository,
	inbox repo.InboxEventRepository,
	verifyToken string,
) *Handler {
	return &Handler{
		sched:       s,
		dispatcher:  d,
		store:       store,
		inbox:       inbox,
		verifyToken: verifyToken,
		now:         time.Now,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// DispatchRun is the external trigger: it runs one dispatch batch and always
// answers 200 with the aggregate counts when the batch itself ran, reserving
// error responses for infrastructure failures.
func (h *Handler) DispatchRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dispatcher.Run(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type createMessageRequest struct {
	Recipients  model.StringList     `json:"recipients"`
	Body        string               `json:"body"`
	Template    *model.Template      `json:"template,omitempty"`
	ScheduledAt time.Time            `json:"scheduledAt"`
	IsRecurring bool                 `json:"isRecurring"`
	Recurrence  model.RecurrenceRule `json:"recurrence"`
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.Recipients) == 0 {
		http.Error(w, "recipients must not be empty", http.StatusBadRequest)
		return
	}
	if req.ScheduledAt.IsZero() {
		http.Error(w, "scheduledAt is required", http.StatusBadRequest)
		return
	}
	if req.Body == "" && (req.Template == nil || req.Template.Name == "") {
		http.Error(w, "either body or template is required", http.StatusBadRequest)
		return
	}

	now := h.now().UTC()
	m := &model.ScheduledMessage{
		ID:          uuid.NewString(),
		Recipients:  req.Recipients,
		Body:        req.Body,
		Template:    req.Template,
		ScheduledAt: req.ScheduledAt.UTC(),
		Status:      model.Pending,
		IsRecurring: req.IsRecurring,
		Recurrence:  req.Recurrence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.Create(r.Context(), m); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": m.ID})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req service.AdHocMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Recipients) == 0 {
		http.Error(w, "recipients must not be empty", http.StatusBadRequest)
		return
	}

	ids, err := h.dispatcher.Send(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providerMessageIds": ids})
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.store.ListSent(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

// WebhookVerify answers the provider's subscription handshake by echoing the
// challenge when the verify token matches.
func (h *Handler) WebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []webhookMessage `json:"messages"`
				Statuses []webhookStatus  `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

type webhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// WebhookEvent appends every inbound message and delivery status in the
// payload to the event log; that is all the session-window tracking needs.
// Append failures are logged but the response stays 200 so the provider does
// not redeliver forever.
func (h *Handler) WebhookEvent(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			to := change.Value.Metadata.DisplayPhoneNumber

			for _, msg := range change.Value.Messages {
				raw, _ := json.Marshal(msg)
				ev := &model.InboxEvent{
					ID:        uuid.NewString(),
					Direction: model.DirectionInbound,
					Timestamp: h.parseTimestamp(msg.Timestamp),
					From:      msg.From,
					To:        to,
					Type:      inboundEventType(msg.Type),
					Text:      msg.Text.Body,
					Raw:       raw,
				}
				if err := h.inbox.Append(r.Context(), ev); err != nil {
					slog.Error("append inbound event", "from", msg.From, "error", err)
				}
			}

			for _, st := range change.Value.Statuses {
				raw, _ := json.Marshal(st)
				ev := &model.InboxEvent{
					ID:        uuid.NewString(),
					Direction: model.DirectionStatus,
					Timestamp: h.parseTimestamp(st.Timestamp),
					From:      st.RecipientID,
					To:        to,
					Type:      model.EventStatus,
					Text:      st.Status,
					Raw:       raw,
				}
				if err := h.inbox.Append(r.Context(), ev); err != nil {
					slog.Error("append status event", "recipient", st.RecipientID, "error", err)
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// parseTimestamp decodes the provider's unix-seconds string; the receive time
// stands in when it is absent or malformed.
func (h *Handler) parseTimestamp(ts string) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sec <= 0 {
		return h.now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}

func inboundEventType(t string) model.EventType {
	switch t {
	case "", "text":
		return model.EventText
	case "image", "video", "audio", "document", "sticker":
		return model.EventMedia
	default:
		return model.EventType(t)
	}
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
