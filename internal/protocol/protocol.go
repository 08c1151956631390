// Package protocol decides and executes the concrete wire sends for one
// message to one recipient, navigating the provider's 24-hour session window
// through an ordered fallback cascade.
package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coursard/messaging/internal/model"
	"github.com/coursard/messaging/internal/repo"
	"github.com/coursard/messaging/internal/session"
)

// FallbackLanguage is retried before giving up on a template entirely.
const FallbackLanguage = "en_US"

// WireClient is the provider network surface the protocol drives.
type WireClient interface {
	SendText(ctx context.Context, to, body, contextMessageID string) (string, error)
	SendTemplate(ctx context.Context, to, name, language string, variables []string) (string, error)
}

// Message is what the caller wants delivered. A non-nil Template forces
// template delivery; otherwise Body goes out as free text.
type Message struct {
	Body     string
	Template *model.Template
}

// Result reports a completed delivery: the provider ids of every message that
// actually crossed the wire (in order) and which strategy won.
type Result struct {
	MessageIDs []string
	Attempt    string
}

type Config struct {
	// Sender is our own channel address, recorded as the from of outbound events.
	Sender string

	// WelcomeTemplate opens a closed session ahead of a free-text send.
	WelcomeTemplate string

	// FallbackTemplate is the last-resort template when the requested one
	// (or the welcome opener) is rejected.
	FallbackTemplate string

	// DefaultLanguage is used when the caller supplies none.
	DefaultLanguage string
}

type Protocol struct {
	wire   WireClient
	window *session.Tracker
	inbox  repo.InboxEventRepository
	cfg    Config
	now    func() time.Time
}

func New(wire WireClient, window *session.Tracker, inbox repo.InboxEventRepository, cfg Config) *Protocol {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = FallbackLanguage
	}
	return &Protocol{
		wire:   wire,
		window: window,
		inbox:  inbox,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithClock overrides the clock. Tests only.
func (p *Protocol) WithClock(now func() time.Time) *Protocol {
	p.now = now
	return p
}

// Send delivers msg to one recipient, picking the template or free-text
// strategy and walking its fallback cascade. One outbound event is appended
// per message transmitted, never per attempt. The returned error is the last
// cascade failure once every stage is exhausted.
func (p *Protocol) Send(ctx context.Context, to string, msg Message) (*Result, error) {
	if msg.Template != nil && msg.Template.Name != "" {
		return p.sendForcedTemplate(ctx, to, msg.Template)
	}
	return p.sendText(ctx, to, msg.Body)
}

func (p *Protocol) sendForcedTemplate(ctx context.Context, to string, tpl *model.Template) (*Result, error) {
	lang := tpl.Language
	if lang == "" {
		lang = p.cfg.DefaultLanguage
	}
	vars := []string(tpl.Variables)

	id, attempt, err := p.firstSuccess(ctx, to, []sendAttempt{
		{
			name: "template:" + lang,
			send: func(ctx context.Context) (string, error) {
				return p.wire.SendTemplate(ctx, to, tpl.Name, lang, vars)
			},
		},
		{
			name: "template:" + FallbackLanguage,
			send: func(ctx context.Context) (string, error) {
				return p.wire.SendTemplate(ctx, to, tpl.Name, FallbackLanguage, vars)
			},
		},
		{
			name: "template:fallback",
			send: func(ctx context.Context) (string, error) {
				return p.wire.SendTemplate(ctx, to, p.cfg.FallbackTemplate, FallbackLanguage, nil)
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("template cascade exhausted for %s: %w", to, err)
	}

	p.logOutbound(ctx, to, model.EventTemplate, tpl.Name, id)
	return &Result{MessageIDs: []string{id}, Attempt: attempt}, nil
}

func (p *Protocol) sendText(ctx context.Context, to, body string) (*Result, error) {
	open, err := p.window.IsOpen(ctx, to, p.now())
	if err != nil {
		return nil, fmt.Errorf("session window lookup for %s: %w", to, err)
	}

	if open {
		id, err := p.wire.SendText(ctx, to, body, "")
		if err != nil {
			return nil, err
		}
		p.logOutbound(ctx, to, model.EventText, body, id)
		return &Result{MessageIDs: []string{id}, Attempt: "text"}, nil
	}

	// Closed window: open it with a template first, then thread the text
	// onto the opener's message id.
	openerID, openerAttempt, openerErr := p.firstSuccess(ctx, to, []sendAttempt{
		{
			name: "opener:" + p.cfg.WelcomeTemplate,
			send: func(ctx context.Context) (string, error) {
				return p.wire.SendTemplate(ctx, to, p.cfg.WelcomeTemplate, p.cfg.DefaultLanguage, nil)
			},
		},
		{
			name: "opener:fallback",
			send: func(ctx context.Context) (string, error) {
				return p.wire.SendTemplate(ctx, to, p.cfg.FallbackTemplate, FallbackLanguage, nil)
			},
		},
	})
	if openerErr != nil {
		// No opener went through; try the bare text anyway.
		id, err := p.wire.SendText(ctx, to, body, "")
		if err != nil {
			return nil, fmt.Errorf("window opener exhausted and text send failed for %s: %w", to, err)
		}
		p.logOutbound(ctx, to, model.EventText, body, id)
		return &Result{MessageIDs: []string{id}, Attempt: "text:best-effort"}, nil
	}

	p.logOutbound(ctx, to, model.EventTemplate, p.cfg.WelcomeTemplate, openerID)

	id, err := p.wire.SendText(ctx, to, body, openerID)
	if err != nil {
		return nil, fmt.Errorf("text send after window open for %s: %w", to, err)
	}
	p.logOutbound(ctx, to, model.EventText, body, id)

	return &Result{MessageIDs: []string{openerID, id}, Attempt: openerAttempt + "+text"}, nil
}

type sendAttempt struct {
	name string
	send func(ctx context.Context) (string, error)
}

// firstSuccess walks attempts in order and returns the first provider id won,
// together with the winning attempt's name. The last failure comes back once
// every attempt is spent.
func (p *Protocol) firstSuccess(ctx context.Context, to string, attempts []sendAttempt) (string, string, error) {
	var lastErr error
	for _, a := range attempts {
		id, err := a.send(ctx)
		if err == nil {
			return id, a.name, nil
		}
		slog.Warn("delivery attempt failed",
			"to", to,
			"attempt", a.name,
			"error", err,
		)
		lastErr = err
	}
	return "", "", lastErr
}

// logOutbound appends one event for a message that actually hit the wire.
// Append failures are logged, not propagated: the message is already out.
func (p *Protocol) logOutbound(ctx context.Context, to string, evType model.EventType, text, providerID string) {
	ev := &model.InboxEvent{
		ID:        uuid.NewString(),
		Direction: model.DirectionOutbound,
		Timestamp: p.now(),
		From:      p.cfg.Sender,
		To:        to,
		Type:      evType,
		Text:      text,
		Raw:       []byte(fmt.Sprintf(`{"message_id":%q}`, providerID)),
	}
	if err := p.inbox.Append(ctx, ev); err != nil {
		slog.Error("append outbound event", "to", to, "provider_id", providerID, "error", err)
	}
}
