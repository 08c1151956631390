// Package client talks to the WhatsApp Cloud API (Graph-style messages
// endpoint) over plain net/http.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const messagingProduct = "whatsapp"

// APIError is a structured provider rejection: the human message plus the
// Graph error code. Callers branch on it to drive the fallback cascade.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error %d: %s", e.Code, e.Message)
}

type WhatsAppClient struct {
	baseURL       string
	phoneNumberID string
	token         string
	client        *http.Client
}

func NewWhatsAppClient(baseURL, phoneNumberID, token string) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL:       baseURL,
		phoneNumberID: phoneNumberID,
		token:         token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type languageCode struct {
	Code string `json:"code"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   languageCode        `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type textBody struct {
	Body string `json:"body"`
}

type messageContext struct {
	MessageID string `json:"message_id"`
}

type textRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             textBody        `json:"text"`
	Context          *messageContext `json:"context,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendTemplate sends a pre-approved template message and returns the provider
// assigned message id. variables fill the body component in order.
func (c *WhatsAppClient) SendTemplate(ctx context.Context, to, name, language string, variables []string) (string, error) {
	req := templateRequest{
		MessagingProduct: messagingProduct,
		To:               to,
		Type:             "template",
		Template: templateBody{
			Name:     name,
			Language: languageCode{Code: language},
		},
	}
	if len(variables) > 0 {
		params := make([]templateParameter, 0, len(variables))
		for _, v := range variables {
			params = append(params, templateParameter{Type: "text", Text: v})
		}
		req.Template.Components = []templateComponent{{Type: "body", Parameters: params}}
	}
	return c.post(ctx, req)
}

// SendText sends a free-text message. contextMessageID, when non-empty, is
// threaded onto the payload so the text rides the session a preceding template
// message just opened.
func (c *WhatsAppClient) SendText(ctx context.Context, to, body, contextMessageID string) (string, error) {
	req := textRequest{
		MessagingProduct: messagingProduct,
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	}
	if contextMessageID != "" {
		req.Context = &messageContext{MessageID: contextMessageID}
	}
	return c.post(ctx, req)
}

func (c *WhatsAppClient) post(ctx context.Context, payload any) (string, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := c.baseURL + "/" + c.phoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResponse
		if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
			return "", &APIError{Code: er.Error.Code, Message: er.Error.Message}
		}
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return "", fmt.Errorf("missing message id in response body=%q", string(body))
	}

	return sr.Messages[0].ID, nil
}
