package http

import (
	"encoding/json"
	"html/template"
	"net/http"
)

// Notification durations in milliseconds.
const (
	successDurationMs = 3000
	errorDurationMs   = 5000
)

const (
	eventNotification   = "show-notification"
	eventProjectChanged = "project:changed"
)

// NotificationType selects the toast style in app.js.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
)

// Notification is the payload of the show-notification event.
type Notification struct {
	Type       NotificationType `json:"type"`
	Message    string           `json:"message"`
	DurationMs int              `json:"duration"`
}

// HTMXResponseBuilder assembles a partial response together with the
// HX-* headers that drive the page around it.
type HTMXResponseBuilder struct {
	status   int
	events   map[string]any
	redirect string
	body     []byte
}

func NewHTMXResponse() *HTMXResponseBuilder {
	return &HTMXResponseBuilder{status: http.StatusOK, events: make(map[string]any)}
}

func (b *HTMXResponseBuilder) Status(code int) *HTMXResponseBuilder {
	b.status = code
	return b
}

// Trigger adds an event to HX-Trigger. A later event with the same name
// replaces the earlier one.
func (b *HTMXResponseBuilder) Trigger(name string, payload any) *HTMXResponseBuilder {
	b.events[name] = payload
	return b
}

func (b *HTMXResponseBuilder) Notify(n Notification) *HTMXResponseBuilder {
	return b.Trigger(eventNotification, n)
}

func (b *HTMXResponseBuilder) NotifySuccess(message string) *HTMXResponseBuilder {
	return b.Notify(Notification{Type: NotificationSuccess, Message: message, DurationMs: successDurationMs})
}

func (b *HTMXResponseBuilder) NotifyError(message string) *HTMXResponseBuilder {
	return b.Notify(Notification{Type: NotificationError, Message: message, DurationMs: errorDurationMs})
}

// ProjectChanged makes the project's metric panels reload.
func (b *HTMXResponseBuilder) ProjectChanged(projectID int64) *HTMXResponseBuilder {
	return b.Trigger(eventProjectChanged, map[string]int64{"project_id": projectID})
}

// Redirect makes htmx navigate the whole page to url.
func (b *HTMXResponseBuilder) Redirect(url string) *HTMXResponseBuilder {
	b.redirect = url
	return b
}

// Fragment sets the HTML swapped into the target.
func (b *HTMXResponseBuilder) Fragment(html []byte) *HTMXResponseBuilder {
	b.body = html
	return b
}

func (b *HTMXResponseBuilder) Write(w http.ResponseWriter) {
	h := w.Header()
	if b.redirect != "" {
		h.Set("HX-Redirect", b.redirect)
	}
	if len(b.events) > 0 {
		if payload, err := json.Marshal(b.events); err == nil {
			h.Set("HX-Trigger", string(payload))
		}
	}
	if b.body != nil {
		h.Set("Content-Type", "text/html; charset=utf-8")
	}
	w.WriteHeader(b.status)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

// ErrorResponse answers with an escaped inline message and raises it as an
// error notification.
func ErrorResponse(status int, message string) *HTMXResponseBuilder {
	return NewHTMXResponse().
		Status(status).
		NotifyError(message).
		Fragment([]byte(`<div class="error">` + template.HTMLEscapeString(message) + `</div>`))
}

func BadRequestError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func UnprocessableEntityError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}
