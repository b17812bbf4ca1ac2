package websocket

import (
	"context"
	"time"

	"github.com/neuronova/emr/internal/platform/notification"
)

// Notifier renders notification messages and pushes them to the
// recipient's open connections. Recipients with no connection are skipped.
type Notifier struct {
	hub       *Hub
	templates *notification.TemplateEngine
	now       func() time.Time
}

func NewNotifier(hub *Hub, templates *notification.TemplateEngine) *Notifier {
	return &Notifier{hub: hub, templates: templates, now: time.Now}
}

func (n *Notifier) Notify(_ context.Context, msg notification.Message) error {
	subject, body, err := n.templates.Render(msg.TemplateID, msg.Data)
	if err != nil {
		return err
	}
	_, err = n.hub.SendTo(msg.RecipientUserID, Event{
		Type:      msg.TemplateID,
		Subject:   subject,
		Body:      body,
		Data:      msg.Data,
		Timestamp: n.now(),
	})
	return err
}
