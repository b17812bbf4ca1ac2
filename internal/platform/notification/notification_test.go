package notification

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "test-tpl",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
	})

	subject, body, err := eng.Render("test-tpl", map[string]string{"name": "Alice", "code": "1234"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Alice" {
		t.Errorf("subject = %q, want %q", subject, "Hello Alice")
	}
	if body != "Dear Alice, your code is 1234." {
		t.Errorf("body = %q", body)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	if _, _, err := NewTemplateEngine().Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	eng := NewTemplateEngine()
	data := map[string]string{"visit_type": "follow_up", "date": "2026-01-01", "time": "10:00"}
	for _, id := range []string{TemplateAppointmentBooked, TemplateAppointmentConfirmed, TemplateAppointmentCancelled} {
		_, body, err := eng.Render(id, data)
		if err != nil {
			t.Errorf("template %q: %v", id, err)
			continue
		}
		if strings.Contains(body, "{{") {
			t.Errorf("template %q left placeholders: %s", id, body)
		}
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(NewTemplateEngine(), zerolog.New(&buf))
	uid := uuid.New()

	err := n.Notify(context.Background(), Message{
		RecipientUserID: uid,
		TemplateID:      TemplateAppointmentConfirmed,
		Data:            map[string]string{"visit_type": "check_up", "date": "2026-03-01", "time": "09:30"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, uid.String()) || !strings.Contains(out, "is confirmed") {
		t.Errorf("unexpected log output: %s", out)
	}

	if err := n.Notify(context.Background(), Message{TemplateID: "missing"}); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	r := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Notify(context.Background(), Message{TemplateID: TemplateAppointmentBooked})
		}()
	}
	wg.Wait()
	if len(r.Messages()) != 20 {
		t.Errorf("expected 20 messages, got %d", len(r.Messages()))
	}

	r.Err = errors.New("smtp down")
	if err := r.Notify(context.Background(), Message{}); err == nil {
		t.Error("expected configured error")
	}
}

func TestMulti(t *testing.T) {
	first := &Recorder{}
	failing := &Recorder{Err: errors.New("channel down")}
	last := &Recorder{}

	n := Multi(first, failing, last)
	err := n.Notify(context.Background(), Message{RecipientUserID: uuid.New(), TemplateID: TemplateAppointmentBooked})
	if err == nil || !errors.Is(err, failing.Err) {
		t.Errorf("expected joined error, got %v", err)
	}
	for i, r := range []*Recorder{first, failing, last} {
		if len(r.Messages()) != 1 {
			t.Errorf("notifier %d: expected 1 message, got %d", i, len(r.Messages()))
		}
	}

	if err := Multi().Notify(context.Background(), Message{}); err != nil {
		t.Errorf("empty fan-out should succeed, got %v", err)
	}
}
