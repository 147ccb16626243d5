package email

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/pkg/logger"
	"github.com/jwalitptl/anamnesis-api/pkg/metrics"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func newNotifier(d *fakeDialer) (*Notifier, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry(), "test", "email")
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return NewNotifier(NewServiceWithDialer(d, "clinic@example.com"), m, log), m
}

func dispatched(email string) model.DispatchedEvent {
	return model.DispatchedEvent{
		AnamnesisID:  uuid.New(),
		PatientName:  "Ana",
		PatientEmail: email,
		TemplateName: "Facial",
		Link:         "https://forms.example.com/anamnese/abc",
		ExpiresAt:    time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC),
	}
}

func TestComposeDispatched(t *testing.T) {
	subject, body, err := ComposeDispatched(dispatched("ana@example.com"))
	require.NoError(t, err)

	assert.Equal(t, "Ficha de anamnese: Facial", subject)
	assert.Contains(t, body, "Ana")
	assert.Contains(t, body, `href="https://forms.example.com/anamnese/abc"`)
	assert.Contains(t, body, "19/10/2026 09:30")
}

func TestComposeEscapesNames(t *testing.T) {
	ev := dispatched("ana@example.com")
	ev.PatientName = "<script>"
	_, body, err := ComposeDispatched(ev)
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
}

func TestHandleDispatchedSends(t *testing.T) {
	d := &fakeDialer{}
	n, m := newNotifier(d)

	payload, err := json.Marshal(dispatched("ana@example.com"))
	require.NoError(t, err)
	require.NoError(t, n.HandleDispatched(payload))

	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"ana@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"clinic@example.com"}, d.sent[0].GetHeader("From"))
	assert.Equal(t, []string{"Ficha de anamnese: Facial"}, d.sent[0].GetHeader("Subject"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("sent")))
}

func TestHandleDispatchedSkipsMissingEmail(t *testing.T) {
	d := &fakeDialer{}
	n, m := newNotifier(d)

	payload, err := json.Marshal(dispatched(""))
	require.NoError(t, err)
	require.NoError(t, n.HandleDispatched(payload))

	assert.Empty(t, d.sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("skipped")))
}

func TestHandleDispatchedErrors(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	n, m := newNotifier(d)

	payload, err := json.Marshal(dispatched("ana@example.com"))
	require.NoError(t, err)
	assert.Error(t, n.HandleDispatched(payload))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("error")))

	assert.Error(t, n.HandleDispatched([]byte("{")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("invalid")))
}

func TestSendCustomHonoursCancelledContext(t *testing.T) {
	d := &fakeDialer{}
	svc := NewServiceWithDialer(d, "clinic@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.SendCustom(ctx, "a@example.com", "s", "b"), context.Canceled)
	assert.Empty(t, d.sent)
}
