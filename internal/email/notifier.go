package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/goccy/go-json"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/pkg/logger"
	"github.com/jwalitptl/anamnesis-api/pkg/metrics"
)

var dispatchedBody = template.Must(template.New("dispatched").Parse(`<p>Olá, {{.PatientName}}.</p>
<p>Preencha a ficha <strong>{{.TemplateName}}</strong> antes da sua consulta:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>O link expira em {{.ExpiresAt.Format "02/01/2006 15:04"}}.</p>
`))

// Notifier emails patients when a form is sent to them.
type Notifier struct {
	svc     Service
	metrics *metrics.Metrics
	logger  *logger.Logger
	timeout time.Duration
}

func NewNotifier(svc Service, m *metrics.Metrics, log *logger.Logger) *Notifier {
	return &Notifier{svc: svc, metrics: m, logger: log, timeout: 30 * time.Second}
}

// ComposeDispatched builds the subject and HTML body for ev.
func ComposeDispatched(ev model.DispatchedEvent) (string, string, error) {
	var buf bytes.Buffer
	if err := dispatchedBody.Execute(&buf, ev); err != nil {
		return "", "", fmt.Errorf("failed to render email: %w", err)
	}
	return "Ficha de anamnese: " + ev.TemplateName, buf.String(), nil
}

// HandleDispatched consumes one EventAnamnesisDispatched payload. Events
// without a patient email are skipped.
func (n *Notifier) HandleDispatched(payload []byte) error {
	var ev model.DispatchedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		n.metrics.EmailsSent.WithLabelValues("invalid").Inc()
		return fmt.Errorf("failed to decode dispatched event: %w", err)
	}
	if ev.PatientEmail == "" {
		n.metrics.EmailsSent.WithLabelValues("skipped").Inc()
		n.logger.Debug("patient has no email", "anamnesis_id", ev.AnamnesisID.String())
		return nil
	}

	subject, body, err := ComposeDispatched(ev)
	if err != nil {
		n.metrics.EmailsSent.WithLabelValues("error").Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.svc.SendCustom(ctx, ev.PatientEmail, subject, body); err != nil {
		n.metrics.EmailsSent.WithLabelValues("error").Inc()
		n.logger.Error(err, "Failed to send anamnesis email", "anamnesis_id", ev.AnamnesisID.String())
		return err
	}

	n.metrics.EmailsSent.WithLabelValues("sent").Inc()
	n.logger.Info("Anamnesis email sent", "anamnesis_id", ev.AnamnesisID.String())
	return nil
}
