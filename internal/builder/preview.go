package builder

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/render"
)

// PreviewSection is one section as a patient would see it.
type PreviewSection struct {
	Section  model.Section
	Controls []render.Control
}

// Preview renders the store's current document through the same dispatcher
// the public form uses. Answers typed into the preview stay local.
type Preview struct {
	store      *Store
	dispatcher *render.Dispatcher

	mu      sync.Mutex
	answers map[uuid.UUID]any
}

func NewPreview(store *Store, dispatcher *render.Dispatcher) *Preview {
	if dispatcher == nil {
		dispatcher = render.NewDispatcher()
	}
	return &Preview{store: store, dispatcher: dispatcher, answers: make(map[uuid.UUID]any)}
}

func (p *Preview) Sections() []PreviewSection {
	doc := p.store.Document()

	p.mu.Lock()
	answers := make(map[uuid.UUID]any, len(p.answers))
	for k, v := range p.answers {
		answers[k] = v
	}
	p.mu.Unlock()

	out := make([]PreviewSection, 0, len(doc.Sections))
	for _, sf := range doc.Sections {
		out = append(out, PreviewSection{
			Section:  sf.Section,
			Controls: p.dispatcher.RenderAll(sf.Fields, answers, nil, p.set),
		})
	}
	return out
}

// Reset clears everything typed into the preview.
func (p *Preview) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers = make(map[uuid.UUID]any)
}

func (p *Preview) set(fieldID uuid.UUID, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers[fieldID] = value
}
