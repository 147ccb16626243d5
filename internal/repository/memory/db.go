// Package memory holds in-process repositories sharing one lock, used for
// local development and tests.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
)

// DB is the shared state behind every memory repository. Operations that
// span several tables hold mu throughout.
type DB struct {
	mu        sync.RWMutex
	now       func() time.Time
	templates map[uuid.UUID]model.Template
	sections  map[uuid.UUID]model.Section
	fields    map[uuid.UUID]model.Field
	anamneses map[uuid.UUID]model.Anamnesis
	responses map[uuid.UUID]map[uuid.UUID]model.Response
	patients  map[uuid.UUID]model.Patient
	outbox    map[uuid.UUID]model.OutboxEvent
}

func New() *DB {
	return &DB{
		now:       time.Now,
		templates: make(map[uuid.UUID]model.Template),
		sections:  make(map[uuid.UUID]model.Section),
		fields:    make(map[uuid.UUID]model.Field),
		anamneses: make(map[uuid.UUID]model.Anamnesis),
		responses: make(map[uuid.UUID]map[uuid.UUID]model.Response),
		patients:  make(map[uuid.UUID]model.Patient),
		outbox:    make(map[uuid.UUID]model.OutboxEvent),
	}
}

func (db *DB) stamp(b *model.Base) {
	now := db.now()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

func (db *DB) sectionsOf(templateID uuid.UUID) []model.Section {
	var out []model.Section
	for _, s := range db.sections {
		if s.TemplateID == templateID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (db *DB) fieldsOf(sectionID uuid.UUID) []model.Field {
	var out []model.Field
	for _, f := range db.fields {
		if f.SectionID == sectionID {
			out = append(out, cloneField(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (db *DB) addEvent(e *model.OutboxEvent) {
	if e == nil {
		return
	}
	now := db.now()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Status = model.OutboxStatusPending
	e.CreatedAt = now
	e.UpdatedAt = now
	db.outbox[e.ID] = *e
}

func cloneField(f model.Field) model.Field {
	if f.Options != nil {
		f.Options = append(f.Options[:0:0], f.Options...)
	}
	if f.SystemField != nil {
		sf := *f.SystemField
		f.SystemField = &sf
	}
	return f
}
