package builder

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
)

// ErrCrossRegionDrag is returned when a drag is dropped on a region it does
// not belong to: a field outside its own section, or a section inside one.
var ErrCrossRegionDrag = errors.New("drag cannot leave its region")

// ErrNoDrag is returned by Drop when nothing is being dragged.
var ErrNoDrag = errors.New("no drag in progress")

type DragKind int

const (
	DragSection DragKind = iota
	DragField
	// DragPalette is a new field type dragged in from the palette.
	DragPalette
)

// DragItem describes what is being dragged.
type DragItem struct {
	Kind      DragKind
	ID        uuid.UUID
	SectionID uuid.UUID
	FieldType model.FieldType
}

type Region int

const (
	// RegionSections is the list of sections of the template.
	RegionSections Region = iota
	// RegionFields is the list of fields of one section.
	RegionFields
)

// DropTarget is where a drag ends. SectionID names the section for
// RegionFields drops and palette drops.
type DropTarget struct {
	Region    Region
	SectionID uuid.UUID
	Index     int
}

// Canvas is the drag-and-drop surface over a Store. Sections and fields of
// each section are independent sortable regions.
type Canvas struct {
	store *Store

	mu          sync.Mutex
	drag        *DragItem
	highlighted uuid.UUID
	collapsed   map[uuid.UUID]bool
}

func NewCanvas(store *Store) *Canvas {
	return &Canvas{store: store, collapsed: make(map[uuid.UUID]bool)}
}

func (c *Canvas) BeginDrag(item DragItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drag = &item
}

// CancelDrag abandons the current drag and clears any highlight.
func (c *Canvas) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drag = nil
	c.highlighted = uuid.Nil
}

// DragOver highlights the section under a palette drag.
func (c *Canvas) DragOver(sectionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drag != nil && c.drag.Kind == DragPalette {
		c.highlighted = sectionID
	}
}

// DragLeave clears the highlight when the pointer leaves its section.
func (c *Canvas) DragLeave(sectionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.highlighted == sectionID {
		c.highlighted = uuid.Nil
	}
}

// Highlighted reports the section currently marked as drop target.
func (c *Canvas) Highlighted() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highlighted, c.highlighted != uuid.Nil
}

// Dragging reports the current drag, if any.
func (c *Canvas) Dragging() (DragItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drag == nil {
		return DragItem{}, false
	}
	return *c.drag, true
}

// Toggle collapses an expanded section or expands a collapsed one. Sections
// start expanded.
func (c *Canvas) Toggle(sectionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collapsed[sectionID] {
		delete(c.collapsed, sectionID)
		return
	}
	c.collapsed[sectionID] = true
}

func (c *Canvas) Expanded(sectionID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.collapsed[sectionID]
}

// Drop ends the current drag on target. Reorders return once applied
// locally; palette drops wait for the field to be created. The drag and any
// highlight are cleared whatever the outcome.
func (c *Canvas) Drop(ctx context.Context, target DropTarget) error {
	c.mu.Lock()
	drag := c.drag
	c.drag = nil
	c.highlighted = uuid.Nil
	expanded := !c.collapsed[target.SectionID]
	c.mu.Unlock()

	if drag == nil {
		return ErrNoDrag
	}

	switch drag.Kind {
	case DragSection:
		if target.Region != RegionSections {
			return ErrCrossRegionDrag
		}
		from := c.indexOfSection(drag.ID)
		if from < 0 {
			return ErrCrossRegionDrag
		}
		return c.store.MoveSection(from, target.Index)

	case DragField:
		if target.Region != RegionFields || target.SectionID != drag.SectionID || !expanded {
			return ErrCrossRegionDrag
		}
		from := c.indexOfField(drag.SectionID, drag.ID)
		if from < 0 {
			return ErrCrossRegionDrag
		}
		return c.store.MoveField(drag.SectionID, from, target.Index)

	case DragPalette:
		if target.SectionID == uuid.Nil {
			return ErrCrossRegionDrag
		}
		_, err := c.store.CreateField(ctx, target.SectionID, FieldInput{Type: drag.FieldType})
		return err
	}
	return ErrCrossRegionDrag
}

func (c *Canvas) indexOfSection(id uuid.UUID) int {
	for i, sec := range c.store.Sections() {
		if sec.ID == id {
			return i
		}
	}
	return -1
}

func (c *Canvas) indexOfField(sectionID, id uuid.UUID) int {
	for i, f := range c.store.Fields(sectionID) {
		if f.ID == id {
			return i
		}
	}
	return -1
}
