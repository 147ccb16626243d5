package builder

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

// MoveSection moves the section at index from to index to. The new order is
// visible as soon as MoveSection returns; persistence happens in the
// background and a refusal restores the previous order and is reported as a
// ReorderConflict.
func (s *Store) MoveSection(from, to int) error {
	s.mu.Lock()
	n := len(s.sectionOrder)
	s.mu.Unlock()
	if err := checkMove(from, to, n); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	var (
		items []model.OrderItem
		gen   uint64
	)
	scope := s.templateID
	s.run(action{
		name: "reorder sections",
		snapshot: func() func() {
			ids := append([]uuid.UUID(nil), s.sectionOrder...)
			return func() {
				s.sectionOrder = restoreOrder(ids, s.sectionOrder)
				s.renumberSections()
				s.generation[scope]++
			}
		},
		apply: func() {
			s.sectionOrder = move(s.sectionOrder, from, to)
			s.renumberSections()
			items = orderItems(s.sectionOrder)
			s.generation[scope]++
			gen = s.generation[scope]
		},
		commit: func(ctx context.Context) (func(), error) {
			out, err := s.backend.ReorderSections(ctx, scope, items)
			if err != nil {
				return nil, err
			}
			return func() {
				if s.generation[scope] != gen {
					return
				}
				for _, sec := range out {
					sec := sec
					if _, ok := s.sections[sec.ID]; ok {
						s.sections[sec.ID] = &sec
					}
				}
				s.sortSections(s.sectionOrder)
			}, nil
		},
		fail: func(err error) error {
			return &apperrors.ReorderConflict{Scope: "sections", Err: persistErr("reorder sections", err)}
		},
	})
	return nil
}

// MoveField moves a field within its own section.
func (s *Store) MoveField(sectionID uuid.UUID, from, to int) error {
	s.mu.Lock()
	_, ok := s.sections[sectionID]
	n := len(s.fieldOrder[sectionID])
	s.mu.Unlock()
	if !ok {
		return apperrors.NewValidation("secao", "unknown section")
	}
	if err := checkMove(from, to, n); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	var (
		items []model.OrderItem
		gen   uint64
	)
	s.run(action{
		name: "reorder fields",
		snapshot: func() func() {
			ids := append([]uuid.UUID(nil), s.fieldOrder[sectionID]...)
			return func() {
				if _, ok := s.sections[sectionID]; !ok {
					return
				}
				s.fieldOrder[sectionID] = restoreOrder(ids, s.fieldOrder[sectionID])
				s.renumberFields(sectionID)
				s.generation[sectionID]++
			}
		},
		apply: func() {
			s.fieldOrder[sectionID] = move(s.fieldOrder[sectionID], from, to)
			s.renumberFields(sectionID)
			items = orderItems(s.fieldOrder[sectionID])
			s.generation[sectionID]++
			gen = s.generation[sectionID]
		},
		commit: func(ctx context.Context) (func(), error) {
			out, err := s.backend.ReorderFields(ctx, sectionID, items)
			if err != nil {
				return nil, err
			}
			return func() {
				if s.generation[sectionID] != gen {
					return
				}
				// Only positions are taken from the server; attributes may
				// carry an optimistic patch still in flight.
				for _, f := range out {
					if local, ok := s.fields[f.ID]; ok {
						local.Order = f.Order
					}
				}
				s.sortFields(s.fieldOrder[sectionID])
			}, nil
		},
		fail: func(err error) error {
			return &apperrors.ReorderConflict{Scope: "fields", Err: persistErr("reorder fields", err)}
		},
	})
	return nil
}

func checkMove(from, to, n int) error {
	if from < 0 || from >= n {
		return apperrors.NewValidation("from", "index out of range")
	}
	if to < 0 || to >= n {
		return apperrors.NewValidation("to", "index out of range")
	}
	return nil
}

// restoreOrder returns the snapshot order, minus ids deleted since, followed
// by ids created since.
func restoreOrder(snapshot, current []uuid.UUID) []uuid.UUID {
	live := make(map[uuid.UUID]bool, len(current))
	for _, id := range current {
		live[id] = true
	}
	out := make([]uuid.UUID, 0, len(current))
	for _, id := range snapshot {
		if live[id] {
			out = append(out, id)
			delete(live, id)
		}
	}
	for _, id := range current {
		if live[id] {
			out = append(out, id)
		}
	}
	return out
}

// move returns ids with the element at from relocated to to.
func move(ids []uuid.UUID, from, to int) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	moved := ids[from]
	for i, id := range ids {
		if i != from {
			out = append(out, id)
		}
	}
	out = append(out, uuid.Nil)
	copy(out[to+1:], out[to:])
	out[to] = moved
	return out
}

func orderItems(ids []uuid.UUID) []model.OrderItem {
	items := make([]model.OrderItem, len(ids))
	for i, id := range ids {
		items[i] = model.OrderItem{ID: id, Order: i}
	}
	return items
}
