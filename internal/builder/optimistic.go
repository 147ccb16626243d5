package builder

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

// action is one optimistic change: the local state is snapshotted and
// mutated synchronously, then persisted in the background. On failure the
// snapshot is restored and the error reported; on success reconcile folds
// the canonical server result back in.
type action struct {
	name string

	// snapshot and apply run under the store lock.
	snapshot func() (restore func())
	apply    func()

	// commit runs without the lock. The returned reconcile, if any, runs
	// under the lock once commit succeeds.
	commit func(ctx context.Context) (reconcile func(), err error)

	// fail turns a commit error into what the user is shown.
	fail func(err error) error
}

func (s *Store) run(a action) {
	s.mu.Lock()
	restore := a.snapshot()
	a.apply()
	s.mu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()

		reconcile, err := a.commit(ctx)

		s.mu.Lock()
		if err != nil {
			restore()
		} else if reconcile != nil {
			reconcile()
		}
		s.mu.Unlock()

		if err != nil {
			if a.fail != nil {
				err = a.fail(err)
			}
			s.report(err)
			return
		}
		s.logger.Debug("optimistic change persisted", zap.String("action", a.name))
	}()
}

// UpdateFieldAsync applies patch to the field locally right away and
// persists it in the background, reverting the field if the server refuses.
// A revert restores the field's attributes but never its position, and is
// skipped once a newer patch of the same field has been applied.
func (s *Store) UpdateFieldAsync(id uuid.UUID, patch model.FieldPatch) error {
	s.mu.Lock()
	_, ok := s.fields[id]
	s.mu.Unlock()
	if !ok {
		return apperrors.NewValidation("campo", "unknown field")
	}
	s.run(s.updateFieldAction(id, patch))
	return nil
}

// updateFieldAction builds the optimistic field patch. A field deleted before
// the action runs turns it into a no-op.
func (s *Store) updateFieldAction(id uuid.UUID, patch model.FieldPatch) action {
	var (
		gen     uint64
		removed bool
	)
	return action{
		name: "update field",
		snapshot: func() func() {
			f, ok := s.fields[id]
			if !ok {
				return func() {}
			}
			before := cloneField(*f)
			return func() {
				f, ok := s.fields[id]
				if !ok || s.patchGeneration[id] != gen {
					return
				}
				order, section := f.Order, f.SectionID
				*f = before
				f.Order, f.SectionID = order, section
			}
		},
		apply: func() {
			f, ok := s.fields[id]
			if !ok {
				removed = true
				return
			}
			patch.Apply(f)
			s.patchGeneration[id]++
			gen = s.patchGeneration[id]
		},
		commit: func(ctx context.Context) (func(), error) {
			if removed {
				return nil, nil
			}
			updated, err := s.backend.UpdateField(ctx, id, patch)
			if err != nil {
				return nil, err
			}
			return func() {
				f, ok := s.fields[id]
				if !ok || s.patchGeneration[id] != gen {
					return
				}
				// Position is owned by the reorder engine.
				order, section := f.Order, f.SectionID
				*f = *updated
				f.Order, f.SectionID = order, section
			}, nil
		},
		fail: func(err error) error {
			return persistErr("update field", err)
		},
	}
}
