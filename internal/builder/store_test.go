package builder

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

type notifications struct {
	mu   sync.Mutex
	errs []error
}

func (n *notifications) notify(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *notifications) all() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.errs...)
}

func newTestStore(t *testing.T, titles ...string) (*Store, *fakeBackend, *notifications) {
	t.Helper()
	b := newFakeBackend()
	n := &notifications{}
	s := NewStore(b, b.template.ID, WithNotifier(n.notify))
	require.NoError(t, s.Load(context.Background()))
	for _, title := range titles {
		_, err := s.CreateSection(context.Background(), SectionInput{Title: title})
		require.NoError(t, err)
	}
	return s, b, n
}

func sectionTitles(s *Store) []string {
	var out []string
	for _, sec := range s.Sections() {
		out = append(out, sec.Title)
	}
	return out
}

func assertDense(t *testing.T, s *Store) {
	t.Helper()
	for i, sec := range s.Sections() {
		assert.Equal(t, i, sec.Order, "section %s", sec.Title)
		for j, f := range s.Fields(sec.ID) {
			assert.Equal(t, j, f.Order, "field %s", f.Label)
		}
	}
}

func TestLoadSortsByOrder(t *testing.T) {
	b := newFakeBackend()
	for i, title := range []string{"Habits", "Contact", "Consent"} {
		sec := model.Section{Base: model.Base{ID: uuid.New()}, Title: title, Order: []int{1, 0, 2}[i]}
		b.sections[sec.ID] = sec
	}

	s := NewStore(b, b.template.ID)
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, []string{"Contact", "Habits", "Consent"}, sectionTitles(s))
	assert.Equal(t, "Skin Intake", s.Template().Name)
}

func TestCreateFieldNamesByType(t *testing.T) {
	s, _, _ := newTestStore(t, "Contact")
	sec := s.Sections()[0]
	ctx := context.Background()

	var labels []string
	for i := 0; i < 3; i++ {
		f, err := s.CreateField(ctx, sec.ID, FieldInput{Type: model.FieldTypeShortText})
		require.NoError(t, err)
		labels = append(labels, f.Label)
	}
	email, err := s.CreateField(ctx, sec.ID, FieldInput{Type: model.FieldTypeEmail})
	require.NoError(t, err)

	assert.Equal(t, []string{"Text", "Text 2", "Text 3"}, labels)
	assert.Equal(t, "Email", email.Label)
	assert.Equal(t, model.WidthFull, email.Width)
}

func TestCreateChoiceFieldGetsDefaultOptions(t *testing.T) {
	s, _, _ := newTestStore(t, "Habits")
	f, err := s.CreateField(context.Background(), s.Sections()[0].ID, FieldInput{Type: model.FieldTypeSingleChoice})
	require.NoError(t, err)
	assert.Len(t, f.Options, 2)
}

func TestCreateFieldRejectsUnknownType(t *testing.T) {
	s, b, _ := newTestStore(t, "Contact")
	_, err := s.CreateField(context.Background(), s.Sections()[0].ID, FieldInput{Type: "slider"})
	assert.True(t, apperrors.IsValidation(err))
	assert.NotContains(t, b.Calls(), "create field")
}

func TestOrderStaysDense(t *testing.T) {
	s, _, _ := newTestStore(t, "A", "B", "C")
	ctx := context.Background()

	require.NoError(t, s.DeleteSection(ctx, s.Sections()[1].ID))
	assert.Equal(t, []string{"A", "C"}, sectionTitles(s))

	sec := s.Sections()[0]
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		f, err := s.CreateField(ctx, sec.ID, FieldInput{Type: model.FieldTypeNumber})
		require.NoError(t, err)
		ids = append(ids, f.ID)
	}
	require.NoError(t, s.DeleteField(ctx, ids[0]))

	dup, err := s.DuplicateField(ctx, ids[1])
	require.NoError(t, err)
	assert.NotEqual(t, ids[1], dup.ID)

	fields := s.Fields(sec.ID)
	require.Len(t, fields, 3)
	assert.Equal(t, dup.ID, fields[2].ID)
	assert.Equal(t, fields[0].Label, fields[2].Label)

	require.NoError(t, s.MoveField(sec.ID, 2, 0))
	s.Wait()
	assertDense(t, s)
}

func TestDeleteNonEmptySectionIsRejectedLocally(t *testing.T) {
	s, b, _ := newTestStore(t, "Contact")
	sec := s.Sections()[0]
	_, err := s.CreateField(context.Background(), sec.ID, FieldInput{Type: model.FieldTypeShortText})
	require.NoError(t, err)

	err = s.DeleteSection(context.Background(), sec.ID)
	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "section not empty", verr.Message)
	assert.NotContains(t, b.Calls(), "delete section")
	assert.Len(t, s.Sections(), 1)
}

func TestMoveSectionPersists(t *testing.T) {
	s, b, n := newTestStore(t, "A", "B", "C")

	require.NoError(t, s.MoveSection(2, 0))
	assert.Equal(t, []string{"C", "A", "B"}, sectionTitles(s))
	s.Wait()

	assert.Empty(t, n.all())
	assert.Equal(t, []string{"C", "A", "B"}, sectionTitles(s))
	assertDense(t, s)

	var server []string
	for _, sec := range b.sortedSections() {
		server = append(server, sec.Title)
	}
	assert.Equal(t, []string{"C", "A", "B"}, server)
}

func TestMoveSectionRollsBackOnFailure(t *testing.T) {
	s, b, n := newTestStore(t, "A", "B", "C")
	b.failReorder = true
	b.gate = make(chan struct{})

	require.NoError(t, s.MoveSection(2, 0))
	assert.Equal(t, []string{"C", "A", "B"}, sectionTitles(s))

	close(b.gate)
	s.Wait()

	assert.Equal(t, []string{"A", "B", "C"}, sectionTitles(s))
	assertDense(t, s)

	errs := n.all()
	require.Len(t, errs, 1)
	var conflict *apperrors.ReorderConflict
	require.True(t, errors.As(errs[0], &conflict))
	assert.Equal(t, "sections", conflict.Scope)
	assert.True(t, apperrors.IsPersistence(errs[0]))
}

func TestMoveFieldRollsBackOnFailure(t *testing.T) {
	s, b, n := newTestStore(t, "Contact")
	sec := s.Sections()[0]
	ctx := context.Background()
	for _, label := range []string{"Name", "Phone", "Email"} {
		_, err := s.CreateField(ctx, sec.ID, FieldInput{Type: model.FieldTypeShortText, Label: label})
		require.NoError(t, err)
	}
	b.failReorder = true

	require.NoError(t, s.MoveField(sec.ID, 0, 2))
	s.Wait()

	var labels []string
	for _, f := range s.Fields(sec.ID) {
		labels = append(labels, f.Label)
	}
	assert.Equal(t, []string{"Name", "Phone", "Email"}, labels)
	require.Len(t, n.all(), 1)
}

func TestMoveRejectsOutOfRange(t *testing.T) {
	s, b, _ := newTestStore(t, "A", "B")
	assert.True(t, apperrors.IsValidation(s.MoveSection(0, 2)))
	assert.True(t, apperrors.IsValidation(s.MoveSection(-1, 0)))
	assert.NoError(t, s.MoveSection(1, 1))
	s.Wait()
	assert.NotContains(t, b.Calls(), "reorder sections")
}

func TestUpdateFieldAsyncRevertsOnFailure(t *testing.T) {
	s, b, n := newTestStore(t, "Contact")
	f, err := s.CreateField(context.Background(), s.Sections()[0].ID, FieldInput{Type: model.FieldTypeShortText, Label: "Name"})
	require.NoError(t, err)
	b.failUpdate = true

	label := "Full name"
	require.NoError(t, s.UpdateFieldAsync(f.ID, model.FieldPatch{Label: &label}))
	s.Wait()

	got, ok := s.Field(f.ID)
	require.True(t, ok)
	assert.Equal(t, "Name", got.Label)
	require.Len(t, n.all(), 1)
	assert.True(t, apperrors.IsPersistence(n.all()[0]))
}

func TestUpdateFieldAsyncKeepsChange(t *testing.T) {
	s, _, n := newTestStore(t, "Contact")
	f, err := s.CreateField(context.Background(), s.Sections()[0].ID, FieldInput{Type: model.FieldTypeShortText, Label: "Name"})
	require.NoError(t, err)

	required := true
	require.NoError(t, s.UpdateFieldAsync(f.ID, model.FieldPatch{Required: &required}))
	got, _ := s.Field(f.ID)
	assert.True(t, got.Required)

	s.Wait()
	got, _ = s.Field(f.ID)
	assert.True(t, got.Required)
	assert.Empty(t, n.all())
}

func TestFailedFieldUpdateKeepsMovedPosition(t *testing.T) {
	s, b, n := newTestStore(t, "Contact")
	ctx := context.Background()
	sec := s.Sections()[0]
	a, err := s.CreateField(ctx, sec.ID, FieldInput{Type: model.FieldTypeShortText, Label: "A"})
	require.NoError(t, err)
	_, err = s.CreateField(ctx, sec.ID, FieldInput{Type: model.FieldTypeShortText, Label: "B"})
	require.NoError(t, err)

	b.failUpdate = true
	b.updateGate = make(chan struct{})
	label := "A renamed"
	require.NoError(t, s.UpdateFieldAsync(a.ID, model.FieldPatch{Label: &label}))
	require.NoError(t, s.MoveField(sec.ID, 0, 1))
	require.Eventually(t, func() bool {
		return slices.Contains(b.Calls(), "reorder fields")
	}, time.Second, 5*time.Millisecond)
	close(b.updateGate)
	s.Wait()

	got, ok := s.Field(a.ID)
	require.True(t, ok)
	assert.Equal(t, "A", got.Label)
	assert.Equal(t, 1, got.Order)

	var labels []string
	for _, f := range s.Fields(sec.ID) {
		labels = append(labels, f.Label)
	}
	assert.Equal(t, []string{"B", "A"}, labels)
	assertDense(t, s)
	require.Len(t, n.all(), 1)
	assert.True(t, apperrors.IsPersistence(n.all()[0]))
}

func TestFailedFieldUpdateKeepsNewerPatch(t *testing.T) {
	s, b, n := newTestStore(t, "Contact")
	f, err := s.CreateField(context.Background(), s.Sections()[0].ID, FieldInput{Type: model.FieldTypeShortText, Label: "Name"})
	require.NoError(t, err)

	b.rejectLabel = "Nmae"
	b.updateGate = make(chan struct{})
	typo := "Nmae"
	require.NoError(t, s.UpdateFieldAsync(f.ID, model.FieldPatch{Label: &typo}))
	required := true
	require.NoError(t, s.UpdateFieldAsync(f.ID, model.FieldPatch{Required: &required}))
	close(b.updateGate)
	s.Wait()

	got, ok := s.Field(f.ID)
	require.True(t, ok)
	assert.True(t, got.Required)
	assert.Equal(t, "Name", got.Label)
	require.Len(t, n.all(), 1)
}

func TestFieldUpdateAfterDeleteIsNoop(t *testing.T) {
	s, b, n := newTestStore(t, "Contact")
	ctx := context.Background()
	sec := s.Sections()[0]
	f, err := s.CreateField(ctx, sec.ID, FieldInput{Type: model.FieldTypeShortText, Label: "Name"})
	require.NoError(t, err)

	label := "Gone"
	pending := s.updateFieldAction(f.ID, model.FieldPatch{Label: &label})
	require.NoError(t, s.DeleteField(ctx, f.ID))
	s.run(pending)
	s.Wait()

	_, ok := s.Field(f.ID)
	assert.False(t, ok)
	assert.NotContains(t, b.Calls(), "update field")
	assert.Empty(t, n.all())
}

func TestFailedFieldUpdateAfterDelete(t *testing.T) {
	s, b, n := newTestStore(t, "Contact")
	ctx := context.Background()
	sec := s.Sections()[0]
	f, err := s.CreateField(ctx, sec.ID, FieldInput{Type: model.FieldTypeShortText, Label: "Name"})
	require.NoError(t, err)
	_, err = s.CreateField(ctx, sec.ID, FieldInput{Type: model.FieldTypeEmail, Label: "Email"})
	require.NoError(t, err)

	b.failUpdate = true
	b.updateGate = make(chan struct{})
	label := "Full name"
	require.NoError(t, s.UpdateFieldAsync(f.ID, model.FieldPatch{Label: &label}))
	require.NoError(t, s.DeleteField(ctx, f.ID))
	close(b.updateGate)
	s.Wait()

	_, ok := s.Field(f.ID)
	assert.False(t, ok)
	assert.Len(t, s.Fields(sec.ID), 1)
	assertDense(t, s)
	require.Len(t, n.all(), 1)
}

func TestUpdateSection(t *testing.T) {
	s, _, _ := newTestStore(t, "Contact")
	title := "Contact details"
	sec, err := s.UpdateSection(context.Background(), s.Sections()[0].ID, model.SectionPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, sec.Title)
	assert.Equal(t, []string{title}, sectionTitles(s))
}
