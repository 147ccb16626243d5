// Package render turns a Field and its current answer into a Control, the
// input description both the builder preview and the public runtime draw.
// Every control reports edits through a single OnChange callback, so each
// caller decides which answer map the edit lands in.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/fieldtype"
	"github.com/jwalitptl/anamnesis-api/internal/model"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

// DateLayout is the wire format of date answers.
const DateLayout = "2006-01-02"

// OnChange receives every accepted edit of a control.
type OnChange func(fieldID uuid.UUID, value any)

// Renderer builds the control for one capability.
type Renderer func(f model.Field, value any, onChange OnChange) Control

// Control is a rendered input. Value holds a string for scalar capabilities
// and a []string for multi choice.
type Control struct {
	FieldID     uuid.UUID
	Type        model.FieldType
	Capability  fieldtype.Capability
	Label       string
	Placeholder string
	HelpText    string
	Required    bool
	Width       model.FieldWidth
	InputMode   string
	Options     []string
	Value       any
	// Error is the validation message the caller attached, if any.
	Error string

	normalize func(any) (any, error)
	onChange  OnChange
}

// Text returns the current value as a string.
func (c Control) Text() string {
	switch v := c.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// Selected returns the current multi choice selection.
func (c Control) Selected() []string {
	if v, ok := c.Value.([]string); ok {
		out := make([]string, len(v))
		copy(out, v)
		return out
	}
	return nil
}

// Change validates v for this control's capability and forwards the
// normalized value to OnChange. Rejected input is not forwarded.
func (c Control) Change(v any) error {
	norm := c.normalize
	if norm == nil {
		norm = normalizeText
	}
	out, err := norm(v)
	if err != nil {
		return apperrors.NewValidation(c.Label, err.Error())
	}
	if c.onChange != nil {
		c.onChange(c.FieldID, out)
	}
	return nil
}

// Toggle adds or removes option from a multi choice selection.
func (c Control) Toggle(option string) error {
	if c.Capability != fieldtype.CapMultiChoice {
		return apperrors.NewValidation(c.Label, "toggle is only supported on multiple choice fields")
	}
	current := c.Selected()
	next := current[:0]
	removed := false
	for _, o := range current {
		if o == option {
			removed = true
			continue
		}
		next = append(next, o)
	}
	if !removed {
		next = append(next, option)
	}
	return c.Change(next)
}

// Sign stores the typed-signature image for name on a signature control.
// An empty name clears the signature.
func (c Control) Sign(name string) error {
	if c.Capability != fieldtype.CapSignature {
		return apperrors.NewValidation(c.Label, "sign is only supported on signature fields")
	}
	return c.Change(TypedSignature(name))
}

// Dispatcher selects a Renderer by the field's capability.
type Dispatcher struct {
	table map[fieldtype.Capability]Renderer
}

// NewDispatcher returns a dispatcher with the built-in renderers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		table: map[fieldtype.Capability]Renderer{
			fieldtype.CapText:         renderText,
			fieldtype.CapLongText:     renderText,
			fieldtype.CapNumber:       renderNumber,
			fieldtype.CapDate:         renderDate,
			fieldtype.CapSingleChoice: renderSingleChoice,
			fieldtype.CapMultiChoice:  renderMultiChoice,
			fieldtype.CapSignature:    renderSignature,
		},
	}
}

// Register replaces the renderer of one capability.
func (d *Dispatcher) Register(c fieldtype.Capability, r Renderer) {
	d.table[c] = r
}

// Render dispatches f to its renderer. Unknown capabilities render as text.
func (d *Dispatcher) Render(f model.Field, value any, onChange OnChange) Control {
	spec := fieldtype.Lookup(f.Type)
	r, ok := d.table[spec.Capability]
	if !ok {
		r = d.table[fieldtype.CapText]
	}
	return r(f, value, onChange)
}

// RenderAll renders fields in order against answers.
func (d *Dispatcher) RenderAll(fields []model.Field, answers map[uuid.UUID]any, errs map[uuid.UUID]string, onChange OnChange) []Control {
	out := make([]Control, 0, len(fields))
	for _, f := range fields {
		c := d.Render(f, answers[f.ID], onChange)
		c.Error = errs[f.ID]
		out = append(out, c)
	}
	return out
}

var defaultDispatcher = NewDispatcher()

// Render renders f with the default dispatcher.
func Render(f model.Field, value any, onChange OnChange) Control {
	return defaultDispatcher.Render(f, value, onChange)
}

func base(f model.Field, value any, onChange OnChange) Control {
	spec := fieldtype.Lookup(f.Type)
	c := Control{
		FieldID:    f.ID,
		Type:       f.Type,
		Capability: spec.Capability,
		Label:      f.Label,
		Required:   f.Required,
		Width:      f.Width,
		InputMode:  spec.InputMode,
		Value:      value,
		onChange:   onChange,
	}
	if c.Width == "" {
		c.Width = model.WidthFull
	}
	if f.Placeholder != nil {
		c.Placeholder = *f.Placeholder
	}
	if f.HelpText != nil {
		c.HelpText = *f.HelpText
	}
	if len(f.Options) > 0 {
		c.Options = append([]string(nil), f.Options...)
	}
	return c
}

func renderText(f model.Field, value any, onChange OnChange) Control {
	c := base(f, value, onChange)
	c.Value = c.Text()
	c.normalize = normalizeText
	return c
}

func renderNumber(f model.Field, value any, onChange OnChange) Control {
	c := base(f, value, onChange)
	c.Value = c.Text()
	c.normalize = func(v any) (any, error) {
		s := strings.TrimSpace(toString(v))
		if s == "" {
			return "", nil
		}
		if _, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return s, nil
	}
	return c
}

func renderDate(f model.Field, value any, onChange OnChange) Control {
	c := base(f, value, onChange)
	c.Value = c.Text()
	c.normalize = func(v any) (any, error) {
		s := strings.TrimSpace(toString(v))
		if s == "" {
			return "", nil
		}
		if _, err := time.Parse(DateLayout, s); err != nil {
			return nil, fmt.Errorf("%q is not a date (yyyy-mm-dd)", s)
		}
		return s, nil
	}
	return c
}

func renderSingleChoice(f model.Field, value any, onChange OnChange) Control {
	c := base(f, value, onChange)
	c.Value = c.Text()
	options := c.Options
	c.normalize = func(v any) (any, error) {
		s := toString(v)
		if s == "" || contains(options, s) {
			return s, nil
		}
		return nil, fmt.Errorf("%q is not one of the options", s)
	}
	return c
}

func renderMultiChoice(f model.Field, value any, onChange OnChange) Control {
	c := base(f, value, onChange)
	c.Value = toStrings(value)
	options := c.Options
	c.normalize = func(v any) (any, error) {
		picked := toStrings(v)
		set := make(map[string]struct{}, len(picked))
		for _, p := range picked {
			if !contains(options, p) {
				return nil, fmt.Errorf("%q is not one of the options", p)
			}
			set[p] = struct{}{}
		}
		// Keep selections in option order so equal selections serialize equally.
		out := make([]string, 0, len(set))
		for _, o := range options {
			if _, ok := set[o]; ok {
				out = append(out, o)
			}
		}
		return out, nil
	}
	return c
}

func renderSignature(f model.Field, value any, onChange OnChange) Control {
	c := base(f, value, onChange)
	c.Value = c.Text()
	c.normalize = func(v any) (any, error) {
		s := toString(v)
		if s != "" && !strings.HasPrefix(s, "data:") {
			return nil, fmt.Errorf("signature must be a data URI")
		}
		return s, nil
	}
	return c
}

func normalizeText(v any) (any, error) {
	return toString(v), nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	default:
		return fmt.Sprint(t)
	}
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, toString(e))
		}
		return out
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	default:
		return []string{fmt.Sprint(t)}
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
