// Package fieldtype maps a field's declared type to the input capability
// that renders it and to the label a new field of that type starts with.
package fieldtype

import (
	"fmt"

	"github.com/jwalitptl/anamnesis-api/internal/model"
)

// Capability is the kind of input a field is rendered with.
type Capability string

const (
	CapText         Capability = "text"
	CapLongText     Capability = "long_text"
	CapNumber       Capability = "number"
	CapDate         Capability = "date"
	CapSingleChoice Capability = "single_choice"
	CapMultiChoice  Capability = "multi_choice"
	CapSignature    Capability = "signature"
)

// Spec describes one registered field type.
type Spec struct {
	Type         model.FieldType
	Capability   Capability
	DefaultLabel string
	// InputMode hints the keyboard/validation flavour of a text input.
	InputMode string
	// Choice types must carry a non-empty options list.
	Choice bool
}

const fallbackLabel = "Field"

var specs = []Spec{
	{Type: model.FieldTypeShortText, Capability: CapText, DefaultLabel: "Text", InputMode: "text"},
	{Type: model.FieldTypeEmail, Capability: CapText, DefaultLabel: "Email", InputMode: "email"},
	{Type: model.FieldTypePhone, Capability: CapText, DefaultLabel: "Phone", InputMode: "tel"},
	{Type: model.FieldTypeTaxID, Capability: CapText, DefaultLabel: "Tax ID", InputMode: "numeric"},
	{Type: model.FieldTypeLongText, Capability: CapLongText, DefaultLabel: "Long text"},
	{Type: model.FieldTypeNumber, Capability: CapNumber, DefaultLabel: "Number", InputMode: "decimal"},
	{Type: model.FieldTypeDate, Capability: CapDate, DefaultLabel: "Date"},
	{Type: model.FieldTypeSingleChoice, Capability: CapSingleChoice, DefaultLabel: "Single choice", Choice: true},
	{Type: model.FieldTypeMultiChoice, Capability: CapMultiChoice, DefaultLabel: "Multiple choice", Choice: true},
	{Type: model.FieldTypeSignature, Capability: CapSignature, DefaultLabel: "Signature"},
}

var byType = func() map[model.FieldType]Spec {
	m := make(map[model.FieldType]Spec, len(specs))
	for _, s := range specs {
		m[s.Type] = s
	}
	return m
}()

// Lookup returns the spec for t. Unknown types resolve to a plain text input.
func Lookup(t model.FieldType) Spec {
	if s, ok := byType[t]; ok {
		return s
	}
	return Spec{Type: t, Capability: CapText, DefaultLabel: fallbackLabel, InputMode: "text"}
}

// Valid reports whether t belongs to the closed set of field types.
func Valid(t model.FieldType) bool {
	_, ok := byType[t]
	return ok
}

// IsChoice reports whether fields of type t require options.
func IsChoice(t model.FieldType) bool {
	return Lookup(t).Choice
}

// All returns the registered specs in palette order.
func All() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out
}

// NextLabel returns the label for a new field of type t given the labels of
// the fields of the same type already in the section: the default label for
// the first one, then "<label> 2", "<label> 3"... skipping any ordinal whose
// label is already taken.
func NextLabel(t model.FieldType, existing []string) string {
	base := Lookup(t).DefaultLabel
	if len(existing) == 0 {
		return base
	}

	taken := make(map[string]struct{}, len(existing))
	for _, l := range existing {
		taken[l] = struct{}{}
	}

	for n := len(existing) + 1; ; n++ {
		label := fmt.Sprintf("%s %d", base, n)
		if _, dup := taken[label]; !dup {
			return label
		}
	}
}
