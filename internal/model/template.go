package model

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// FieldType is the closed set of input types a Field can declare.
type FieldType string

const (
	FieldTypeShortText    FieldType = "texto_curto"
	FieldTypeEmail        FieldType = "email"
	FieldTypePhone        FieldType = "telefone"
	FieldTypeTaxID        FieldType = "cpf"
	FieldTypeLongText     FieldType = "texto_longo"
	FieldTypeNumber       FieldType = "numero"
	FieldTypeDate         FieldType = "data"
	FieldTypeSingleChoice FieldType = "selecao_unica"
	FieldTypeMultiChoice  FieldType = "selecao_multipla"
	FieldTypeSignature    FieldType = "assinatura"
)

// FieldWidth is the display width tag of a Field.
type FieldWidth string

const (
	WidthFull  FieldWidth = "full"
	WidthHalf  FieldWidth = "half"
	WidthThird FieldWidth = "third"
)

// SystemField names a patient-record attribute a Field populates on finalize.
type SystemField string

const (
	SystemFieldFullName  SystemField = "nome_completo"
	SystemFieldPhone     SystemField = "telefone"
	SystemFieldEmail     SystemField = "email"
	SystemFieldTaxID     SystemField = "cpf"
	SystemFieldBirthDate SystemField = "data_nascimento"
	SystemFieldAddress   SystemField = "endereco"
)

func (s SystemField) Valid() bool {
	switch s {
	case SystemFieldFullName, SystemFieldPhone, SystemFieldEmail,
		SystemFieldTaxID, SystemFieldBirthDate, SystemFieldAddress:
		return true
	}
	return false
}

type Template struct {
	Base
	Name     string `db:"nome" json:"nome"`
	Category string `db:"tipo" json:"tipo"`
	Active   bool   `db:"ativo" json:"ativo"`
	Version  int    `db:"versao" json:"versao"`
}

type Section struct {
	Base
	TemplateID  uuid.UUID `db:"template_id" json:"template_id"`
	Title       string    `db:"titulo" json:"titulo"`
	Description *string   `db:"descricao" json:"descricao,omitempty"`
	Required    bool      `db:"obrigatorio" json:"obrigatorio"`
	Order       int       `db:"ordem" json:"ordem"`
}

type Field struct {
	Base
	SectionID   uuid.UUID      `db:"secao_id" json:"secao_id"`
	Type        FieldType      `db:"tipo_campo" json:"tipo_campo"`
	Label       string         `db:"label" json:"label"`
	Placeholder *string        `db:"placeholder" json:"placeholder,omitempty"`
	HelpText    *string        `db:"texto_ajuda" json:"texto_ajuda,omitempty"`
	Required    bool           `db:"obrigatorio" json:"obrigatorio"`
	Width       FieldWidth     `db:"largura" json:"largura"`
	Order       int            `db:"ordem" json:"ordem"`
	Options     pq.StringArray `db:"opcoes" json:"opcoes,omitempty"`
	SystemField *SystemField   `db:"campo_sistema" json:"campo_sistema,omitempty"`
}

// SectionWithFields pairs a Section with its Fields sorted by order.
type SectionWithFields struct {
	Section Section `json:"secao"`
	Fields  []Field `json:"campos"`
}

// TemplateDocument is the full structure of one template as the builder loads it.
type TemplateDocument struct {
	Template Template            `json:"template"`
	Sections []SectionWithFields `json:"secoes"`
}

// TemplateSnapshot is the frozen copy of a template kept by an Anamnesis.
type TemplateSnapshot struct {
	Name     string              `json:"nome"`
	Category string              `json:"tipo"`
	Version  int                 `json:"versao"`
	Sections []SectionWithFields `json:"secoes"`
}

// Value implements driver.Valuer for jsonb storage.
func (s TemplateSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for jsonb storage.
func (s *TemplateSnapshot) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*s = TemplateSnapshot{}
		return nil
	default:
		return fmt.Errorf("unsupported snapshot source %T", src)
	}
	return json.Unmarshal(data, s)
}

// Fields returns every field of the snapshot in section then field order.
func (s TemplateSnapshot) Fields() []Field {
	var out []Field
	for _, sec := range s.Sections {
		out = append(out, sec.Fields...)
	}
	return out
}

type CreateTemplateRequest struct {
	Name     string `json:"nome" binding:"required"`
	Category string `json:"tipo"`
	Active   *bool  `json:"ativo"`
}

type UpdateTemplateRequest struct {
	Name     *string `json:"nome"`
	Category *string `json:"tipo"`
	Active   *bool   `json:"ativo"`
}

type CreateSectionRequest struct {
	Title       string  `json:"titulo" binding:"required"`
	Description *string `json:"descricao"`
	Required    bool    `json:"obrigatorio"`
	Order       *int    `json:"ordem" binding:"omitempty,min=0"`
}

// SectionPatch carries the attributes of a partial section update.
type SectionPatch struct {
	Title       *string `json:"titulo,omitempty"`
	Description *string `json:"descricao,omitempty"`
	Required    *bool   `json:"obrigatorio,omitempty"`
}

func (p SectionPatch) Apply(s *Section) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Description != nil {
		s.Description = p.Description
	}
	if p.Required != nil {
		s.Required = *p.Required
	}
}

type CreateFieldRequest struct {
	Type        FieldType    `json:"tipo_campo" binding:"required,fieldtype"`
	Label       string       `json:"label"`
	Placeholder *string      `json:"placeholder"`
	HelpText    *string      `json:"texto_ajuda"`
	Required    bool         `json:"obrigatorio"`
	Width       FieldWidth   `json:"largura" binding:"omitempty,oneof=full half third"`
	Order       *int         `json:"ordem" binding:"omitempty,min=0"`
	Options     []string     `json:"opcoes"`
	SystemField *SystemField `json:"campo_sistema"`
}

// FieldPatch carries the attributes of a partial field update. An empty
// SystemField clears the binding.
type FieldPatch struct {
	Type        *FieldType   `json:"tipo_campo,omitempty" binding:"omitempty,fieldtype"`
	Label       *string      `json:"label,omitempty"`
	Placeholder *string      `json:"placeholder,omitempty"`
	HelpText    *string      `json:"texto_ajuda,omitempty"`
	Required    *bool        `json:"obrigatorio,omitempty"`
	Width       *FieldWidth  `json:"largura,omitempty"`
	Options     *[]string    `json:"opcoes,omitempty"`
	SystemField *SystemField `json:"campo_sistema,omitempty"`
}

func (p FieldPatch) Apply(f *Field) {
	if p.Type != nil {
		f.Type = *p.Type
	}
	if p.Label != nil {
		f.Label = *p.Label
	}
	if p.Placeholder != nil {
		f.Placeholder = p.Placeholder
	}
	if p.HelpText != nil {
		f.HelpText = p.HelpText
	}
	if p.Required != nil {
		f.Required = *p.Required
	}
	if p.Width != nil {
		f.Width = *p.Width
	}
	if p.Options != nil {
		f.Options = append(pq.StringArray(nil), (*p.Options)...)
	}
	if p.SystemField != nil {
		if *p.SystemField == "" {
			f.SystemField = nil
		} else {
			sf := *p.SystemField
			f.SystemField = &sf
		}
	}
}
