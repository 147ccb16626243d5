package model

type Patient struct {
	Base
	Name      string `db:"nome" json:"nome"`
	Phone     string `db:"telefone" json:"telefone"`
	Email     string `db:"email" json:"email"`
	TaxID     string `db:"cpf" json:"cpf"`
	BirthDate string `db:"data_nascimento" json:"data_nascimento"`
	Address   string `db:"endereco" json:"endereco"`
}

type CreatePatientRequest struct {
	Name      string `json:"nome" binding:"required"`
	Phone     string `json:"telefone"`
	Email     string `json:"email" binding:"omitempty,email"`
	TaxID     string `json:"cpf"`
	BirthDate string `json:"data_nascimento"`
	Address   string `json:"endereco"`
}

// Apply writes one system-field value into the record. It reports whether
// the binding is known.
func (p *Patient) Apply(field SystemField, value string) bool {
	switch field {
	case SystemFieldFullName:
		p.Name = value
	case SystemFieldPhone:
		p.Phone = value
	case SystemFieldEmail:
		p.Email = value
	case SystemFieldTaxID:
		p.TaxID = value
	case SystemFieldBirthDate:
		p.BirthDate = value
	case SystemFieldAddress:
		p.Address = value
	default:
		return false
	}
	return true
}
