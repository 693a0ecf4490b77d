package model

// Patient is keyed by lowercased email.
type Patient struct {
	Base
	Email     string  `db:"email" json:"email"`
	FirstName *string `db:"first_name" json:"first_name,omitempty"`
	LastName  *string `db:"last_name" json:"last_name,omitempty"`
}

// PatientUpsert carries the fields a CSV row may contribute. Nil names leave stored values untouched.
type PatientUpsert struct {
	Email     string
	FirstName *string
	LastName  *string
}
