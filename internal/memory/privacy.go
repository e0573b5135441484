package memory

import "strings"

// privateKeywords are sensitive terms (credentials, identity documents,
// finances, health) in Spanish and English. Matching is a case-insensitive
// substring test, so short terms like "pin" also match inside longer words.
var privateKeywords = []string{
	"contraseña",
	"password",
	"clave",
	"pin",
	"tarjeta",
	"crédito",
	"débito",
	"cuenta bancaria",
	"dni",
	"pasaporte",
	"número de seguridad",
	"seguridad social",
	"dirección",
	"domicilio",
	"medicamento",
	"diagnóstico",
	"enfermedad",
	"tratamiento",
	"address",
	"passport",
	"credit card",
	"debit card",
	"bank account",
	"social security",
	"medication",
	"diagnosis",
}

// IsPrivate reports whether content contains any sensitive keyword.
func IsPrivate(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range privateKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
