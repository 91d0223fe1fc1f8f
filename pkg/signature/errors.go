package signature

import "errors"

// Client-facing validation messages. They are part of the HTTP contract and
// are shown verbatim by the signing form.
const (
	MsgInvalidName       = "Nombre inválido"
	MsgInvalidSignature  = "Firma no válida"
	MsgNotPNG            = "Firma debe ser PNG"
	MsgCorruptSignature  = "Firma corrupta"
	MsgSignatureTooSmall = "Firma vacía o demasiado pequeña"
	MsgSignatureTooLarge = "Firma demasiado grande"
	MsgInvalidIDNumber   = "Identificación inválida"
)

// Reason is a stable machine readable code for a validation failure.
type Reason string

const (
	ReasonInvalidName       Reason = "invalid_name"
	ReasonInvalidSignature  Reason = "invalid_signature"
	ReasonNotPNG            Reason = "not_png"
	ReasonCorruptSignature  Reason = "corrupt_signature"
	ReasonSignatureTooSmall Reason = "signature_too_small"
	ReasonSignatureTooLarge Reason = "signature_too_large"
	ReasonInvalidIDNumber   Reason = "invalid_id_number"
)

// ValidationError is returned by Validate when a submission is rejected.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(reason Reason, msg string) *ValidationError {
	return &ValidationError{Reason: reason, Message: msg}
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
