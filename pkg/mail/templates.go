package mail

import (
	"bytes"
	_ "embed"
	"html/template"

	"github.com/Masterminds/sprig/v3"
)

// Fixed properties of signature notifications.
const (
	SignatureSubject     = "Nueva firma recibida"
	SignatureSenderName  = "Firma Digital"
	SignatureAttachment  = "firma.png"
	SignatureContentType = "image/png"
)

// SignatureMailParams holds the template data of a signature notification.
type SignatureMailParams struct {
	Name string
	// IDNumber is omitted from the mail when empty.
	IDNumber  string
	Timestamp string
	// SubmissionID is shown shortened as a reference for the recipient.
	SubmissionID string
}

var (
	signatureTemplate = template.New("signature").Funcs(sprig.FuncMap())

	//go:embed templates/signature.html
	signatureTemplateRaw string
)

func init() {
	if _, err := signatureTemplate.Parse(signatureTemplateRaw); err != nil {
		panic(err)
	}
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}

// RenderSignature renders the HTML body. All values are HTML escaped.
func RenderSignature(p SignatureMailParams) (string, error) {
	return render(signatureTemplate, p)
}

// NewSignatureMessage builds the notification for one submission with the
// decoded image attached.
func NewSignatureMessage(from string, to []string, p SignatureMailParams, image []byte) (*Message, error) {
	body, err := RenderSignature(p)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:      p.SubmissionID,
		From:    Address{Name: SignatureSenderName, Address: from},
		To:      to,
		Subject: SignatureSubject,
		HTML:    body,
		Attachments: []Attachment{{
			Filename:    SignatureAttachment,
			ContentType: SignatureContentType,
			Data:        image,
		}},
	}, nil
}
