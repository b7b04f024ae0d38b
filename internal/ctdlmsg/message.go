// Package ctdlmsg defines the Citadel message record: a mapping from
// single-letter field mnemonics to values, plus a MIME or flat-text body.
// It mirrors the struct shapes of the teacher's email.Msg/email.Header,
// generalized from general MIME trees to Citadel's field-tagged model.
package ctdlmsg

import (
	"crawshaw.io/iox"
)

// Field is one of the single-letter mnemonics from the data model table.
type Field byte

const (
	FieldAuthor       Field = 'A'
	FieldEUID         Field = 'E'
	FieldRFC822From   Field = 'F'
	FieldMessageID    Field = 'I'
	FieldJournal      Field = 'J'
	FieldReplyTo      Field = 'K'
	FieldListID       Field = 'L'
	FieldBody         Field = 'M'
	FieldNode         Field = 'N'
	FieldPath         Field = 'P'
	FieldRecipient    Field = 'R'
	FieldSpecial      Field = 'S'
	FieldTimestamp    Field = 'T'
	FieldSubject      Field = 'U'
	FieldEnvelopeTo   Field = 'V'
	FieldReferences   Field = 'W'
	FieldCc           Field = 'Y'
	FieldHeadersOnly  Field = 'H'
	FieldOriginalRoom Field = 'O'
	FieldFormatType   Field = '2' // F2 in the spec table; '2' avoids colliding with FieldRFC822From
)

// FormatType is the value carried by the F2 field.
type FormatType int

const (
	FormatLegacy FormatType = 0
	FormatFlat   FormatType = 1
	FormatMIME   FormatType = 4
)

// Part is one node of a message's MIME tree. Content is backed by an
// iox.Filer buffer exactly as the teacher's email.Part.Content is, so
// small bodies stay in memory and large ones spill to disk transparently.
type Part struct {
	PartNum     int
	ContentType string
	Charset     string
	Disposition string
	Filename    string
	Encoding    string // transfer-encoding: 7bit, base64, quoted-printable
	Content     *iox.BufferFile
	Length      int64
}

// Close releases the part's backing buffer.
func (p *Part) Close() error {
	if p.Content == nil {
		return nil
	}
	return p.Content.Close()
}

// Message is a single Citadel message: at most one value per field
// mnemonic, plus either a flat body or a MIME part tree.
type Message struct {
	MsgNum int64
	Fields map[Field]string

	// Flat is the body when FormatType is legacy/flat; Parts is the MIME
	// tree when FormatType is MIME. The two are mutually exclusive.
	Flat  []byte
	Parts []*Part
}

// New returns an empty message ready to have fields set.
func New() *Message {
	return &Message{Fields: make(map[Field]string)}
}

// Set stores a single-value field, overwriting any prior value — a
// message has at most one value per mnemonic.
func (m *Message) Set(f Field, v string) { m.Fields[f] = v }

// Get returns the field's value and whether it was present.
func (m *Message) Get(f Field) (string, bool) {
	v, ok := m.Fields[f]
	return v, ok
}

// EUID returns the message's externally-supplied unique id, if any.
func (m *Message) EUID() (string, bool) { return m.Get(FieldEUID) }

// IsLocalOrigin reports whether the message's N field matches this
// node's configured short name, per §4.3: local-origin is derived from N.
func (m *Message) IsLocalOrigin(nodeName string) bool {
	n, ok := m.Get(FieldNode)
	return ok && n == nodeName
}

// Close releases every part's backing buffer.
func (m *Message) Close() error {
	var first error
	for _, p := range m.Parts {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
