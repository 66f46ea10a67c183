// Package message implements the RFC 5322 message model spec.md §3/§4.B
// describes: ordered, case-insensitively searchable headers, a Maildir
// flags suffix, and lazily parsed MIME attachments. It is grounded on
// the teacher's indexer.MIMEParser (indexer/parser.go) and
// indexer.BodyStructure (indexer/bodystructure.go), rewritten around the
// spec's header/flags/attachment model instead of a BODYSTRUCTURE
// response tree.
package message

import (
	"bytes"
	"path"
	"strings"
)

// Message is a single parsed Maildir message.
type Message struct {
	Path     string
	Basename string
	Headers  *Headers

	flags Flags
	body  []byte

	attachments       *MIMENode
	attachmentsErr    error
	attachmentsParsed bool

	decodedBody      []byte
	decodedBodyErr   error
	decodedBodyValid bool
}

// Parse reads a full message file's bytes into a Message. An initial
// "From " mbox separator line is skipped, per spec.md §4.B.
func Parse(msgPath string, data []byte) (*Message, error) {
	pos := 0
	if bytes.HasPrefix(data, []byte("From ")) {
		if nl := bytes.IndexByte(data, '\n'); nl != -1 {
			pos = nl + 1
		} else {
			pos = len(data)
		}
	}

	h, body := splitHeaderBlock(data[pos:])

	base := path.Base(msgPath)
	_, flags, _ := parseBasenameFlags(base)

	return &Message{
		Path:     msgPath,
		Basename: base,
		Headers:  h,
		flags:    flags,
		body:     body,
	}, nil
}

func (m *Message) bodyBytes() []byte { return m.body }

// Body returns the message's own (undecoded) body, i.e. everything after
// the header block terminator.
func (m *Message) Body() []byte { return m.body }

// Flags returns the message's current Maildir flags.
func (m *Message) Flags() Flags { return m.flags }

// SetFlag turns on flag character c.
func (m *Message) SetFlag(c byte) { m.flags.Set(c) }

// ClearFlag turns off flag character c.
func (m *Message) ClearFlag(c byte) { m.flags.Clear(c) }

// parseBasenameFlags splits a Maildir basename into its unique part and
// flags, if it carries a well-formed ":2,<flags>" suffix.
func parseBasenameFlags(basename string) (unique string, flags Flags, hasInfo bool) {
	idx := strings.LastIndex(basename, ":2,")
	if idx == -1 {
		return basename, Flags{}, false
	}
	suffix := basename[idx+3:]
	for i := 0; i < len(suffix); i++ {
		c := suffix[i]
		if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
			return basename, Flags{}, false
		}
	}
	return basename[:idx], ParseFlags(suffix), true
}

// Serialize renders the message back to bytes: headers in current write
// order as "Key: Value\n" lines, a blank line, then the body. Used by the
// label action to rewrite a message in place.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	for _, e := range m.Headers.entries {
		buf.WriteString(e.key)
		buf.WriteString(": ")
		buf.WriteString(e.raw)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	buf.Write(m.body)
	return buf.Bytes()
}
