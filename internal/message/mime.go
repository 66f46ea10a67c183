package message

import (
	"bytes"
	"errors"
	"mime"
	"strings"

	"github.com/geoffreyhinton/mdsort/internal/mimeutil"
)

// MaxMIMEDepth bounds recursive multipart descent. The original C parser
// has a termination bug at this exact depth; we keep the bound instead of
// "fixing" it, per spec.md §9.
const MaxMIMEDepth = 4

// ErrMIMETooDeep is returned when a message's multipart structure nests
// more than MaxMIMEDepth levels.
var ErrMIMETooDeep = errors.New("message: multipart nesting exceeds depth limit")

// MIMENode is one node of a message's parsed attachment tree, grounded
// on the teacher's indexer.MIMENode (indexer/parser.go) and adapted to
// carry only what the sorter's body-selection and inspection needs.
type MIMENode struct {
	ContentType string
	Params      map[string]string
	Encoding    string
	Body        []byte
	Children    []*MIMENode
}

func (n *MIMENode) isMultipart() bool {
	return strings.HasPrefix(n.ContentType, "multipart/")
}

func (n *MIMENode) subtype() string {
	parts := strings.SplitN(n.ContentType, "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

// Attachments lazily parses the message's MIME structure, caching the
// result (or error) for subsequent calls.
func (m *Message) Attachments() (*MIMENode, error) {
	if m.attachmentsParsed {
		return m.attachments, m.attachmentsErr
	}
	m.attachmentsParsed = true
	ct, _ := m.Headers.First("Content-Type")
	node, err := parseMIMENode(ct, m.bodyBytes(), 0)
	if err == nil && node != nil && !node.isMultipart() {
		// A multipart container's own Content-Transfer-Encoding, if
		// present, is meaningless (RFC 2045 restricts it to
		// 7bit/8bit/binary there) — only a leaf part's encoding ever
		// matters, and multipart children already pick theirs up from
		// partHeaders in parseMIMENode.
		if enc, ok := m.Headers.First("Content-Transfer-Encoding"); ok {
			node.Encoding = enc
		}
	}
	m.attachments, m.attachmentsErr = node, err
	return node, err
}

func parseMIMENode(contentTypeHeader string, body []byte, depth int) (*MIMENode, error) {
	if depth > MaxMIMEDepth {
		return nil, ErrMIMETooDeep
	}

	mediatype, params, err := mime.ParseMediaType(contentTypeHeader)
	if err != nil || mediatype == "" {
		mediatype, params = "text/plain", map[string]string{}
	}

	node := &MIMENode{ContentType: mediatype, Params: params}

	boundary := params["boundary"]
	if strings.HasPrefix(mediatype, "multipart/") && boundary != "" {
		for _, part := range splitMultipart(body, boundary) {
			partHeaders, partBody := splitHeaderBlock(part)
			childCT, _ := partHeaders.First("Content-Type")
			child, err := parseMIMENode(childCT, partBody, depth+1)
			if err != nil {
				return nil, err
			}
			if enc, ok := partHeaders.First("Content-Transfer-Encoding"); ok {
				child.Encoding = enc
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	node.Body = body
	return node, nil
}

// splitMultipart returns the raw byte ranges between "--boundary" marker
// lines, stopping at the "--boundary--" terminator, per spec.md §4.B.
func splitMultipart(body []byte, boundary string) [][]byte {
	dashBoundary := []byte("--" + boundary)
	lines := bytes.Split(body, []byte("\n"))

	var parts [][]byte
	var current []byte
	inPart := false
	for _, line := range lines {
		trimmed := bytes.TrimRight(line, "\r")
		if bytes.Equal(trimmed, append(append([]byte{}, dashBoundary...), []byte("--")...)) {
			if inPart {
				parts = append(parts, current)
			}
			break
		}
		if bytes.Equal(trimmed, dashBoundary) {
			if inPart {
				parts = append(parts, current)
			}
			inPart = true
			current = nil
			continue
		}
		if inPart {
			if current != nil {
				current = append(current, '\n')
			}
			current = append(current, line...)
		}
	}
	return parts
}

// splitHeaderBlock parses the header block of one MIME part body,
// returning its Headers and the remaining body bytes.
func splitHeaderBlock(part []byte) (*Headers, []byte) {
	h := newHeaders()
	pos := 0
	for pos < len(part) {
		nl := bytes.IndexByte(part[pos:], '\n')
		var line []byte
		var next int
		if nl == -1 {
			line = part[pos:]
			next = len(part)
		} else {
			line = part[pos : pos+nl]
			next = pos + nl + 1
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			pos = next
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && len(h.entries) > 0 {
			last := h.entries[len(h.entries)-1]
			last.raw = last.raw + "\n" + string(line)
		} else if idx := bytes.IndexByte(line, ':'); idx > 0 {
			key := string(line[:idx])
			val := strings.TrimLeft(string(line[idx+1:]), " \t")
			h.append(key, val)
		}
		pos = next
	}
	return h, part[pos:]
}

// SelectBody picks the body to evaluate BODY predicates against: for
// multipart/alternative the first text/plain child wins, else the first
// text/html child, else the node's own body, per spec.md §4.B.
func SelectBody(node *MIMENode) []byte {
	if node == nil {
		return nil
	}
	if node.isMultipart() && node.subtype() == "alternative" {
		if plain := findFirst(node, "text/plain"); plain != nil {
			return plain.Body
		}
		if html := findFirst(node, "text/html"); html != nil {
			return html.Body
		}
	}
	if node.isMultipart() {
		for _, child := range node.Children {
			if b := SelectBody(child); b != nil {
				return b
			}
		}
		return nil
	}
	return node.Body
}

func findFirst(node *MIMENode, contentType string) *MIMENode {
	if node == nil {
		return nil
	}
	if node.ContentType == contentType {
		return node
	}
	for _, child := range node.Children {
		if found := findFirst(child, contentType); found != nil {
			return found
		}
	}
	return nil
}

// DecodedBody returns the selected body decoded per its transfer
// encoding and charset, caching the result on the message.
func (m *Message) DecodedBody() ([]byte, error) {
	if m.decodedBodyValid {
		return m.decodedBody, m.decodedBodyErr
	}
	m.decodedBodyValid = true

	tree, err := m.Attachments()
	if err != nil {
		m.decodedBodyErr = err
		return nil, err
	}
	selected := SelectBody(tree)
	node := tree
	if n := findByBody(tree, selected); n != nil {
		node = n
	}

	decoded, err := mimeutil.DecodeTransferEncoding(node.Encoding, selected)
	if err != nil {
		m.decodedBodyErr = err
		return nil, err
	}
	decoded, err = mimeutil.DecodeCharset(node.Params["charset"], decoded)
	if err != nil {
		m.decodedBodyErr = err
		return nil, err
	}
	m.decodedBody = decoded
	return decoded, nil
}

func findByBody(node *MIMENode, body []byte) *MIMENode {
	if node == nil {
		return nil
	}
	if bytesSame(node.Body, body) {
		return node
	}
	for _, c := range node.Children {
		if found := findByBody(c, body); found != nil {
			return found
		}
	}
	return nil
}

func bytesSame(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return false
	}
	return &a[0] == &b[0]
}
