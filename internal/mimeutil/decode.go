// Package mimeutil implements the MIME transfer-encoding and charset
// primitives spec.md treats as "assumed available as pure string
// functions" (base64, quoted-printable, RFC 2047 word decoding) plus
// charset transcoding for non-UTF-8 message parts. Every exported
// function here is pure: no package-level state, no side effects.
package mimeutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

// DecodeHeaderWords decodes RFC 2047 encoded-words ("=?charset?Q?...?=")
// found in an already-unfolded header value.
func DecodeHeaderWords(s string) (string, error) {
	if !strings.Contains(s, "=?") {
		return s, nil
	}
	dec := mime.WordDecoder{CharsetReader: charsetReader}
	out, err := dec.DecodeHeader(s)
	if err != nil {
		return s, fmt.Errorf("mimeutil: decode header words: %w", err)
	}
	return out, nil
}

// DecodeTransferEncoding decodes a MIME body given its
// Content-Transfer-Encoding. Unknown or empty encodings are treated as
// identity, per spec.md §4.B.
func DecodeTransferEncoding(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		cleaned := stripBase64Whitespace(body)
		out := make([]byte, base64.StdEncoding.DecodedLen(len(cleaned)))
		n, err := base64.StdEncoding.Decode(out, cleaned)
		if err != nil {
			return nil, fmt.Errorf("mimeutil: base64 decode: %w", err)
		}
		return out[:n], nil
	case "quoted-printable":
		r := quotedprintable.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("mimeutil: quoted-printable decode: %w", err)
		}
		return out, nil
	default:
		return body, nil
	}
}

// DecodeCharset transcodes body to UTF-8 given the charset parameter of
// its Content-Type, via golang.org/x/text/encoding/ianaindex. Absent,
// unknown, or already-UTF-8 charsets are returned unchanged.
func DecodeCharset(charset string, body []byte) ([]byte, error) {
	charset = strings.TrimSpace(charset)
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "us-ascii") {
		return body, nil
	}
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil || enc == nil {
		return body, nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body, fmt.Errorf("mimeutil: decode charset %q: %w", charset, err)
	}
	return out, nil
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	raw, err := io.ReadAll(input)
	if err != nil {
		return nil, err
	}
	decoded, err := DecodeCharset(charset, raw)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(decoded), nil
}

func stripBase64Whitespace(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			continue
		}
		out = append(out, c)
	}
	return out
}
