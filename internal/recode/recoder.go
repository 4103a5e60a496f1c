package recode

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultCharset is the encoding speakup uses when none is configured.
const DefaultCharset = "iso-8859-1"

var ErrUnknownCharset = errors.New("recode: unknown charset")

// EncodingError reports a single input byte that had no UTF-8 representation.
// Offset is -1 when the decoder could not attribute the failure to a byte.
type EncodingError struct {
	Charset string
	Offset  int
	Byte    byte
}

func (e *EncodingError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("recode: undecodable sequence in %s input", e.Charset)
	}
	return fmt.Sprintf("recode: byte 0x%02x at offset %d has no mapping from %s", e.Byte, e.Offset, e.Charset)
}

// Recoder converts text in a legacy charset into UTF-8.
type Recoder struct {
	charset string
	enc     encoding.Encoding
	table   *charmap.Charmap
	utf8    bool
}

// New resolves charset by its IANA name or alias.
func New(charset string) (*Recoder, error) {
	name := strings.TrimSpace(charset)
	if name == "" {
		name = DefaultCharset
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharset, name)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: %s has no decoder", ErrUnknownCharset, name)
	}
	r := &Recoder{charset: name, enc: enc}
	if cm, ok := enc.(*charmap.Charmap); ok {
		r.table = cm
	}
	if enc == unicode.UTF8 || enc == encoding.Nop {
		r.utf8 = true
	}
	return r, nil
}

// Charset returns the configured source charset name.
func (r *Recoder) Charset() string { return r.charset }

// Recode converts b to UTF-8. Bytes that cannot be represented are dropped and
// reported as *EncodingError values joined into the returned error; the string
// is valid even when err is non-nil.
func (r *Recoder) Recode(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	switch {
	case r.utf8:
		return r.recodeUTF8(b)
	case r.table != nil:
		return r.recodeTable(b)
	default:
		return r.recodeGeneric(b)
	}
}

func (r *Recoder) recodeUTF8(b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	var (
		sb   strings.Builder
		errs []error
	)
	sb.Grow(len(b))
	for i := 0; i < len(b); {
		c, size := utf8.DecodeRune(b[i:])
		if c == utf8.RuneError && size <= 1 {
			errs = append(errs, &EncodingError{Charset: r.charset, Offset: i, Byte: b[i]})
			i++
			continue
		}
		sb.Write(b[i : i+size])
		i += size
	}
	return sb.String(), errors.Join(errs...)
}

// recodeTable decodes one byte at a time, mirroring how the device interleaves
// text and control bytes.
func (r *Recoder) recodeTable(b []byte) (string, error) {
	var (
		sb   strings.Builder
		errs []error
	)
	sb.Grow(len(b))
	for i, c := range b {
		decoded := r.table.DecodeByte(c)
		if decoded == utf8.RuneError {
			errs = append(errs, &EncodingError{Charset: r.charset, Offset: i, Byte: c})
			continue
		}
		sb.WriteRune(decoded)
	}
	return sb.String(), errors.Join(errs...)
}

// recodeGeneric handles multi-byte charsets. x/text decoders substitute
// U+FFFD for invalid input, so each substitution becomes one dropped sequence.
func (r *Recoder) recodeGeneric(b []byte) (string, error) {
	out, err := r.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("recode %s: %w", r.charset, err)
	}
	if !strings.ContainsRune(string(out), utf8.RuneError) {
		return string(out), nil
	}
	var (
		sb   strings.Builder
		errs []error
	)
	for _, c := range string(out) {
		if c == utf8.RuneError {
			errs = append(errs, &EncodingError{Charset: r.charset, Offset: -1})
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String(), errors.Join(errs...)
}
