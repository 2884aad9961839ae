package record

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Format names a wire encoding of a record.
type Format string

const (
	// FormatBinary is the compact interchange format: big-endian fixed-width
	// numbers, int32 length prefixes, no names and no type tags.
	FormatBinary Format = "binary"
	// FormatYAML is a tool-readable rendering of the same schema, keyed by
	// field name.
	FormatYAML Format = "yaml"
)

// Ext returns the file extension used for artifacts in this format.
func (f Format) Ext() string {
	switch f {
	case FormatYAML:
		return ".yaml"
	default:
		return ".bin"
	}
}

func (f Format) String() string {
	return string(f)
}

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatBinary:
		return FormatBinary, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported record format: %q", s)
	}
}

// ErrSchemaMismatch reports that a stream does not match the shape of the
// record it is decoded into. It is never recoverable.
var ErrSchemaMismatch = errors.New("record schema mismatch")

// MismatchError locates a schema mismatch inside the record tree.
type MismatchError struct {
	Format Format
	Path   string
	Reason string
}

func (e *MismatchError) Error() string {
	path := e.Path
	if path == "" {
		path = "<root>"
	}
	return fmt.Sprintf("%s: %s decode at %s: %s", ErrSchemaMismatch, e.Format, path, e.Reason)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// Codec encodes and decodes records in one format.
type Codec interface {
	Format() Format
	Encode(w io.Writer, r Record) error
	// Decode fills shell, which must be an instance of the encoded type.
	Decode(rd io.Reader, shell Record) error
}

// CodecFor returns the codec implementing f.
func CodecFor(f Format) (Codec, error) {
	switch f {
	case FormatBinary:
		return binaryCodec{}, nil
	case FormatYAML:
		return yamlCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported record format: %q", f)
	}
}

// Encode writes r to w in format f.
func Encode(w io.Writer, f Format, r Record) error {
	codec, err := CodecFor(f)
	if err != nil {
		return err
	}
	return codec.Encode(w, r)
}

// Decode reads one record in format f from rd into shell.
func Decode(rd io.Reader, f Format, shell Record) error {
	codec, err := CodecFor(f)
	if err != nil {
		return err
	}
	return codec.Decode(rd, shell)
}

// Marshal returns the encoding of r in format f.
func Marshal(f Format, r Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, f, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data in format f into shell.
func Unmarshal(f Format, data []byte, shell Record) error {
	return Decode(bytes.NewReader(data), f, shell)
}
