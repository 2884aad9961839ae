package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"
)

// maxZeroWidthElements bounds counts of elements that may encode to zero
// bytes, so a corrupt prefix cannot force an unbounded allocation.
const maxZeroWidthElements = 1 << 24

var order = binary.BigEndian

type binaryCodec struct{}

func (binaryCodec) Format() Format {
	return FormatBinary
}

func (binaryCodec) Encode(w io.Writer, r Record) error {
	if err := Validate(r); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	bw := &binaryWriter{w: bufio.NewWriter(w)}
	bw.record(r)
	if bw.err != nil {
		return fmt.Errorf("binary encode: %w", bw.err)
	}
	if err := bw.w.Flush(); err != nil {
		return fmt.Errorf("binary encode: %w", err)
	}
	return nil
}

func (binaryCodec) Decode(rd io.Reader, shell Record) error {
	data, err := io.ReadAll(rd)
	if err != nil {
		return fmt.Errorf("binary decode: read stream: %w", err)
	}
	br := &binaryReader{buf: data}
	br.record(shell)
	if br.err == nil && br.off != len(br.buf) {
		br.fail("%d trailing bytes after record", len(br.buf)-br.off)
	}
	return br.err
}

type binaryWriter struct {
	w       *bufio.Writer
	err     error
	scratch [8]byte
}

func (w *binaryWriter) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *binaryWriter) u8(v byte) {
	w.scratch[0] = v
	w.write(w.scratch[:1])
}

func (w *binaryWriter) u16(v uint16) {
	order.PutUint16(w.scratch[:2], v)
	w.write(w.scratch[:2])
}

func (w *binaryWriter) u32(v uint32) {
	order.PutUint32(w.scratch[:4], v)
	w.write(w.scratch[:4])
}

func (w *binaryWriter) u64(v uint64) {
	order.PutUint64(w.scratch[:8], v)
	w.write(w.scratch[:8])
}

func (w *binaryWriter) count(n int) {
	if n > math.MaxInt32 {
		if w.err == nil {
			w.err = fmt.Errorf("length %d exceeds int32 prefix", n)
		}
		return
	}
	w.u32(uint32(int32(n)))
}

func (w *binaryWriter) str(s string) {
	if !utf8.ValidString(s) {
		if w.err == nil {
			w.err = errors.New("string is not valid UTF-8")
		}
		return
	}
	w.count(len(s))
	w.write([]byte(s))
}

func (w *binaryWriter) record(r Record) {
	fields, err := Describe(r)
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		return
	}
	for _, f := range fields {
		w.field(f)
	}
}

func (w *binaryWriter) field(f Field) {
	switch f.Shape {
	case ShapeScalar, ShapeArray, ShapeMatrix:
		f.leaf.writeBinary(w)
	case ShapeRecord:
		w.record(f.nested())
	case ShapeList:
		rows := f.seq.rows()
		w.count(rows)
		for i := 0; i < rows; i++ {
			w.record(f.seq.at(i, 0))
		}
	case ShapeGrid:
		rows, cols := f.seq.rows(), 0
		if rows > 0 {
			cols = f.seq.cols(0)
		}
		w.count(rows)
		w.count(cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				w.record(f.seq.at(i, j))
			}
		}
	}
}

func writeScalar[T Scalar](w *binaryWriter, v T) {
	switch x := any(v).(type) {
	case bool:
		if x {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case int8:
		w.u8(byte(x))
	case int16:
		w.u16(uint16(x))
	case int32:
		w.u32(uint32(x))
	case int64:
		w.u64(uint64(x))
	case float32:
		w.u32(math.Float32bits(x))
	case float64:
		w.u64(math.Float64bits(x))
	case string:
		w.str(x)
	}
}

type binaryReader struct {
	buf  []byte
	off  int
	err  error
	path []string
}

func (r *binaryReader) fail(format string, args ...any) {
	if r.err != nil {
		return
	}
	r.err = &MismatchError{
		Format: FormatBinary,
		Path:   strings.Join(r.path, "."),
		Reason: fmt.Sprintf(format, args...),
	}
}

func (r *binaryReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *binaryReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > r.remaining() {
		r.fail("truncated stream: need %d bytes, %d remain", n, r.remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *binaryReader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *binaryReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return order.Uint16(b)
	}
	return 0
}

func (r *binaryReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return order.Uint32(b)
	}
	return 0
}

func (r *binaryReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return order.Uint64(b)
	}
	return 0
}

// count reads a length prefix for elements of at least minSize bytes each.
func (r *binaryReader) count(minSize int) int {
	n := int32(r.u32())
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.fail("negative length %d", n)
		return 0
	}
	if !r.fits(int64(n), minSize) {
		r.fail("length %d exceeds remaining %d bytes", n, r.remaining())
		return 0
	}
	return int(n)
}

// dims reads a rows/cols prefix pair for a two-dimensional array.
func (r *binaryReader) dims(minSize int) (int, int) {
	rows := int32(r.u32())
	cols := int32(r.u32())
	if r.err != nil {
		return 0, 0
	}
	if rows < 0 || cols < 0 {
		r.fail("negative dimensions %dx%d", rows, cols)
		return 0, 0
	}
	if rows == 0 && cols != 0 {
		r.fail("dimensions %dx%d: columns without rows", rows, cols)
		return 0, 0
	}
	if !r.fits(int64(rows)*int64(cols), minSize) || (cols == 0 && rows > maxZeroWidthElements) {
		r.fail("dimensions %dx%d exceed remaining %d bytes", rows, cols, r.remaining())
		return 0, 0
	}
	return int(rows), int(cols)
}

func (r *binaryReader) fits(n int64, minSize int) bool {
	if minSize <= 0 {
		return n <= maxZeroWidthElements
	}
	return n*int64(minSize) <= int64(r.remaining())
}

func (r *binaryReader) str() string {
	n := r.count(1)
	b := r.take(n)
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.fail("string is not valid UTF-8")
		return ""
	}
	return string(b)
}

func (r *binaryReader) record(shell Record) {
	fields, err := Describe(shell)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("describe shell: %w", err)
		}
		return
	}
	for _, f := range fields {
		if r.err != nil {
			return
		}
		r.path = append(r.path, f.Name)
		r.field(f)
		r.path = r.path[:len(r.path)-1]
	}
}

func (r *binaryReader) field(f Field) {
	switch f.Shape {
	case ShapeScalar, ShapeArray, ShapeMatrix:
		f.leaf.readBinary(r)
	case ShapeRecord:
		r.record(f.target())
	case ShapeList:
		rows := r.count(minSize(f.seq.zero()))
		if r.err != nil {
			return
		}
		f.seq.alloc(rows, 0)
		for i := 0; i < rows && r.err == nil; i++ {
			r.element(f.Name, i, -1, f.seq.at(i, 0))
		}
	case ShapeGrid:
		rows, cols := r.dims(minSize(f.seq.zero()))
		if r.err != nil {
			return
		}
		f.seq.alloc(rows, cols)
		for i := 0; i < rows && r.err == nil; i++ {
			for j := 0; j < cols && r.err == nil; j++ {
				r.element(f.Name, i, j, f.seq.at(i, j))
			}
		}
	}
}

func (r *binaryReader) element(name string, row, col int, shell Record) {
	label := fmt.Sprintf("%s[%d]", name, row)
	if col >= 0 {
		label = fmt.Sprintf("%s[%d][%d]", name, row, col)
	}
	r.path[len(r.path)-1] = label
	r.record(shell)
	r.path[len(r.path)-1] = name
}

func readScalar[T Scalar](r *binaryReader) T {
	var out T
	switch p := any(&out).(type) {
	case *bool:
		switch b := r.u8(); b {
		case 0:
			*p = false
		case 1:
			*p = true
		default:
			r.fail("invalid bool byte 0x%02x", b)
		}
	case *int8:
		*p = int8(r.u8())
	case *int16:
		*p = int16(r.u16())
	case *int32:
		*p = int32(r.u32())
	case *int64:
		*p = int64(r.u64())
	case *float32:
		*p = math.Float32frombits(r.u32())
	case *float64:
		*p = math.Float64frombits(r.u64())
	case *string:
		*p = r.str()
	}
	return out
}

// sizeOf is the smallest encoding of one T.
func sizeOf[T Scalar]() int {
	return scalarSize(kindOf[T]())
}

// minSize is the smallest binary encoding of a record of r's type.
func minSize(r Record) int {
	fields, err := Describe(r)
	if err != nil {
		return 0
	}
	total := 0
	for _, f := range fields {
		switch f.Shape {
		case ShapeScalar:
			total += scalarSize(f.Kind)
		case ShapeArray, ShapeList:
			total += 4
		case ShapeMatrix, ShapeGrid:
			total += 8
		case ShapeRecord:
			total += minSize(f.nested())
		}
	}
	return total
}

func scalarSize(k Kind) int {
	switch k {
	case KindBool, KindInt8:
		return 1
	case KindInt16:
		return 2
	case KindInt32, KindFloat32, KindString:
		return 4
	default:
		return 8
	}
}
