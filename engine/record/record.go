// Package record implements the structured records exchanged with the
// external compute engine and the codecs that serialize them.
//
// A record declares its shape by registering typed field accessors, in wire
// order, on a FieldSet:
//
//	func (r *Inputs) Fields(fs *record.FieldSet) {
//		record.Array(fs, "values", &r.Values)
//		record.Array(fs, "gaps", &r.Gaps)
//		record.List(fs, "targets", &r.Targets)
//	}
//
// Encoders and decoders walk the same list, so the order is a compile-time
// contract and nothing about the shape travels in the binary stream.
package record

import (
	"errors"
	"fmt"
	"reflect"
)

// Record is a structured value with a fixed, declared field layout.
type Record interface {
	Fields(fs *FieldSet)
}

// Scalar enumerates the leaf types a record may hold.
type Scalar interface {
	bool | int8 | int16 | int32 | int64 | float32 | float64 | string
}

type Kind int

const (
	KindBool Kind = iota + 1
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindString
)

var kindNames = map[Kind]string{
	KindBool:    "bool",
	KindInt8:    "int8",
	KindInt16:   "int16",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindString:  "string",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Shape is the structural category of a field.
type Shape int

const (
	ShapeScalar Shape = iota + 1
	ShapeArray
	ShapeMatrix
	ShapeRecord
	ShapeList
	ShapeGrid
)

var shapeNames = map[Shape]string{
	ShapeScalar: "scalar",
	ShapeArray:  "array",
	ShapeMatrix: "matrix",
	ShapeRecord: "record",
	ShapeList:   "list",
	ShapeGrid:   "grid",
}

func (s Shape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// Field is one registered accessor. Kind is set for scalar, array and matrix
// shapes only.
type Field struct {
	Name  string
	Shape Shape
	Kind  Kind

	leaf leaf
	rec  Record
	ref  func(alloc bool) Record
	seq  *sequence
}

// nested returns the nested record to read from. A nil pointer reads as a
// zero record.
func (f Field) nested() Record {
	if f.ref != nil {
		return f.ref(false)
	}
	return f.rec
}

// target returns the nested record to decode into, allocating a nil pointer.
func (f Field) target() Record {
	if f.ref != nil {
		return f.ref(true)
	}
	return f.rec
}

// sequence gives codecs uniform access to []T and [][]T of records.
type sequence struct {
	rows  func() int
	cols  func(row int) int
	at    func(row, col int) Record
	alloc func(rows, cols int)
	zero  func() Record
}

var (
	ErrDuplicateField = errors.New("duplicate field name")
	ErrEmptyFieldName = errors.New("empty field name")
	ErrRaggedMatrix   = errors.New("matrix rows differ in length")
	ErrNilRecord      = errors.New("nil record")
)

// FieldSet collects the accessors a record registers.
type FieldSet struct {
	fields []Field
	names  map[string]struct{}
	err    error
}

func (fs *FieldSet) add(f Field) {
	if fs.err != nil {
		return
	}
	if f.Name == "" {
		fs.err = ErrEmptyFieldName
		return
	}
	if fs.names == nil {
		fs.names = make(map[string]struct{})
	}
	if _, dup := fs.names[f.Name]; dup {
		fs.err = fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		return
	}
	fs.names[f.Name] = struct{}{}
	fs.fields = append(fs.fields, f)
}

// Record registers a nested record held by value, i.e. the address of a
// struct field. Use RecordPtr for records held by pointer.
func (fs *FieldSet) Record(name string, r Record) {
	if isNil(r) {
		if fs.err == nil {
			fs.err = fmt.Errorf("%w: field %q", ErrNilRecord, name)
		}
		return
	}
	fs.add(Field{Name: name, Shape: ShapeRecord, rec: r})
}

// RecordPtr registers a nested record held by pointer. A nil pointer encodes
// as a zero record; decoding allocates it. The stream has no null, so T must
// not reach itself through RecordPtr fields.
func RecordPtr[T any, P interface {
	*T
	Record
}](fs *FieldSet, name string, v **T) {
	fs.add(Field{Name: name, Shape: ShapeRecord, ref: func(alloc bool) Record {
		if *v == nil {
			if !alloc {
				return P(new(T))
			}
			*v = new(T)
		}
		return P(*v)
	}})
}

// Value registers a scalar field.
func Value[T Scalar](fs *FieldSet, name string, v *T) {
	fs.add(Field{Name: name, Shape: ShapeScalar, Kind: kindOf[T](), leaf: scalarLeaf[T]{v: v}})
}

// Array registers a one-dimensional scalar array.
func Array[T Scalar](fs *FieldSet, name string, v *[]T) {
	fs.add(Field{Name: name, Shape: ShapeArray, Kind: kindOf[T](), leaf: arrayLeaf[T]{v: v}})
}

// Matrix registers a rectangular two-dimensional scalar array.
func Matrix[T Scalar](fs *FieldSet, name string, v *[][]T) {
	fs.add(Field{Name: name, Shape: ShapeMatrix, Kind: kindOf[T](), leaf: matrixLeaf[T]{v: v}})
}

// List registers an ordered sequence of records.
func List[T any, P interface {
	*T
	Record
}](fs *FieldSet, name string, v *[]T) {
	fs.add(Field{Name: name, Shape: ShapeList, seq: &sequence{
		rows:  func() int { return len(*v) },
		cols:  func(int) int { return 0 },
		at:    func(row, _ int) Record { return P(&(*v)[row]) },
		alloc: func(rows, _ int) { *v = make([]T, rows) },
		zero:  func() Record { return P(new(T)) },
	}})
}

// Grid registers a rectangular two-dimensional array of records.
func Grid[T any, P interface {
	*T
	Record
}](fs *FieldSet, name string, v *[][]T) {
	fs.add(Field{Name: name, Shape: ShapeGrid, seq: &sequence{
		rows: func() int { return len(*v) },
		cols: func(row int) int { return len((*v)[row]) },
		at:   func(row, col int) Record { return P(&(*v)[row][col]) },
		alloc: func(rows, cols int) {
			grid := make([][]T, rows)
			for i := range grid {
				grid[i] = make([]T, cols)
			}
			*v = grid
		},
		zero: func() Record { return P(new(T)) },
	}})
}

// Describe returns the fields r registers, in order.
func Describe(r Record) ([]Field, error) {
	if isNil(r) {
		return nil, ErrNilRecord
	}
	fs := &FieldSet{}
	r.Fields(fs)
	if fs.err != nil {
		return nil, fs.err
	}
	return fs.fields, nil
}

// Validate checks that r and every nested record it currently holds are
// well-formed: unique non-empty field names and rectangular matrices.
func Validate(r Record) error {
	fields, err := Describe(r)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if err := validateField(f); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

func validateField(f Field) error {
	switch f.Shape {
	case ShapeScalar, ShapeArray, ShapeMatrix:
		return f.leaf.check()
	case ShapeRecord:
		return Validate(f.nested())
	case ShapeList, ShapeGrid:
		rows := f.seq.rows()
		if rows == 0 {
			return nil
		}
		width := f.seq.cols(0)
		if f.Shape == ShapeList {
			width = 1
		}
		for i := 0; i < rows; i++ {
			if f.Shape == ShapeGrid && f.seq.cols(i) != width {
				return ErrRaggedMatrix
			}
			for j := 0; j < width; j++ {
				if err := Validate(f.seq.at(i, j)); err != nil {
					return fmt.Errorf("element [%d][%d]: %w", i, j, err)
				}
			}
		}
	}
	return nil
}

func isNil(r Record) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func kindOf[T Scalar]() Kind {
	var zero T
	switch any(zero).(type) {
	case bool:
		return KindBool
	case int8:
		return KindInt8
	case int16:
		return KindInt16
	case int32:
		return KindInt32
	case int64:
		return KindInt64
	case float32:
		return KindFloat32
	case float64:
		return KindFloat64
	default:
		return KindString
	}
}
