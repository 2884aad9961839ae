package record

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// leaf is the per-type codec behind scalar, array and matrix fields.
type leaf interface {
	check() error
	writeBinary(w *binaryWriter)
	readBinary(r *binaryReader)
	toNode() (*yaml.Node, error)
	fromNode(n *yaml.Node) error
}

type scalarLeaf[T Scalar] struct{ v *T }

func (l scalarLeaf[T]) check() error {
	if l.v == nil {
		return fmt.Errorf("nil %s pointer", kindOf[T]())
	}
	return nil
}

func (l scalarLeaf[T]) writeBinary(w *binaryWriter) {
	writeScalar(w, *l.v)
}

func (l scalarLeaf[T]) readBinary(r *binaryReader) {
	v := readScalar[T](r)
	if r.err == nil {
		*l.v = v
	}
}

func (l scalarLeaf[T]) toNode() (*yaml.Node, error) {
	n := &yaml.Node{}
	if err := n.Encode(*l.v); err != nil {
		return nil, err
	}
	return n, nil
}

func (l scalarLeaf[T]) fromNode(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return fmt.Errorf("expected %s scalar", kindOf[T]())
	}
	var v T
	if err := n.Decode(&v); err != nil {
		return err
	}
	*l.v = v
	return nil
}

type arrayLeaf[T Scalar] struct{ v *[]T }

func (l arrayLeaf[T]) check() error {
	if l.v == nil {
		return fmt.Errorf("nil []%s pointer", kindOf[T]())
	}
	return nil
}

func (l arrayLeaf[T]) writeBinary(w *binaryWriter) {
	values := *l.v
	w.count(len(values))
	for _, v := range values {
		writeScalar(w, v)
	}
}

func (l arrayLeaf[T]) readBinary(r *binaryReader) {
	n := r.count(sizeOf[T]())
	values := make([]T, n)
	for i := range values {
		values[i] = readScalar[T](r)
	}
	if r.err == nil {
		*l.v = values
	}
}

func (l arrayLeaf[T]) toNode() (*yaml.Node, error) {
	values := *l.v
	if values == nil {
		values = []T{}
	}
	n := &yaml.Node{}
	if err := n.Encode(values); err != nil {
		return nil, err
	}
	n.Style = yaml.FlowStyle
	return n, nil
}

func (l arrayLeaf[T]) fromNode(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("expected []%s sequence", kindOf[T]())
	}
	values := make([]T, 0, len(n.Content))
	for i, item := range n.Content {
		var v T
		if err := (scalarLeaf[T]{v: &v}).fromNode(item); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		values = append(values, v)
	}
	*l.v = values
	return nil
}

type matrixLeaf[T Scalar] struct{ v *[][]T }

func (l matrixLeaf[T]) check() error {
	if l.v == nil {
		return fmt.Errorf("nil [][]%s pointer", kindOf[T]())
	}
	if _, _, ok := l.dims(); !ok {
		return ErrRaggedMatrix
	}
	return nil
}

// dims reports rows and columns; ok is false for ragged matrices.
func (l matrixLeaf[T]) dims() (rows, cols int, ok bool) {
	m := *l.v
	rows = len(m)
	if rows == 0 {
		return 0, 0, true
	}
	cols = len(m[0])
	for _, row := range m[1:] {
		if len(row) != cols {
			return rows, cols, false
		}
	}
	return rows, cols, true
}

func (l matrixLeaf[T]) writeBinary(w *binaryWriter) {
	rows, cols, _ := l.dims()
	w.count(rows)
	w.count(cols)
	for _, row := range *l.v {
		for _, v := range row {
			writeScalar(w, v)
		}
	}
}

func (l matrixLeaf[T]) readBinary(r *binaryReader) {
	rows, cols := r.dims(sizeOf[T]())
	m := make([][]T, rows)
	for i := range m {
		m[i] = make([]T, cols)
		for j := range m[i] {
			m[i][j] = readScalar[T](r)
		}
	}
	if r.err == nil {
		*l.v = m
	}
}

func (l matrixLeaf[T]) toNode() (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.SequenceNode}
	for _, row := range *l.v {
		rowNode, err := (arrayLeaf[T]{v: &row}).toNode()
		if err != nil {
			return nil, err
		}
		n.Content = append(n.Content, rowNode)
	}
	return n, nil
}

func (l matrixLeaf[T]) fromNode(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("expected [][]%s sequence", kindOf[T]())
	}
	m := make([][]T, len(n.Content))
	for i, rowNode := range n.Content {
		if err := (arrayLeaf[T]{v: &m[i]}).fromNode(rowNode); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if len(m[i]) != len(m[0]) {
			return fmt.Errorf("row %d: %w", i, ErrRaggedMatrix)
		}
	}
	*l.v = m
	return nil
}
