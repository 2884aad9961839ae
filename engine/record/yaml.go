package record

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type yamlCodec struct{}

func (yamlCodec) Format() Format {
	return FormatYAML
}

func (yamlCodec) Encode(w io.Writer, r Record) error {
	if err := Validate(r); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	node, err := recordNode(r)
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}
	return nil
}

func (yamlCodec) Decode(rd io.Reader, shell Record) error {
	var doc yaml.Node
	if err := yaml.NewDecoder(rd).Decode(&doc); err != nil {
		reason := fmt.Sprintf("parse: %v", err)
		if errors.Is(err, io.EOF) {
			reason = "empty document"
		}
		return &MismatchError{Format: FormatYAML, Reason: reason}
	}
	root := &doc
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		root = doc.Content[0]
	}
	yr := &yamlReader{}
	return yr.record(root, shell)
}

func recordNode(r Record) (*yaml.Node, error) {
	fields, err := Describe(r)
	if err != nil {
		return nil, err
	}
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, f := range fields {
		value, err := fieldNode(f)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Name}
		m.Content = append(m.Content, key, value)
	}
	return m, nil
}

func fieldNode(f Field) (*yaml.Node, error) {
	switch f.Shape {
	case ShapeScalar, ShapeArray, ShapeMatrix:
		return f.leaf.toNode()
	case ShapeRecord:
		return recordNode(f.nested())
	case ShapeList:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i := 0; i < f.seq.rows(); i++ {
			item, err := recordNode(f.seq.at(i, 0))
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, item)
		}
		return seq, nil
	case ShapeGrid:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i := 0; i < f.seq.rows(); i++ {
			row := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for j := 0; j < f.seq.cols(i); j++ {
				item, err := recordNode(f.seq.at(i, j))
				if err != nil {
					return nil, err
				}
				row.Content = append(row.Content, item)
			}
			seq.Content = append(seq.Content, row)
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("unknown shape %s", f.Shape)
	}
}

type yamlReader struct {
	path []string
}

func (y *yamlReader) mismatch(format string, args ...any) error {
	return &MismatchError{
		Format: FormatYAML,
		Path:   strings.Join(y.path, "."),
		Reason: fmt.Sprintf(format, args...),
	}
}

func (y *yamlReader) record(n *yaml.Node, shell Record) error {
	fields, err := Describe(shell)
	if err != nil {
		return fmt.Errorf("describe shell: %w", err)
	}
	if n.Kind != yaml.MappingNode {
		return y.mismatch("expected mapping for record")
	}
	values := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		values[n.Content[i].Value] = n.Content[i+1]
	}
	declared := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		declared[f.Name] = struct{}{}
	}
	for name := range values {
		if _, ok := declared[name]; !ok {
			return y.mismatch("undeclared field %q", name)
		}
	}
	for _, f := range fields {
		value, ok := values[f.Name]
		if !ok {
			return y.mismatch("missing field %q", f.Name)
		}
		y.path = append(y.path, f.Name)
		err := y.field(f, value)
		y.path = y.path[:len(y.path)-1]
		if err != nil {
			return err
		}
	}
	return nil
}

func (y *yamlReader) field(f Field, n *yaml.Node) error {
	switch f.Shape {
	case ShapeScalar, ShapeArray, ShapeMatrix:
		if err := f.leaf.fromNode(n); err != nil {
			var mismatch *MismatchError
			if errors.As(err, &mismatch) {
				return err
			}
			return y.mismatch("%v", err)
		}
		return nil
	case ShapeRecord:
		return y.record(n, f.target())
	case ShapeList:
		if n.Kind != yaml.SequenceNode {
			return y.mismatch("expected sequence for list")
		}
		f.seq.alloc(len(n.Content), 0)
		for i, item := range n.Content {
			if err := y.element(f.Name, fmt.Sprintf("[%d]", i), item, f.seq.at(i, 0)); err != nil {
				return err
			}
		}
		return nil
	case ShapeGrid:
		if n.Kind != yaml.SequenceNode {
			return y.mismatch("expected sequence for grid")
		}
		rows, cols := len(n.Content), 0
		for i, row := range n.Content {
			if row.Kind != yaml.SequenceNode {
				return y.mismatch("grid row %d is not a sequence", i)
			}
			if i == 0 {
				cols = len(row.Content)
			}
			if len(row.Content) != cols {
				return y.mismatch("grid row %d: %v", i, ErrRaggedMatrix)
			}
		}
		f.seq.alloc(rows, cols)
		for i, row := range n.Content {
			for j, item := range row.Content {
				if err := y.element(f.Name, fmt.Sprintf("[%d][%d]", i, j), item, f.seq.at(i, j)); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return y.mismatch("unknown shape %s", f.Shape)
	}
}

func (y *yamlReader) element(name, index string, n *yaml.Node, shell Record) error {
	y.path[len(y.path)-1] = name + index
	err := y.record(n, shell)
	y.path[len(y.path)-1] = name
	return err
}
