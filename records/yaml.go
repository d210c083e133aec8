package records

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func intNode(i int64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(i, 10)}
}

func priceNode(d decimal.Decimal) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: d.StringFixed(2)}
}

// plainNode writes numbers unquoted and everything else as a string.
func plainNode(s string) *yaml.Node {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: s}
	}
	return strNode(s)
}

func seqNode(flow bool, items ...*yaml.Node) *yaml.Node {
	node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items}
	if flow {
		node.Style = yaml.FlowStyle
	}
	return node
}

func stringsNode(values []string) *yaml.Node {
	items := make([]*yaml.Node, 0, len(values))
	for _, v := range values {
		items = append(items, strNode(v))
	}
	return seqNode(true, items...)
}

func mapNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func addPair(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, strNode(key), value)
}

// scalar reads a scalar node value, rejecting collections.
func scalar(node *yaml.Node, path string, field string) (string, error) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.ScalarNode {
		return "", invalid(path, field, "expected a scalar value")
	}
	return node.Value, nil
}

func decimalValue(node *yaml.Node, path string, field string) (decimal.Decimal, error) {
	raw, err := scalar(node, path, field)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, invalid(path, field, "invalid number %q", raw)
	}
	return d, nil
}

func stringList(node *yaml.Node, path string, field string) ([]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, invalid(path, field, "expected a list")
	}
	out := make([]string, 0, len(node.Content))
	for i, item := range node.Content {
		v, err := scalar(item, path, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// document parses a single YAML document and returns its root content node.
func document(r io.Reader, path string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, invalid(path, "", "empty document")
		}
		return nil, invalid(path, "", "%v", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, invalid(path, "", "empty document")
	}
	return doc.Content[0], nil
}

func encodeNode(w io.Writer, node *yaml.Node) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return err
	}
	return enc.Close()
}

// writeFile encodes into a buffer first so a failed encode leaves no partial file.
func writeFile(path string, node *yaml.Node) error {
	var buf bytes.Buffer
	if err := encodeNode(&buf, node); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
