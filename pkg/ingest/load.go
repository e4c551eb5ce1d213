package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/papercomputeco/finsight/pkg/document"
)

// Format is the encoding of a document file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the format from the file extension. Anything that is
// not .yaml or .yml is read as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// documentFile is the wrapped form {"documents": [...]}.
type documentFile struct {
	Documents []document.Input `json:"documents" yaml:"documents"`
}

// LoadInputs decodes documents from r. Both a bare list of documents and an
// object with a "documents" list are accepted.
func LoadInputs(r io.Reader, format Format) ([]document.Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var inputs []document.Input
	switch format {
	case FormatYAML:
		inputs, err = decodeYAML(data)
	case FormatJSON, "":
		inputs, err = decodeJSON(data)
	default:
		return nil, fmt.Errorf("unknown document format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s documents: %w", format, err)
	}
	return inputs, nil
}

// LoadFile reads documents from path, or from stdin when path is "-".
func LoadFile(path string, format Format) ([]document.Input, error) {
	if path == "-" {
		return LoadInputs(os.Stdin, format)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening documents: %w", err)
	}
	defer f.Close()

	if format == "" {
		format = FormatForPath(path)
	}
	return LoadInputs(f, format)
}

func decodeJSON(data []byte) ([]document.Input, error) {
	if data[0] == '[' {
		var inputs []document.Input
		err := json.Unmarshal(data, &inputs)
		return inputs, err
	}
	var wrapped documentFile
	err := json.Unmarshal(data, &wrapped)
	return wrapped.Documents, err
}

func decodeYAML(data []byte) ([]document.Input, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	if node.Content[0].Kind == yaml.SequenceNode {
		var inputs []document.Input
		err := node.Content[0].Decode(&inputs)
		return inputs, err
	}
	var wrapped documentFile
	err := node.Content[0].Decode(&wrapped)
	return wrapped.Documents, err
}
