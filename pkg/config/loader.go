package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/xetra/pkg/errors"
)

// Load reads the YAML document at filePath, substitutes ${VAR_NAME}
// references from the environment and parses it into a Document.
//
// It fails with an ErrorTypeConfigLoad error when the file does not exist,
// cannot be read, or does not contain a mapping at the top level.
func Load(filePath string) (*Document, error) {
	if filePath == "" {
		return nil, errors.New(errors.ErrorTypeConfigLoad, "configuration path is empty")
	}

	data, err := os.ReadFile(filepath.Clean(filePath)) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfigLoad, "failed to read config file").
			WithDetail("path", filePath)
	}

	tree, err := Parse(data)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			e.WithDetail("path", filePath)
		}
		return nil, err
	}

	return newDocument(filePath, tree), nil
}

// Parse parses raw YAML content into a configuration tree. Environment
// references are substituted before parsing.
func Parse(data []byte) (map[string]interface{}, error) {
	content := substituteEnvVars(string(data))

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfigLoad, "failed to parse YAML")
	}

	// An empty document decodes to a zero node.
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, errors.New(errors.ErrorTypeConfigLoad, "configuration document is empty")
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return nil, errors.Newf(errors.ErrorTypeConfigLoad,
			"configuration document must be a mapping, got %s", kindName(root.Content[0].Kind))
	}

	tree := make(map[string]interface{})
	if err := root.Decode(&tree); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfigLoad, "failed to decode YAML mapping")
	}
	return tree, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return fmt.Sprintf("kind %d", k)
	}
}
