package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var validDocName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Format selects the on-disk encoding of a FileBackend.
type Format string

// Supported file formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FileBackend stores each document as a file in a directory. YAML files are
// converted to and from the JSON the store works with.
type FileBackend struct {
	dir    string
	format Format
}

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string, format Format) (*FileBackend, error) {
	if format != FormatJSON && format != FormatYAML {
		return nil, fmt.Errorf("unsupported policy format %q", format)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating policy directory: %w", err)
	}

	return &FileBackend{dir: dir, format: format}, nil
}

func (b *FileBackend) path(name string) (string, error) {
	if !validDocName.MatchString(name) {
		return "", fmt.Errorf("invalid document name %q", name)
	}

	return filepath.Join(b.dir, name+"."+string(b.format)), nil
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context, name string) ([]byte, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}

	if b.format == FormatYAML {
		return yamlToJSON(data)
	}

	return data, nil
}

// Save implements Backend. Files are replaced atomically.
func (b *FileBackend) Save(_ context.Context, name string, data []byte) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}

	if b.format == FormatYAML {
		if data, err = jsonToYAML(data); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(b.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", name, err)
	}

	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", p, err)
	}

	return nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("converting yaml to json: %w", err)
	}

	return out, nil
}

func jsonToYAML(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}

	return out, nil
}
