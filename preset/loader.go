package preset

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

//go:embed presets/*.json
var builtin embed.FS

const schemaURL = "agent-definition.json"

var (
	// ErrNotFound is returned when no preset file exists for a name.
	ErrNotFound = errors.New("preset not found")
	// ErrInvalid is returned when a preset fails schema validation.
	ErrInvalid = errors.New("invalid preset")
)

// Loader resolves preset names to definitions. Files in Dir take precedence
// over the embedded presets.
type Loader struct {
	Dir    string
	schema *jsonschema.Schema
}

// NewLoader compiles the embedded schema and returns a loader for dir.
// An empty dir only serves embedded presets.
func NewLoader(dir string) (*Loader, error) {
	s, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Loader{Dir: dir, schema: s}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("adding preset schema: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling preset schema: %w", err)
	}
	return s, nil
}

// Load reads, validates and decodes the named preset.
func (l *Loader) Load(name string) (*Definition, error) {
	data, err := l.read(name)
	if err != nil {
		return nil, err
	}
	def, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("preset %s: %w", name, err)
	}
	return def, nil
}

func (l *Loader) read(name string) ([]byte, error) {
	file := name + ".json"
	if l.Dir != "" {
		data, err := os.ReadFile(filepath.Join(l.Dir, file))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading preset %s: %w", name, err)
		}
	}
	data, err := builtin.ReadFile("presets/" + file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, nil
}

// Parse validates raw JSON against the schema and decodes it.
func (l *Loader) Parse(data []byte) (*Definition, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	if err := l.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	def := &Definition{}
	if err := json.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("decoding definition: %w", err)
	}
	if def.InitialEnergy > def.MaxEnergy {
		return nil, fmt.Errorf("%w: initialEnergy %v exceeds maxEnergy %v", ErrInvalid, def.InitialEnergy, def.MaxEnergy)
	}
	def.applyDefaults()
	return def, nil
}

// ValidateFile checks a preset file on disk.
func (l *Loader) ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading preset: %w", err)
	}
	if _, err := l.Parse(data); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// List returns the names of all resolvable presets, sorted.
func (l *Loader) List() ([]string, error) {
	seen := map[string]bool{}
	entries, err := builtin.ReadDir("presets")
	if err != nil {
		return nil, fmt.Errorf("listing embedded presets: %w", err)
	}
	for _, e := range entries {
		seen[strings.TrimSuffix(e.Name(), ".json")] = true
	}
	if l.Dir != "" {
		files, err := os.ReadDir(l.Dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("listing presets: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			seen[strings.TrimSuffix(f.Name(), ".json")] = true
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}
