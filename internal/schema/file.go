package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"cmsquery/internal/entity"
)

// fileDocument is the layout of one schema file. A directory may split
// definitions across any number of files.
type fileDocument struct {
	Entities []*entity.Entity `yaml:"entities"`
	Queries  []*QueryDef      `yaml:"queries"`
}

// FileProvider serves definitions read from *.yaml / *.yml files in a
// directory. Files are treated as published; draft sees the same set.
type FileProvider struct {
	dir    string
	memory *MemoryProvider
}

// NewFileProvider reads every schema file in dir.
func NewFileProvider(dir string) (*FileProvider, error) {
	p := &FileProvider{dir: dir, memory: NewMemoryProvider()}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Dir returns the watched directory.
func (p *FileProvider) Dir() string {
	return p.dir
}

// Reload re-reads the directory. On error the previous definitions stay in place.
func (p *FileProvider) Reload() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("read schema dir %s: %w", p.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isSchemaFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var entities []*entity.Entity
	var queries []*QueryDef
	seen := make(map[string]string)
	for _, name := range names {
		path := filepath.Join(p.dir, name)
		doc, err := readSchemaFile(path)
		if err != nil {
			return err
		}
		for _, e := range doc.Entities {
			if prev, dup := seen[e.Name]; dup {
				return fmt.Errorf("entity %s defined in both %s and %s", e.Name, prev, name)
			}
			seen[e.Name] = name
			entities = append(entities, e)
		}
		queries = append(queries, doc.Queries...)
	}
	p.memory.Replace(entities, queries)
	return nil
}

func readSchemaFile(path string) (*fileDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema file %s: %w", path, err)
	}
	return &doc, nil
}

func isSchemaFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func (p *FileProvider) GetEntityDefinition(ctx context.Context, name string, status entity.PublicationStatus) (*entity.Entity, error) {
	return p.memory.GetEntityDefinition(ctx, name, status)
}

func (p *FileProvider) ListEntityDefinitions(ctx context.Context, status entity.PublicationStatus) ([]*entity.Entity, error) {
	return p.memory.ListEntityDefinitions(ctx, status)
}

func (p *FileProvider) GetQueryDefinition(ctx context.Context, name string, status entity.PublicationStatus) (*QueryDef, error) {
	return p.memory.GetQueryDefinition(ctx, name, status)
}
