package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// TemplateSource is the read-only template id -> files lookup used when no
// live generation is requested. It is the deterministic fallback path: the
// same template id always yields the same files.
type TemplateSource struct {
	mu        sync.RWMutex
	templates map[string]map[string]string
}

// NewTemplateSource creates a source pre-loaded with the built-in templates.
func NewTemplateSource() *TemplateSource {
	s := &TemplateSource{templates: make(map[string]map[string]string)}
	for id, files := range builtinTemplates {
		s.Register(id, files)
	}
	return s
}

// Register adds or replaces a template. The file map is copied.
func (s *TemplateSource) Register(id string, files map[string]string) {
	copied := make(map[string]string, len(files))
	for path, content := range files {
		copied[path] = content
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[id] = copied
}

// LoadDir registers one template per subdirectory of root, with each file's
// relative path as the artifact path. Missing root is not an error; an empty
// source still serves the built-ins.
func (s *TemplateSource) LoadDir(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read template dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files := make(map[string]string)
		dir := filepath.Join(root, entry.Name())
		walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			files[filepath.ToSlash(rel)] = string(content)
			return nil
		})
		if walkErr != nil {
			return fmt.Errorf("load template %s: %w", entry.Name(), walkErr)
		}
		s.Register(entry.Name(), files)
	}
	return nil
}

// Files returns a copy of the template's files, or ErrTemplateNotFound.
func (s *TemplateSource) Files(id string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, ok := s.templates[id]
	if !ok {
		return nil, domain.NewEngineError(
			domain.ErrTemplateNotFound.Code,
			fmt.Sprintf("template %q not found", id),
		)
	}
	copied := make(map[string]string, len(files))
	for path, content := range files {
		copied[path] = content
	}
	return copied, nil
}

// List returns registered template ids in sorted order.
func (s *TemplateSource) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.templates))
	for id := range s.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// builtinTemplates ship with the engine so demo-mode executions work with no
// template directory configured.
var builtinTemplates = map[string]map[string]string{
	"rest_api": {
		"docs/architecture.md": `# REST API Architecture

## Components
- HTTP API layer with CRUD endpoints
- Service layer encapsulating business rules
- Repository layer over a relational database

## Tech stack
- Containerized service behind a reverse proxy
- PostgreSQL for durable state
- OpenAPI 3.0 contract published at /docs

## Deployment
Single stateless container, horizontally scalable; migrations run on boot.
`,
		"docs/api.yaml": `openapi: "3.0.3"
info:
  title: Generated REST API
  version: "0.1.0"
paths:
  /health:
    get:
      summary: Liveness probe
      responses:
        "200":
          description: OK
  /items:
    get:
      summary: List items
      responses:
        "200":
          description: OK
    post:
      summary: Create an item
      responses:
        "201":
          description: Created
`,
	},
	"worker_service": {
		"docs/architecture.md": `# Worker Service Architecture

## Components
- Queue consumer with bounded concurrency
- Task handler registry
- Dead-letter handling for poison messages

## Deployment
One consumer group per environment; scale by partition count.
`,
	},
}
