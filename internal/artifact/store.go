// Package artifact stores named binary payloads scoped to one generation
// session. Each session owns a directory under the manager root; the
// directory is removed when the session is torn down.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("artifact not found")

const indexFile = ".index.json"

// Artifact is a named payload with its MIME type.
type Artifact struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Manager hands out per-session workspaces below a root directory.
type Manager struct {
	root string

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewManager creates the root directory if needed.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	return &Manager{root: root, workspaces: make(map[string]*Workspace)}, nil
}

// Workspace returns the workspace of a session, creating it on first use.
func (m *Manager) Workspace(sessionID string) (*Workspace, error) {
	if err := validName(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session id: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.workspaces[sessionID]; ok {
		return ws, nil
	}

	dir := filepath.Join(m.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	ws := &Workspace{dir: dir, mimes: make(map[string]string)}
	if err := ws.loadIndex(); err != nil {
		return nil, err
	}
	m.workspaces[sessionID] = ws
	return ws, nil
}

// Remove deletes a session's workspace and everything in it.
func (m *Manager) Remove(sessionID string) error {
	if err := validName(sessionID); err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	m.mu.Lock()
	delete(m.workspaces, sessionID)
	m.mu.Unlock()
	return os.RemoveAll(filepath.Join(m.root, sessionID))
}

// Workspace is a directory of artifacts owned by one session.
type Workspace struct {
	dir string

	mu    sync.RWMutex
	mimes map[string]string
}

// Save writes an artifact, replacing any previous payload under the same name.
func (w *Workspace) Save(name string, data []byte, mimeType string) error {
	if err := validName(name); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tmp, err := os.CreateTemp(w.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(w.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming %s: %w", name, err)
	}

	w.mimes[name] = mimeType
	return w.saveIndex()
}

// Load reads an artifact. Returns ErrNotFound if it was never saved.
func (w *Workspace) Load(name string) (Artifact, error) {
	if err := validName(name); err != nil {
		return Artifact{}, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(w.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("reading %s: %w", name, err)
	}
	return Artifact{Name: name, MIMEType: w.mimes[name], Data: data}, nil
}

// Exists reports whether an artifact has been saved.
func (w *Workspace) Exists(name string) bool {
	if validName(name) != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, err := os.Stat(filepath.Join(w.dir, name))
	return err == nil
}

// Path is the on-disk location of an artifact.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Names lists saved artifacts in lexical order.
func (w *Workspace) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.mimes))
	for n := range w.mimes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (w *Workspace) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(w.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading artifact index: %w", err)
	}
	if err := json.Unmarshal(data, &w.mimes); err != nil {
		return fmt.Errorf("parsing artifact index: %w", err)
	}
	return nil
}

func (w *Workspace) saveIndex() error {
	data, err := json.Marshal(w.mimes)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, indexFile), data, 0o644)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
