package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
)

const workspaceConfigFile = "config.json"

// WorkspaceStore persists workspace configurations under
// <root>/<workspace_id>/config.json.
type WorkspaceStore struct {
	root string
}

// NewWorkspaceStore creates a workspace store rooted at the given
// directory.
func NewWorkspaceStore(root string) (*WorkspaceStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspaces directory: %w", err)
	}
	return &WorkspaceStore{root: root}, nil
}

// Create allocates and persists a workspace from a validated request.
func (s *WorkspaceStore) Create(req core.WorkspaceRequest) (*core.Workspace, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	workspace := core.NewWorkspace(core.WorkspaceID(NewID("ws")), req)
	if err := s.save(workspace); err != nil {
		return nil, err
	}
	return workspace, nil
}

// Get loads a workspace by ID.
func (s *WorkspaceStore) Get(id core.WorkspaceID) (*core.Workspace, error) {
	data, err := os.ReadFile(s.configPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("workspace", string(id))
		}
		return nil, core.ErrInfrastructure("reading workspace config").WithCause(err)
	}
	var workspace core.Workspace
	if err := json.Unmarshal(data, &workspace); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "unmarshaling workspace config").WithCause(err)
	}
	return &workspace, nil
}

// Update persists a modified workspace.
func (s *WorkspaceStore) Update(workspace *core.Workspace) error {
	workspace.UpdatedAt = time.Now().UTC()
	return s.save(workspace)
}

// List returns all persisted workspaces.
func (s *WorkspaceStore) List() ([]*core.Workspace, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, core.ErrInfrastructure("reading workspaces directory").WithCause(err)
	}
	var workspaces []*core.Workspace
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		workspace, err := s.Get(core.WorkspaceID(entry.Name()))
		if err != nil {
			continue
		}
		workspaces = append(workspaces, workspace)
	}
	return workspaces, nil
}

func (s *WorkspaceStore) save(workspace *core.Workspace) error {
	dir := filepath.Join(s.root, string(workspace.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.ErrInfrastructure("creating workspace directory").WithCause(err)
	}
	data, err := json.MarshalIndent(workspace, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling workspace: %w", err)
	}
	if err := atomicWriteFile(s.configPath(workspace.ID), data, 0o644); err != nil {
		return core.ErrInfrastructure("writing workspace config").WithCause(err)
	}
	return nil
}

func (s *WorkspaceStore) configPath(id core.WorkspaceID) string {
	return filepath.Join(s.root, string(id), workspaceConfigFile)
}
