package execsvc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemSandbox provisions a per-project working directory under
// BaseDir (spec §4.9 supplemented feature #7: synchronous sandbox
// provisioning with rollback on failure), grounded on the donor's
// internal/sandbox workdir/path-policy scoping rules.
type FilesystemSandbox struct {
	BaseDir string
}

func NewFilesystemSandbox(baseDir string) *FilesystemSandbox {
	return &FilesystemSandbox{BaseDir: baseDir}
}

func (s *FilesystemSandbox) Provision(_ context.Context, projectID string) error {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("execsvc: provision sandbox %s: %w", projectID, err)
	}
	return nil
}

func (s *FilesystemSandbox) Destroy(_ context.Context, projectID string) error {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("execsvc: destroy sandbox %s: %w", projectID, err)
	}
	return nil
}

// projectDir rejects a projectID that would escape BaseDir when joined,
// mirroring the donor's pathpolicy traversal checks.
func (s *FilesystemSandbox) projectDir(projectID string) (string, error) {
	if projectID == "" || strings.ContainsAny(projectID, "/\\") || projectID == "." || projectID == ".." {
		return "", fmt.Errorf("execsvc: invalid project id %q", projectID)
	}
	dir := filepath.Join(s.BaseDir, projectID)
	if !strings.HasPrefix(dir, filepath.Clean(s.BaseDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("execsvc: project id %q escapes sandbox base dir", projectID)
	}
	return dir, nil
}
