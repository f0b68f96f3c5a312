package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// FileStore writes artifacts under a local directory
type FileStore struct {
	root string
}

// NewFileStore creates root if it doesn't exist
func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{root: abs}, nil
}

// Store writes the artifact to a temp file and renames it into place
func (s *FileStore) Store(ctx context.Context, artifact Artifact) (string, error) {
	if err := validate(artifact); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.root, filepath.FromSlash(ObjectKey(artifact)))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	if _, err := tmp.Write(artifact.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit artifact: %w", err)
	}

	return fileScheme + filepath.ToSlash(target), nil
}

// Load reads back an artifact by the reference Store returned
func (s *FileStore) Load(ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, fileScheme) {
		return nil, fmt.Errorf("not a file reference: %q", ref)
	}
	p := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(ref, fileScheme)))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("reference outside storage root: %q", ref)
	}
	return os.ReadFile(p)
}
