// Package storage persists binary artifacts and hands back a durable reference.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// Artifact is one rendered file plus what produced it
type Artifact struct {
	Data        []byte
	ContentType string
	Operation   models.OperationType
	SourceURL   string
	ProjectID   string
	CreatedAt   time.Time
}

// Store persists artifacts
type Store interface {
	// Store saves the artifact and returns a durable reference to it
	Store(ctx context.Context, artifact Artifact) (string, error)
}

var extensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// ObjectKey builds {project}/{operation}/{yyyy}/{mm}/{dd}/{uuid}{ext}
func ObjectKey(a Artifact) string {
	project := a.ProjectID
	if project == "" {
		project = "anonymous"
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.UTC()

	ext := extensions[strings.ToLower(a.ContentType)]
	if ext == "" {
		ext = ".bin"
	}

	return path.Join(
		sanitizeSegment(project),
		sanitizeSegment(string(a.Operation)),
		created.Format("2006"),
		created.Format("01"),
		created.Format("02"),
		uuid.New().String()+ext,
	)
}

func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "_"
	}
	return s
}

func validate(a Artifact) error {
	if len(a.Data) == 0 {
		return fmt.Errorf("artifact is empty")
	}
	if a.ContentType == "" {
		return fmt.Errorf("artifact content type is required")
	}
	return nil
}
