package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrObjectNotFound = errors.New("object not found")

// Backend is a hierarchical object store. List returns the names of the
// immediate children of prefix, without the prefix.
type Backend interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	DownloadURL(ctx context.Context, key string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

func ownerPrefix(ownerID string) string {
	return fmt.Sprintf("users/%s/", strings.TrimSpace(ownerID))
}

// ArtifactPrefix is the folder holding an owner's converted markup.
func ArtifactPrefix(ownerID string) string {
	return ownerPrefix(ownerID) + "mmd/"
}

func ArtifactKey(ownerID, fileName string) string {
	return ArtifactPrefix(ownerID) + fileName
}

// SourceKey is where uploaded originals are kept for the converter to fetch.
func SourceKey(ownerID, fileName string) string {
	return ownerPrefix(ownerID) + "uploads/" + fileName
}

// childName trims prefix from key and reports whether what remains is a
// direct child object.
func childName(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(key, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
