// internal/storage/archive/interface.go
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/newthinker/tradesim/internal/result"
)

// Backend defines the interface for cold/archive storage backends
type Backend interface {
	// Write stores data at the given path
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths matching the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver stores completed session results as JSON documents on a Backend.
type Archiver struct {
	backend Backend
}

// NewArchiver creates an archiver over the given backend.
func NewArchiver(backend Backend) *Archiver {
	return &Archiver{backend: backend}
}

func resultPath(sessionID string) string {
	return "results/" + sessionID + ".json"
}

// SaveResult writes a session result to the archive.
func (a *Archiver) SaveResult(ctx context.Context, res *result.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return a.backend.Write(ctx, resultPath(res.SessionID), data)
}

// Consume implements the session engine's result consumer contract by
// archiving every completed result.
func (a *Archiver) Consume(ctx context.Context, res *result.Result) error {
	return a.SaveResult(ctx, res)
}

// LoadResult reads an archived session result.
func (a *Archiver) LoadResult(ctx context.Context, sessionID string) (*result.Result, error) {
	data, err := a.backend.Read(ctx, resultPath(sessionID))
	if err != nil {
		return nil, err
	}
	var res result.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &res, nil
}

// ListResults returns the session ids with archived results.
func (a *Archiver) ListResults(ctx context.Context) ([]string, error) {
	paths, err := a.backend.List(ctx, "results")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimPrefix(p, "results/")
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}
