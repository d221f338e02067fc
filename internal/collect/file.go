package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"rankwatch/internal/board"
)

// File reads a source's entries from a JSON file on disk. Useful for feeds
// produced by out-of-band tooling and for fixtures.
type File struct {
	name string
	path string
}

func NewFile(name, path string) *File {
	return &File{name: name, path: path}
}

func (c *File) Name() string { return c.name }

func (c *File) Collect(_ context.Context) ([]board.Entry, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}
	var entries []board.Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.path, err)
	}
	return entries, nil
}
