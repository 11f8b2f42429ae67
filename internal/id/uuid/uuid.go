// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// WorkerID builds a worker identity of the form "<prefix>-<host>-<pid>-<suffix>",
// where suffix is the first block of a random UUID. An empty prefix defaults
// to "worker". The identity is computed once at startup and injected into the
// runtime.
func WorkerID(prefix string) (string, error) {
	if prefix == "" {
		prefix = "worker"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	host = strings.ToLower(strings.SplitN(host, ".", 2)[0])
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	suffix := strings.SplitN(id.String(), "-", 2)[0]
	return fmt.Sprintf("%s-%s-%d-%s", prefix, host, os.Getpid(), suffix), nil
}
