package ruleloader

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/meshtap/meshtap/internal/capture"
)

// BackupSink mirrors descriptors to an append-only JSON-lines file so
// the rule set can be reconstructed after a mock-server restart,
// written with a plain os.OpenFile(O_APPEND) writer since no
// backup/archival library fits anywhere else in this tree (see
// DESIGN.md).
type BackupSink struct {
	mu   sync.Mutex
	file *os.File
}

// OpenBackupSink opens (creating if necessary) the append-only backup file at path.
func OpenBackupSink(path string) (*BackupSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ruleloader: open backup sink %s: %w", path, err)
	}
	return &BackupSink{file: f}, nil
}

// Append writes descriptor as one line of the MockRuleDescriptor wire
// form. Failures here are logged but non-fatal by contract of the
// caller.
func (b *BackupSink) Append(d capture.Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("ruleloader: encode backup entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := b.file.Write(line); err != nil {
		return fmt.Errorf("ruleloader: write backup entry: %w", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (b *BackupSink) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
