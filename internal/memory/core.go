package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Well-known core block names created by the migrations. Additional
// blocks may be created at runtime.
const (
	BlockPersona     = "persona"
	BlockProjectInfo = "project_info"
	BlockPreferences = "user_preferences"
)

// DefaultBlockMaxSize bounds a core block created at runtime.
const DefaultBlockMaxSize = 4096

// CoreBlock is a named, size-bounded, always-injected text block.
// Exactly one current value per name; writes replace the whole block.
type CoreBlock struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	MaxSize   int       `json:"max_size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CapacityError rejects a core write that exceeds the block's bound.
// The previous content is preserved.
type CapacityError struct {
	Block   string
	Size    int
	MaxSize int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("core memory block %q: %d bytes exceeds maximum %d", e.Block, e.Size, e.MaxSize)
}

// CoreBlocks returns every core block, named order.
func (s *Store) CoreBlocks(ctx context.Context) ([]CoreBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, content, max_size, updated_at FROM core_memory ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []CoreBlock
	for rows.Next() {
		var b CoreBlock
		if err := rows.Scan(&b.Name, &b.Content, &b.MaxSize, &b.UpdatedAt); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// CoreBlock returns one block by name.
func (s *Store) CoreBlock(ctx context.Context, name string) (*CoreBlock, error) {
	var b CoreBlock
	err := s.db.QueryRowContext(ctx, `
		SELECT name, content, max_size, updated_at FROM core_memory WHERE name = ?
	`, name).Scan(&b.Name, &b.Content, &b.MaxSize, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateCore replaces a block's content wholesale. Oversized content is
// rejected with a CapacityError and the block keeps its previous value.
func (s *Store) UpdateCore(ctx context.Context, name, content string) error {
	maxSize := DefaultBlockMaxSize
	if b, err := s.CoreBlock(ctx, name); err == nil {
		maxSize = b.MaxSize
	}
	if len(content) > maxSize {
		return &CapacityError{Block: name, Size: len(content), MaxSize: maxSize}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO core_memory (name, content, max_size, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
	`, name, content, maxSize, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update core memory %q: %w", name, err)
	}
	return nil
}

// FormatCoreForPrompt renders the non-empty core blocks for injection
// into the system context.
func (s *Store) FormatCoreForPrompt(ctx context.Context) (string, error) {
	blocks, err := s.CoreBlocks(ctx)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, b := range blocks {
		if strings.TrimSpace(b.Content) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("<%s>\n%s\n</%s>", b.Name, b.Content, b.Name))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "<core_memory>\n" + strings.Join(parts, "\n") + "\n</core_memory>", nil
}
