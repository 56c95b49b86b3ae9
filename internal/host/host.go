// Package host declares the note-taking application's surfaces that cellrun
// consumes: the block editor, toast notifications, persisted settings and
// command registration.
package host

import (
	"context"
	"errors"
	"time"
)

// ErrNoBlock is returned by Editor.CurrentBlock when nothing is selected.
var ErrNoBlock = errors.New("no block selected")

// ErrBlockNotFound is returned when a block id does not resolve.
var ErrBlockNotFound = errors.New("block not found")

// Block is a snapshot of one document block.
type Block struct {
	UUID       string            `json:"uuid"`
	Content    string            `json:"content"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Placement says where a new block goes relative to its reference block.
type Placement string

const (
	Before Placement = "before"
	After  Placement = "after"
)

// Editor is the document editor.
type Editor interface {
	CurrentBlock(ctx context.Context) (Block, error)
	// BlockProperty returns the named property of a block, "" when unset.
	BlockProperty(ctx context.Context, blockID, key string) (string, error)
	// InsertBlock creates a block next to ref and returns the new block's id.
	InsertBlock(ctx context.Context, ref, content string, placement Placement) (string, error)
	// UpdateBlock replaces the block's full content.
	UpdateBlock(ctx context.Context, blockID, content string) error
	ExitEditing(ctx context.Context, blockID string) error
}

// Severity of a toast notification.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier shows transient messages. A zero timeout uses the host default.
type Notifier interface {
	ShowMsg(ctx context.Context, msg string, severity Severity, timeout time.Duration) error
}

// Settings is the plugin's persisted key/value configuration.
// ok is false when no settings have been saved at all.
type Settings interface {
	Settings() (values map[string]any, ok bool)
}

// Action is a registered command's callback.
type Action func(ctx context.Context) error

// PaletteCommand describes a command palette entry with a keybinding.
type PaletteCommand struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	Keybinding string `json:"keybinding,omitempty"`
}

// Registrar registers commands with the host.
type Registrar interface {
	RegisterSlashCommand(name string, action Action) error
	RegisterCommandPalette(cmd PaletteCommand, action Action) error
}
