// Package page is a host.Editor over an outliner-style markdown file: each
// top-level "- " bullet is a block, continuation lines are indented by two
// spaces, and "key:: value" lines are block properties.
package page

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"cellrun/internal/host"

	"github.com/google/uuid"
)

const (
	bullet = "- "
	indent = "  "
)

var propertyLine = regexp.MustCompile(`^([A-Za-z0-9_-]+)::[ \t]*(.*)$`)

type block struct {
	id      string
	content string
}

// Page is a markdown page loaded in memory. Every mutation is written back
// to the file.
type Page struct {
	path string

	mu       sync.Mutex
	preamble []string
	blocks   []*block
	current  string
	editing  string
}

// Open reads and parses the page at path.
func Open(path string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	p := Parse(string(data))
	p.path = path
	return p, nil
}

// Parse builds an unsaved page from markdown text.
func Parse(text string) *Page {
	p := &Page{}
	var cur []string

	flush := func() {
		if cur == nil {
			return
		}
		content := strings.TrimRight(strings.Join(cur, "\n"), "\n")
		id := Properties(content)["id"]
		if id == "" {
			id = uuid.New().String()
		}
		p.blocks = append(p.blocks, &block{id: id, content: content})
		cur = nil
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, bullet) || line == "-":
			flush()
			cur = []string{strings.TrimPrefix(strings.TrimPrefix(line, "-"), " ")}
		case cur != nil && strings.HasPrefix(line, indent):
			cur = append(cur, strings.TrimPrefix(line, indent))
		case cur != nil && strings.TrimSpace(line) == "":
			cur = append(cur, "")
		case cur == nil:
			p.preamble = append(p.preamble, line)
		default:
			// Unindented text inside a block still belongs to it.
			cur = append(cur, line)
		}
	}
	flush()

	for len(p.preamble) > 0 && strings.TrimSpace(p.preamble[len(p.preamble)-1]) == "" {
		p.preamble = p.preamble[:len(p.preamble)-1]
	}
	return p
}

// Properties extracts "key:: value" lines from block content. Keys are
// lower-cased.
func Properties(content string) map[string]string {
	props := map[string]string{}
	open := 0 // length of the enclosing fence, 0 outside one
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if n := fenceLen(trimmed); n > 0 {
			switch {
			case open == 0:
				open = n
			case n >= open && strings.Trim(trimmed, "`") == "":
				open = 0
			}
			continue
		}
		if open > 0 {
			continue
		}
		if m := propertyLine.FindStringSubmatch(trimmed); m != nil {
			props[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
		}
	}
	return props
}

// fenceLen returns the length of the backtick fence opening line, or 0.
func fenceLen(line string) int {
	n := len(line) - len(strings.TrimLeft(line, "`"))
	if n < 3 {
		return 0
	}
	return n
}

// String renders the page back to markdown.
func (p *Page) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.render()
}

func (p *Page) render() string {
	var b strings.Builder
	for _, line := range p.preamble {
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, blk := range p.blocks {
		for i, line := range strings.Split(blk.content, "\n") {
			switch {
			case i == 0:
				b.WriteString(bullet)
			case line != "":
				b.WriteString(indent)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// save writes the page atomically. Unsaved pages (no path) are skipped.
func (p *Page) save() error {
	if p.path == "" {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".page-*")
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	if _, err := tmp.WriteString(p.render()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save page: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save page: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}

// Blocks returns a snapshot of all blocks in order.
func (p *Page) Blocks() []host.Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]host.Block, 0, len(p.blocks))
	for _, blk := range p.blocks {
		out = append(out, snapshot(blk))
	}
	return out
}

func snapshot(blk *block) host.Block {
	return host.Block{UUID: blk.id, Content: blk.content, Properties: Properties(blk.content)}
}

// Select makes a block current and puts it in edit mode. ref is a block
// uuid or a 1-based position.
func (p *Page) Select(ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(p.blocks) {
			return fmt.Errorf("%w: position %d of %d", host.ErrBlockNotFound, n, len(p.blocks))
		}
		p.current = p.blocks[n-1].id
		p.editing = p.current
		return nil
	}

	if _, idx := p.find(ref); idx < 0 {
		return fmt.Errorf("%w: %s", host.ErrBlockNotFound, ref)
	}
	p.current = ref
	p.editing = ref
	return nil
}

// Editing returns the id of the block in edit mode, "" if none.
func (p *Page) Editing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.editing
}

func (p *Page) find(id string) (*block, int) {
	for i, blk := range p.blocks {
		if blk.id == id {
			return blk, i
		}
	}
	return nil, -1
}

func (p *Page) CurrentBlock(_ context.Context) (host.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == "" {
		return host.Block{}, host.ErrNoBlock
	}
	blk, _ := p.find(p.current)
	if blk == nil {
		return host.Block{}, host.ErrNoBlock
	}
	return snapshot(blk), nil
}

func (p *Page) BlockProperty(_ context.Context, blockID, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	blk, _ := p.find(blockID)
	if blk == nil {
		return "", fmt.Errorf("%w: %s", host.ErrBlockNotFound, blockID)
	}
	return Properties(blk.content)[strings.ToLower(key)], nil
}

func (p *Page) InsertBlock(_ context.Context, ref, content string, placement host.Placement) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, idx := p.find(ref)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", host.ErrBlockNotFound, ref)
	}
	if placement == host.After {
		idx++
	}

	blk := &block{id: uuid.New().String(), content: content}
	p.blocks = append(p.blocks, nil)
	copy(p.blocks[idx+1:], p.blocks[idx:])
	p.blocks[idx] = blk
	p.editing = blk.id

	if err := p.save(); err != nil {
		return "", err
	}
	return blk.id, nil
}

func (p *Page) UpdateBlock(_ context.Context, blockID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	blk, _ := p.find(blockID)
	if blk == nil {
		return fmt.Errorf("%w: %s", host.ErrBlockNotFound, blockID)
	}
	blk.content = content
	return p.save()
}

func (p *Page) ExitEditing(_ context.Context, blockID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.editing == blockID {
		p.editing = ""
	}
	return nil
}
