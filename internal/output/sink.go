// Package output reduces a kernel's iopub events into one rendered output
// block in the host document.
package output

import (
	"context"
	"fmt"
	"strings"

	"cellrun/internal/host"
	"cellrun/internal/protocol"

	"go.uber.org/zap"
)

// State is the lifecycle of one execution's output.
type State int

const (
	NotStarted State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Sink owns the output block of a single invocation.
// It is not safe for concurrent use; events must arrive in delivery order.
type Sink struct {
	editor  host.Editor
	logger  *zap.Logger
	blockID string
	state   State
	failed  bool
	chunks  []string
	onEvent func(kind string)
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the sink's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// WithEventHook is called with the kind of every event handed to the sink.
func WithEventHook(fn func(kind string)) Option {
	return func(s *Sink) { s.onEvent = fn }
}

// New returns a sink that has not created its block yet.
func New(editor host.Editor, opts ...Option) *Sink {
	s := &Sink{
		editor: editor,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin creates a sink and its output block right after anchor.
func Begin(ctx context.Context, editor host.Editor, anchor string, opts ...Option) (*Sink, error) {
	s := New(editor, opts...)
	if err := s.Start(ctx, anchor); err != nil {
		return nil, err
	}
	return s, nil
}

// Start inserts the empty output block. It may be called once.
func (s *Sink) Start(ctx context.Context, anchor string) error {
	if s.state != NotStarted {
		return fmt.Errorf("output block already created: %s", s.blockID)
	}

	id, err := s.editor.InsertBlock(ctx, anchor, s.Render(), host.After)
	if err != nil {
		return fmt.Errorf("create output block: %w", err)
	}

	s.blockID = id
	s.state = Running
	s.logger.Debug("output block created", zap.String("block_id", id), zap.String("anchor", anchor))
	return nil
}

// Handle reduces one event. Status and unknown events are ignored, stream
// text is appended, and a result or error appends its text and finishes the
// block. Events after Finished are dropped.
func (s *Sink) Handle(ctx context.Context, ev protocol.Event) error {
	if s.onEvent != nil {
		s.onEvent(ev.Kind())
	}

	if s.state != Running {
		s.logger.Debug("dropping event", zap.String("kind", ev.Kind()), zap.Stringer("state", s.state))
		return nil
	}

	switch e := ev.(type) {
	case protocol.Stream:
		s.chunks = append(s.chunks, e.Text)
		return s.flush(ctx)

	case protocol.ExecuteResult:
		s.chunks = append(s.chunks, e.Text())
		return s.finish(ctx)

	case protocol.Error:
		s.chunks = append(s.chunks, e.EValue)
		s.failed = true
		return s.finish(ctx)

	case protocol.Status, protocol.Other:
		return nil
	}
	return nil
}

// Close finishes a block whose execution settled without a result or error
// message. It is a no-op once Finished.
func (s *Sink) Close(ctx context.Context) error {
	if s.state != Running {
		return nil
	}
	return s.finish(ctx)
}

func (s *Sink) finish(ctx context.Context) error {
	// Finished is reached even if the final write fails so that no later
	// event can be rendered.
	s.state = Finished
	if err := s.flush(ctx); err != nil {
		return err
	}
	if err := s.editor.ExitEditing(ctx, s.blockID); err != nil {
		return fmt.Errorf("exit editing %s: %w", s.blockID, err)
	}
	return nil
}

// flush replaces the block content with the full rendering.
func (s *Sink) flush(ctx context.Context) error {
	if err := s.editor.UpdateBlock(ctx, s.blockID, s.Render()); err != nil {
		return fmt.Errorf("update output block %s: %w", s.blockID, err)
	}
	return nil
}

// Text is the accumulated output so far.
func (s *Sink) Text() string {
	return strings.Join(s.chunks, "")
}

// Render returns the block content for the current output.
func (s *Sink) Render() string {
	return Render(s.Text(), s.failed)
}

// State returns the current state.
func (s *Sink) State() State { return s.state }

// BlockID returns the output block's id, "" before Start.
func (s *Sink) BlockID() string { return s.blockID }
