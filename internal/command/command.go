// Package command wires a host-registered action to the run pipeline:
// extract code, resolve the server, create the output block, then stream the
// kernel's output into it.
package command

import (
	"context"
	"fmt"
	"time"

	"cellrun/internal/connection"
	"cellrun/internal/extract"
	"cellrun/internal/host"
	"cellrun/internal/kernel"
	"cellrun/internal/metrics"
	"cellrun/internal/output"

	"go.uber.org/zap"
)

// Names under which the action is registered.
const (
	SlashName    = "jupyter"
	PaletteKey   = "jupyter-run-cell"
	PaletteLabel = "Run Jupyter cell"
)

const notifyTimeout = 5 * time.Second

// Driver runs code on a kernel and streams its events to handler.
type Driver interface {
	Run(ctx context.Context, info connection.Info, req kernel.ExecutionRequest, handler kernel.Handler) error
}

// Runner runs the current block once per call to Run.
type Runner struct {
	Editor   host.Editor
	Notifier host.Notifier
	Resolver connection.Resolver
	Driver   Driver
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Run executes the current block. Every failure is reported through the
// notifier exactly once and also returned. Failures before the output block
// exists leave the document untouched; later failures keep the block with
// whatever was streamed so far.
func (r *Runner) Run(ctx context.Context) (err error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during run: %v", p)
		}
		r.Metrics.Run(outcome(err))
		if err != nil {
			r.report(ctx, logger, err)
		}
	}()

	block, err := r.Editor.CurrentBlock(ctx)
	if err != nil {
		return fmt.Errorf("get current block: %w", err)
	}

	code, err := extract.Code(block.Content)
	if err != nil {
		return err
	}

	info, err := r.Resolver.Resolve(ctx, block)
	if err != nil {
		return err
	}

	sink, err := output.Begin(ctx, r.Editor, block.UUID,
		output.WithLogger(logger),
		output.WithEventHook(r.Metrics.Message))
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("block_id", block.UUID), zap.String("output_block_id", sink.BlockID()))

	if err := r.Driver.Run(ctx, info, kernel.ExecutionRequest{Code: code}, sink.Handle); err != nil {
		return err
	}

	// Statements without a value produce no result message.
	if err := sink.Close(ctx); err != nil {
		return err
	}

	logger.Info("cell run finished", zap.Int("output_bytes", len(sink.Text())))
	return nil
}

func (r *Runner) report(ctx context.Context, logger *zap.Logger, err error) {
	kind := Classify(err)
	logger.Warn("cell run failed", zap.Int("kind", int(kind)), zap.Error(err))

	if r.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if nerr := r.Notifier.ShowMsg(nctx, message(err), kind.Severity(), 0); nerr != nil {
		logger.Warn("failed to show notification", zap.Error(nerr))
	}
}

// Register registers action with the host: as the "jupyter" slash command
// when keybinding is empty, otherwise as a palette command bound to it.
func Register(reg host.Registrar, keybinding string, action host.Action) error {
	if keybinding == "" {
		return reg.RegisterSlashCommand(SlashName, action)
	}
	return reg.RegisterCommandPalette(host.PaletteCommand{
		Key:        PaletteKey,
		Label:      PaletteLabel,
		Keybinding: keybinding,
	}, action)
}
