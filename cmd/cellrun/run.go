package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cellrun/internal/command"
	"cellrun/internal/connection"
	"cellrun/internal/host"
	"cellrun/internal/host/page"
	"cellrun/internal/kernel"
	"cellrun/internal/settings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errReported marks a failure the user has already been told about.
var errReported = errors.New("run failed")

type runOptions struct {
	page  string
	block string
	url   string
	press string
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the python block of a page and append its output",
		Long: `Selects a block of a markdown page, runs its python block on a Jupyter
server and inserts the output as a new block after it.

The server URL comes from --url, else from the jupyter_server_url setting
when --settings is given, else from the block's "jupyter::" property.`,
		Example: `  cellrun run --page notes.md --block 3 --url "http://localhost:8888/?token=abc"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.page, "page", "", "Markdown page file")
	cmd.Flags().StringVar(&opts.block, "block", "", "Block uuid or 1-based position")
	cmd.Flags().StringVar(&opts.url, "url", "", "Jupyter server URL including ?token=")
	cmd.Flags().StringVar(&opts.press, "press", "", "Trigger through this keybinding instead of the slash command")
	cmd.MarkFlagRequired("page")
	cmd.MarkFlagRequired("block")
	return cmd
}

func (a *app) run(ctx context.Context, stdout, stderr io.Writer, opts runOptions) error {
	p, err := page.Open(opts.page)
	if err != nil {
		return err
	}
	if err := p.Select(opts.block); err != nil {
		return err
	}
	src, err := p.CurrentBlock(ctx)
	if err != nil {
		return err
	}

	resolver, err := a.resolver(opts.url, p)
	if err != nil {
		return err
	}

	runner := &command.Runner{
		Editor:   p,
		Notifier: &consoleNotifier{w: stderr, logger: a.logger},
		Resolver: resolver,
		Driver: kernel.NewClient(kernel.Options{
			KernelName: a.cfg.KernelName,
			Logger:     a.logger,
		}),
		Logger: a.logger,
	}

	reg := host.NewRegistry()
	if err := command.Register(reg, opts.press, runner.Run); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.press != "" {
		err = reg.Press(ctx, opts.press)
	} else {
		err = reg.Invoke(ctx, command.SlashName)
	}
	if err != nil {
		return errReported
	}

	if out, ok := blockAfter(p, src.UUID); ok {
		fmt.Fprintln(stdout, out.Content)
	}
	return nil
}

func (a *app) resolver(url string, p *page.Page) (connection.Resolver, error) {
	switch {
	case url != "":
		return connection.Static{URL: url}, nil
	case a.cfg.SettingsPath != "":
		store, err := settings.Open(a.cfg.SettingsPath, a.logger)
		if err != nil {
			return nil, err
		}
		return connection.SettingsResolver{Settings: store}, nil
	}
	return connection.PropertyResolver{Editor: p}, nil
}

func blockAfter(p *page.Page, id string) (host.Block, bool) {
	blocks := p.Blocks()
	for i, b := range blocks {
		if b.UUID == id && i+1 < len(blocks) {
			return blocks[i+1], true
		}
	}
	return host.Block{}, false
}

// consoleNotifier prints toasts to the terminal.
type consoleNotifier struct {
	w      io.Writer
	logger *zap.Logger
}

func (n *consoleNotifier) ShowMsg(_ context.Context, msg string, severity host.Severity, _ time.Duration) error {
	n.logger.Debug("notify", zap.String("severity", string(severity)), zap.String("message", msg))
	_, err := fmt.Fprintf(n.w, "[%s] %s\n", severity, msg)
	return err
}
