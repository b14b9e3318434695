package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ep-code-box/CoE/coe/config"
	"github.com/ep-code-box/CoE/coe/generation"
	"github.com/ep-code-box/CoE/coe/generation/harness/tools"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

type options struct {
	configPath   string
	model        string
	noTools      bool
	noToolChoice bool
	builtins     bool
	toolsRoot    string
	listModels   bool
	output       string
	watch        bool
}

func main() {
	fs := pflag.NewFlagSet("coe-agent", pflag.ExitOnError)
	opts := options{}
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml")
	fs.StringVarP(&opts.model, "model", "m", "", "model display name (default: first model of the backend)")
	fs.BoolVar(&opts.noTools, "no-tools", false, "do not offer tools to the model")
	fs.BoolVar(&opts.noToolChoice, "no-tool-choice", false, "omit tool_choice=auto from requests")
	fs.BoolVar(&opts.builtins, "builtin-tools", true, "offer the built-in tools")
	fs.StringVar(&opts.toolsRoot, "tools-root", ".", "directory fs_metadata is confined to")
	fs.BoolVar(&opts.listModels, "list-models", false, "print the backend's models and exit")
	fs.StringVarP(&opts.output, "output", "o", "text", "output view: message, text or response")
	fs.BoolVar(&opts.watch, "watch", false, "reload the config file when it changes (interactive mode)")
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	if err := run(opts, strings.Join(fs.Args(), " "), fs); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, chatText string, fs *pflag.FlagSet) error {
	if err := validateOutput(opts.output); err != nil {
		return err
	}

	if err := config.BindFlags(fs); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHost(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer h.close()

	if opts.listModels {
		return h.listModels(ctx, os.Stdout)
	}
	if strings.TrimSpace(chatText) != "" {
		return h.ask(ctx, chatText, os.Stdout)
	}

	if opts.watch {
		config.Watch(logger, func(next *config.Config) {
			if err := h.reload(ctx, next); err != nil {
				logger.Error().Err(err).Msg("failed to rebuild agent after config change")
			}
		})
	}
	return h.repl(ctx, os.Stdin, os.Stdout)
}

func validateOutput(view string) error {
	switch view {
	case "message", "text", "response":
		return nil
	}
	return fmt.Errorf("unknown output view %q", view)
}

// instance is one built agent together with the requests still using it.
type instance struct {
	cfg      *config.Config
	agent    *generation.Agent
	closeFn  func() error
	inflight sync.WaitGroup
}

// host owns the agent and swaps it when the configuration changes.
type host struct {
	mu     sync.Mutex
	cur    *instance
	opts   options
	logger zerolog.Logger
}

func newHost(ctx context.Context, cfg *config.Config, opts options, logger zerolog.Logger) (*host, error) {
	h := &host{opts: opts, logger: logger}
	if err := h.reload(ctx, cfg); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *host) reload(ctx context.Context, cfg *config.Config) error {
	agent, closeFn, err := generation.Build(ctx, cfg, h.logger)
	if err != nil {
		return err
	}
	h.swap(&instance{cfg: cfg, agent: agent, closeFn: closeFn})
	return nil
}

// swap installs next and closes the previous instance once its in-flight
// requests have returned. A nil next only retires the current instance.
func (h *host) swap(next *instance) {
	h.mu.Lock()
	prev := h.cur
	h.cur = next
	h.mu.Unlock()

	if prev == nil {
		return
	}
	prev.inflight.Wait()
	if prev.closeFn != nil {
		if err := prev.closeFn(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to close previous catalog database")
		}
	}
}

func (h *host) close() {
	h.swap(nil)
}

// acquire returns the current instance; release must be called when the
// caller is done with it.
func (h *host) acquire() (*instance, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.cur
	g.inflight.Add(1)
	return g, g.inflight.Done
}

func (h *host) input(cfg *config.Config, chatText string) generation.Input {
	in := generation.NewInput(cfg, chatText)
	in.ModelName = h.opts.model
	if h.opts.noTools {
		in.EnableTools = false
	}
	if h.opts.noToolChoice {
		in.ToolChoiceAuto = false
	}
	if h.opts.builtins {
		in.Tools = tools.Builtins(h.opts.toolsRoot)
	}
	return in
}

func (h *host) listModels(ctx context.Context, w io.Writer) error {
	g, release := h.acquire()
	defer release()
	cfg, agent := g.cfg, g.agent
	selected, err := agent.RefreshModels(ctx, cfg.Backend.URL, cfg.Backend.ForceHTTPS, h.opts.model)
	if err != nil {
		return err
	}
	for _, name := range agent.Models() {
		marker := " "
		if name == selected {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\n", marker, name, agent.ModelID(generation.Input{ModelName: name}))
	}
	return nil
}

func (h *host) ask(ctx context.Context, chatText string, w io.Writer) error {
	g, release := h.acquire()
	defer release()
	agent := g.agent
	in := h.input(g.cfg, chatText)

	switch h.opts.output {
	case "message":
		msg, err := agent.ChatOutput(ctx, in)
		if err != nil {
			return err
		}
		return writeJSON(w, msg)
	case "response":
		resp, err := agent.ResponseOutput(ctx, in)
		if err != nil {
			return err
		}
		return writeJSON(w, resp)
	default:
		text, err := agent.TextOutput(ctx, in)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, text)
		return err
	}
}

func (h *host) repl(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	stat, _ := os.Stdin.Stat()
	interactive := stat != nil && stat.Mode()&os.ModeCharDevice != 0

	prompt := func() {
		if interactive {
			fmt.Fprint(w, "coe> ")
		}
	}

	prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			prompt()
			continue
		case "exit", "quit":
			return nil
		}
		if err := h.ask(ctx, line, w); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		prompt()
	}
	return scanner.Err()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
