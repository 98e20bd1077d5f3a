package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/soracane/agentwatch/internal/config"
	"github.com/soracane/agentwatch/internal/history"
	"github.com/soracane/agentwatch/internal/hook"
	"github.com/soracane/agentwatch/internal/liveness"
	"github.com/soracane/agentwatch/internal/logging"
	"github.com/soracane/agentwatch/internal/model"
	"github.com/soracane/agentwatch/internal/notify"
	"github.com/soracane/agentwatch/internal/registry"
	"github.com/soracane/agentwatch/internal/transcript"
	"github.com/soracane/agentwatch/internal/ttyresolve"
)

const maxHookPayloadBytes int64 = 1 << 20

type Runner struct {
	cfg    config.Config
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// resolveTTY supplies the contextual terminal for hook events; the
	// payload's own tty always wins over it.
	resolveTTY func() string
}

func NewRunner(cfg config.Config, in io.Reader, out, errOut io.Writer) *Runner {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{
		cfg:        cfg,
		in:         in,
		out:        out,
		errOut:     errOut,
		resolveTTY: ttyresolve.ControllingTTY,
	}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		r.printUsage()
		return 2
	}
	switch args[0] {
	case "hook":
		return r.runHook(ctx, args[1:])
	case "list":
		return r.runList(args[1:])
	case "clear":
		return r.runClear()
	case "watch":
		return r.runWatch(ctx, args[1:])
	case "history":
		return r.runHistory(ctx, args[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", args[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, `usage: agentwatch <command>

commands:
  hook <event>    record one lifecycle event (JSON payload on stdin)
  list [--json]   show tracked sessions
  clear           empty the registry
  watch [--json]  show sessions and re-render on changes
  history [--json] [--limit n]  show recently recorded events`)
}

// runHook never returns non-zero for a dropped or rejected event: the
// runtime invoking the hook must keep going regardless of the outcome.
func (r *Runner) runHook(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("hook", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ttyFlag := fs.String("tty", "", "controlling terminal override")
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		_, _ = fmt.Fprintln(r.errOut, "usage: agentwatch hook <event>")
		return 2
	}
	eventName := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}

	log, closeLog := logging.NewFile(r.cfg.StateDir, r.cfg.LogLevel)
	defer closeLog() //nolint:errcheck

	payload, err := io.ReadAll(io.LimitReader(r.in, maxHookPayloadBytes))
	if err != nil {
		log.Warn().Err(err).Msg("read hook payload")
		return 0
	}

	contextualTTY := *ttyFlag
	if contextualTTY == "" {
		contextualTTY = r.resolveTTY()
	}

	store := r.newStore(log)
	var recorder hook.Recorder
	if r.cfg.HistoryEnabled {
		if hs, err := history.Open(ctx, r.cfg.HistoryPath); err == nil {
			defer hs.Close() //nolint:errcheck
			recorder = hs
		} else {
			log.Debug().Err(err).Msg("history unavailable")
		}
	}

	h := hook.NewHandler(store, recorder, r.cfg.NotifyInputMarkers, log)
	// Handler failures are already logged; the hook pipeline must not see
	// a failure.
	_ = h.Handle(eventName, contextualTTY, payload)
	return 0
}

func (r *Runner) runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}

	log := logging.Console(r.cfg.LogLevel)
	sessions, err := r.newStore(log).List()
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if err := r.printSessions(sessions, *jsonOut); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	return 0
}

func (r *Runner) runClear() int {
	log := logging.Console(r.cfg.LogLevel)
	if err := r.newStore(log).Clear(); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(r.out, "registry cleared")
	return 0
}

func (r *Runner) runWatch(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}

	log := logging.Console(r.cfg.LogLevel)
	store := r.newStore(log)

	watcher := notify.NewWatcher(store.Path(), log)
	if err := watcher.Start(); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	defer watcher.Stop()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	render := func() {
		sessions, err := store.List()
		if err != nil {
			log.Warn().Err(err).Msg("list failed")
			return
		}
		if err := r.printSessions(sessions, *jsonOut); err != nil {
			log.Warn().Err(err).Msg("render failed")
		}
	}

	render()
	for {
		select {
		case <-ctx.Done():
			return 0
		case <-watcher.Changes():
			// Notifications carry no delta; always re-read full state.
			render()
		}
	}
}

func (r *Runner) runHistory(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	limit := fs.Int("limit", 50, "maximum entries")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}

	hs, err := history.Open(ctx, r.cfg.HistoryPath)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	defer hs.Close() //nolint:errcheck

	entries, err := hs.Recent(ctx, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if *jsonOut {
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 1
		}
		return 0
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\t%s\n",
			e.RecordedAt.Local().Format(time.RFC3339),
			e.Event, e.SessionID, e.Status, e.TTY)
	}
	return 0
}

func (r *Runner) newStore(log zerolog.Logger) *registry.Store {
	checker := liveness.NewChecker(r.cfg.LivenessTTL)
	return registry.NewStore(registry.Options{
		Path:        r.cfg.RegistryPath,
		StaleAfter:  r.cfg.StaleAfter,
		LockTimeout: r.cfg.LockTimeout,
		LockBackoff: r.cfg.LockBackoff,
		IsAlive:     checker.IsAlive,
		Enricher:    transcript.NewReader(),
	})
}

func (r *Runner) printSessions(sessions []model.Session, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(r.out, "no sessions")
		return nil
	}
	for _, s := range sessions {
		title := s.TaskTitle
		if title == "" {
			title = "-"
		}
		tty := s.TTY
		if tty == "" {
			tty = "-"
		}
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.SessionID, string(s.Status), tty, s.CWD,
			s.UpdatedAt.Local().Format("15:04:05"), title)
	}
	return nil
}
