package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/coachctl/internal/config"
	otelPkg "github.com/basket/coachctl/internal/otel"
	"github.com/basket/coachctl/internal/policy"
	"github.com/basket/coachctl/internal/run"
	"github.com/basket/coachctl/internal/session"
	"github.com/basket/coachctl/internal/telemetry"
	"github.com/basket/coachctl/internal/timeline"
	"github.com/basket/coachctl/internal/tui"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                          Start the interactive console (audit mode by default)
  %s -mode chat               Plain chat console, no approval gates
  %s -headless                Line-oriented REPL on stdin/stdout (no TUI)

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  COACHCTL_HOME           Data directory (default: ~/.coachctl)
  COACHCTL_TOKEN          Bearer token (overrides config token and token_file)
  COACHCTL_NO_TUI         Set to 1 to force the headless REPL

EXAMPLES:
  Audit console:          %s
  Against a remote:       %s -server wss://coach.example.com/ws/coach
`, os.Args[0], os.Args[0])
}

func fatalStartup(logger *slog.Logger, code string, err error) {
	if logger != nil {
		logger.Error("startup failed", "code", code, "error", err)
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", code, err)
	os.Exit(1)
}

func main() {
	modeFlag := flag.String("mode", "", "console mode: audit or chat (default from config)")
	serverFlag := flag.String("server", "", "websocket endpoint (overrides config server_url)")
	headless := flag.Bool("headless", false, "line-oriented REPL, no TUI")
	debug := flag.Bool("debug", false, "debug logging")
	version := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *version {
		fmt.Println("coachctl", Version)
		return
	}

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("COACHCTL_NO_TUI") == "" && !*headless

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if *serverFlag != "" {
		cfg.ServerURL = strings.TrimSpace(*serverFlag)
	}
	switch strings.ToLower(strings.TrimSpace(*modeFlag)) {
	case config.ModeChat:
		cfg.Mode = config.ModeChat
	case config.ModeAudit:
		cfg.Mode = config.ModeAudit
	}
	audit := cfg.Mode == config.ModeAudit

	level := cfg.LogLevel
	if *debug {
		level = "debug"
	}
	// Quiet logs (file-only) in interactive mode so the TUI stays clean.
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, level, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup", "version", Version, "mode", cfg.Mode, "server", cfg.ServerURL)

	provider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	// Approval policy. Audit mode loads the persisted policy and hot-reloads
	// it when the file changes; chat mode approves everything.
	var polSource policy.Source
	var live *policy.Live
	if audit {
		initial, perr := policy.Load(cfg.PolicyPath())
		if perr != nil {
			logger.Warn("policy file unreadable, using defaults", "path", cfg.PolicyPath(), "error", perr)
		}
		live = policy.NewLive(initial, cfg.PolicyPath())
		polSource = live
	} else {
		polSource = policy.Static(policy.Default())
	}

	rec := timeline.New()
	defer rec.Close()
	if cfg.Timeline.File != "" {
		if err := rec.OpenFile(cfg.Timeline.File); err != nil {
			logger.Warn("timeline file sink disabled", "path", cfg.Timeline.File, "error", err)
		}
	}
	if cfg.Timeline.SQLitePath != "" {
		db, derr := timeline.OpenDB(cfg.Timeline.SQLitePath)
		if derr != nil {
			logger.Warn("timeline sqlite sink disabled", "path", cfg.Timeline.SQLitePath, "error", derr)
		} else {
			defer db.Close()
			rec.SetDB(db)
		}
	}

	metrics, err := run.NewMetrics(provider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	token, err := cfg.BearerToken()
	if err != nil {
		fatalStartup(logger, "E_TOKEN", err)
	}

	// The mode selector rides on the dial URL only in audit mode.
	dialMode := ""
	if audit {
		dialMode = config.ModeAudit
	}
	sess, err := session.Dial(ctx, cfg.ServerURL, token, dialMode, logger)
	if err != nil {
		fatalStartup(logger, "E_CONNECT", err)
	}
	defer sess.Close()

	ctl := run.NewController(run.Config{
		Sender:   sess,
		Policy:   polSource,
		Timeline: rec,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   provider.Tracer,
		Audit:    audit,
	})

	// connMu guards the current session pointer across reconnects.
	var connMu sync.Mutex

	if interactive {
		runTUI(ctx, &connMu, sess, ctl, live, rec, cfg, token, logger, audit)
		return
	}
	runHeadless(ctx, sess, ctl, live, cfg, logger, audit)
}

func runTUI(ctx context.Context, connMu *sync.Mutex, sess *session.Session, ctl *run.Controller, live *policy.Live, rec *timeline.Recorder, cfg config.Config, token string, logger *slog.Logger, audit bool) {
	current := sess

	var console *tui.Console
	console = tui.New(ctx, tui.Config{
		Ctl:      ctl,
		Live:     live,
		Timeline: rec,
		Audit:    audit,
		ConnState: func() session.State {
			connMu.Lock()
			defer connMu.Unlock()
			return current.State()
		},
		Reconnect: func() error {
			dialMode := ""
			if audit {
				dialMode = config.ModeAudit
			}
			next, err := session.Dial(ctx, cfg.ServerURL, token, dialMode, logger)
			if err != nil {
				return err
			}
			connMu.Lock()
			old := current
			current = next
			connMu.Unlock()
			_ = old.Close()
			ctl.Reset(next)
			go readFrames(ctx, next, ctl, console.SessionClosed)
			return nil
		},
	})
	ctl.SetOnChange(console.Notify)

	if live != nil {
		go watchPolicy(ctx, cfg.PolicyPath(), live, logger, console.Notify)
	}
	go readFrames(ctx, sess, ctl, console.SessionClosed)

	if err := console.Run(); err != nil {
		logger.Error("console exited", "error", err)
	}
}

func runHeadless(ctx context.Context, sess *session.Session, ctl *run.Controller, live *policy.Live, cfg config.Config, logger *slog.Logger, audit bool) {
	if live != nil {
		go watchPolicy(ctx, cfg.PolicyPath(), live, logger, nil)
	}

	// Print transcript additions as frames arrive. The read loop is the
	// only event producer, so printed only needs a small lock against the
	// stdin goroutine echoing sends.
	var printMu sync.Mutex
	printed := 0
	printNew := func() {
		printMu.Lock()
		defer printMu.Unlock()
		snap := ctl.Snapshot()
		for ; printed < len(snap.Messages); printed++ {
			msg := snap.Messages[printed]
			fmt.Printf("[%s] %s\n", msg.Role, msg.Text)
		}
		if audit {
			for _, t := range snap.Tools {
				fmt.Printf("[pending tool] %s %s\n", t.ToolCallID, t.ToolName)
			}
			if snap.Staged != nil {
				fmt.Printf("[pending stage] run %s\n", snap.Staged.RunID)
			}
			if snap.Draft != nil {
				fmt.Printf("[pending draft] %s\n", snap.Draft.DraftText)
			}
		}
	}
	ctl.SetOnChange(printNew)

	done := make(chan error, 1)
	go func() {
		done <- readFramesErr(ctx, sess, ctl)
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if handled := headlessCommand(ctx, ctl, line); handled {
				continue
			}
			ctl.SendUserMessage(ctx, line)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			logger.Error("session closed", "error", err)
			os.Exit(1)
		}
	}
}

// headlessCommand handles the slash commands of the REPL. Returns false for
// ordinary chat lines.
func headlessCommand(ctx context.Context, ctl *run.Controller, line string) bool {
	if !strings.HasPrefix(line, "/") {
		return false
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/approve-stage":
		ctl.ApproveStage(ctx, false)
	case "/deny-stage":
		ctl.DenyStage(ctx)
	case "/approve-tool":
		if len(fields) > 1 {
			ctl.ApproveTool(ctx, fields[1])
		}
	case "/deny-tool":
		if len(fields) > 1 {
			ctl.DenyTool(ctx, fields[1])
		}
	case "/approve-draft":
		ctl.ApproveDraft(ctx, false)
	case "/deny-draft":
		ctl.DenyDraft(ctx)
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return true
}

func watchPolicy(ctx context.Context, path string, live *policy.Live, logger *slog.Logger, notify func()) {
	w := policy.NewWatcher(path, logger)
	if err := w.Start(ctx); err != nil {
		logger.Warn("policy watcher disabled", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.Events():
			if !ok {
				return
			}
			if err := live.ReloadFromFile(); err != nil {
				logger.Warn("policy reload failed, keeping current policy", "error", err)
			} else {
				logger.Info("policy reloaded", "path", path)
			}
			if notify != nil {
				notify()
			}
		}
	}
}

func readFrames(ctx context.Context, sess *session.Session, ctl *run.Controller, onDone func(error)) {
	err := readFramesErr(ctx, sess, ctl)
	if onDone != nil {
		onDone(err)
	}
}

func readFramesErr(ctx context.Context, sess *session.Session, ctl *run.Controller) error {
	return sess.ReadLoop(ctx, func(raw []byte) {
		ctl.HandleFrame(ctx, raw)
	})
}
