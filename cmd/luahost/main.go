package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/host"
	"github.com/wippyai/lua-bridge/modules/async"
	"github.com/wippyai/lua-bridge/modules/codec"
	"github.com/wippyai/lua-bridge/modules/socket"
	"github.com/wippyai/lua-bridge/modules/wasm"
	"go.uber.org/zap"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to luahost.toml")
		scripts     = flag.String("script", "", "Scripts to run, comma-separated")
		code        = flag.String("e", "", "Code to run after the scripts")
		tick        = flag.Duration("tick", 0, "Drain interval (overrides config)")
		wait        = flag.Duration("wait", 0, "Keep running after the scripts (-1 until interrupted)")
		wasmFile    = flag.String("wasm", "", "Wasm module for the wasm table (default: builtin add/mul)")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
		interactive = flag.Bool("i", false, "Interactive console")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *scripts != "" {
		cfg.Scripts = strings.Split(*scripts, ",")
	}
	cfg.Scripts = append(cfg.Scripts, flag.Args()...)
	if *tick > 0 {
		cfg.Tick.Duration = *tick
	}
	if *wait != 0 {
		cfg.Wait.Duration = *wait
	}
	if *wasmFile != "" {
		cfg.Wasm = *wasmFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if len(cfg.Scripts) == 0 && *code == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: luahost [-config luahost.toml] [-script a.lua,b.lua] [-e code] [-wait 5s] [script.lua ...]")
		fmt.Fprintln(os.Stderr, "       luahost -i  (interactive console)")
		os.Exit(1)
	}

	if err := run(cfg, *code, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is a running host with the extension modules loaded.
type session struct {
	host  *host.Host
	entry *bridge.Entry
	log   *zap.Logger
}

func newSession(ctx context.Context, cfg *Config, out io.Writer, log *zap.Logger) (*session, error) {
	var mods []bridge.Module
	if enabled(cfg.Modules.Async) {
		mods = append(mods, async.New())
	}
	if enabled(cfg.Modules.Wasm) {
		var opts []wasm.Option
		if cfg.Wasm != "" {
			bin, err := os.ReadFile(cfg.Wasm)
			if err != nil {
				return nil, fmt.Errorf("read wasm: %w", err)
			}
			opts = append(opts, wasm.WithBinary(bin))
		}
		mods = append(mods, wasm.New(opts...))
	}
	if enabled(cfg.Modules.Socket) {
		mods = append(mods, socket.New())
	}
	if enabled(cfg.Modules.Codec) {
		c, err := codec.New()
		if err != nil {
			return nil, err
		}
		mods = append(mods, c)
	}

	entry := bridge.NewEntry(bridge.Modules(mods...),
		bridge.WithEvent(cfg.Event),
		bridge.WithLogger(log))

	h := host.New(
		host.WithTick(cfg.Tick.Duration),
		host.WithEvent(cfg.Event),
		host.WithLogger(log),
		host.WithOutput(out),
		host.WithModules(entry),
	)
	if err := h.Start(ctx); err != nil {
		return nil, err
	}
	return &session{host: h, entry: entry, log: log}, nil
}

// close stops the host and waits for modules to unload.
func (s *session) close() error {
	s.host.Stop()
	return s.host.Wait()
}

func run(cfg *Config, code string, interactive bool) error {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	defer func() { _ = log.Sync() }()
	bridge.SetLogger(log)
	engine.SetLogger(log.Named("engine"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interactive && isTerminal(os.Stdin) {
		return runInteractive(ctx, cfg, log)
	}

	s, err := newSession(ctx, cfg, os.Stdout, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			log.Warn("host stopped with error", zap.Error(cerr))
		}
	}()

	for _, path := range cfg.Scripts {
		log.Debug("running script", zap.String("path", path))
		if err := s.host.DoFile(path); err != nil {
			return err
		}
	}
	if code != "" {
		if err := s.host.DoString(code); err != nil {
			return err
		}
	}

	if interactive {
		return runLines(ctx, s, os.Stdin, os.Stdout)
	}

	switch {
	case cfg.Wait.Duration < 0:
		<-ctx.Done()
	case cfg.Wait.Duration > 0:
		select {
		case <-time.After(cfg.Wait.Duration):
		case <-ctx.Done():
		}
	}
	return nil
}
