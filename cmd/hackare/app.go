package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/hackare/hackare/internal/domain/chat"
	"github.com/hackare/hackare/internal/domain/models"
	"github.com/hackare/hackare/internal/domain/service"
	"github.com/hackare/hackare/internal/infrastructure/config"
	"github.com/hackare/hackare/internal/infrastructure/eventbus"
	"github.com/hackare/hackare/internal/infrastructure/jsfunc"
	"github.com/hackare/hackare/internal/infrastructure/llm"
	"github.com/hackare/hackare/internal/infrastructure/logger"
	"github.com/hackare/hackare/internal/infrastructure/prompt"
	"github.com/hackare/hackare/internal/infrastructure/share"
	"github.com/hackare/hackare/internal/infrastructure/storage"
	"github.com/hackare/hackare/internal/interfaces/shell"
	"github.com/hackare/hackare/internal/interfaces/web"
	"github.com/hackare/hackare/pkg/safego"
)

func newLogger(verbose bool) (*zap.Logger, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logger.New(logger.Config{
		Level:      level,
		Format:     "console",
		OutputPath: "stderr",
	})
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hackare"
	}
	return filepath.Join(home, ".hackare")
}

func runChat(cmd *cobra.Command, flags *cliFlags, args []string) error {
	log, err := newLogger(flags.verbose)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	bus := eventbus.NewInMemoryBus(log, 256)
	defer bus.Close()

	registry, err := models.Load()
	if err != nil {
		return err
	}

	// Layer 1+2: defaults, config file, environment.
	mgr, err := config.NewManager(bus, log)
	if err != nil {
		return chat.WrapError(chat.KindUsage, "load configuration", err)
	}

	// Layer 3: persisted store.
	store := openStore(bus, log)
	if store != nil {
		mgr.ApplyStore(store)
	}

	// Layer 4: share link, if one was given.
	funcs := jsfunc.NewRegistry(log)
	prompts := prompt.NewLibrary(bus, log)
	var seed []chat.Message
	var welcome []share.Warning
	if len(args) == 1 {
		payload, warnings, err := openShareLink(args[0])
		if err != nil {
			return err
		}
		welcome = append(warnings, mgr.ApplyShare(payload, registry)...)
		applySharedContent(payload, funcs, prompts, store, log)
		seed = payload.Conversation
	}

	// Layer 5: CLI flags win over everything below them.
	applyFlags(cmd, mgr, flags)
	if flags.offline {
		mgr.PinOffline(registry)
	}

	for _, w := range welcome {
		fmt.Fprintf(os.Stderr, "warning: %s (%s)\n", w.Detail, w.Reason)
	}

	// Live config-file reload is best effort.
	if watcher, werr := config.NewWatcher(mgr, filepath.Join(dataDir(), "config.yaml"), log); werr == nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		safego.Go(log, "config-watcher", func() { watcher.Run(ctx) })
	}

	syncPromptTools(funcs, prompts)

	if flags.yolo {
		mgr.Update(func(c *config.Config) { c.YoloMode = true })
	}

	client := llm.NewClient(llm.Options{}, log)
	engine := service.NewEngine(client, toolSet{funcs, jsfunc.NewExecutor(funcs, 0, log)}, prompts, mgr, registry, service.Options{}, log)
	if len(seed) > 0 {
		engine.SeedHistory(seed)
	}

	if flags.tui {
		return shell.RunTUI(context.Background(), engine, mgr, registry, log)
	}
	return shell.New(engine, mgr, registry, log).Run(context.Background())
}

// toolSet adapts the registry/executor pair to the engine's interface.
type toolSet struct {
	registry *jsfunc.Registry
	executor *jsfunc.Executor
}

func (t toolSet) ToolSchemas() []llm.Tool                { return t.registry.ToolSchemas() }
func (t toolSet) Call(name, args string) (string, error) { return t.executor.Call(name, args) }

func openStore(bus eventbus.Bus, log *zap.Logger) *storage.Store {
	dir := dataDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Warn("Store directory unavailable, running without persistence", zap.Error(err))
		return nil
	}
	db, err := storage.Open(filepath.Join(dir, "store.db"))
	if err != nil {
		log.Warn("Store unavailable, running without persistence", zap.Error(err))
		return nil
	}
	return storage.New(db, bus, log)
}

// openShareLink prompts for the password and decrypts the positional
// share argument. A wrong password is a hard failure.
func openShareLink(raw string) (*share.Payload, []share.Warning, error) {
	if !share.HasShareToken(raw) {
		return nil, nil, chat.NewError(chat.KindUsage, "argument is not a share link: expected gpt=<token> or a URL with that fragment")
	}

	password, err := promptPassword("Share link password (empty for shared links): ")
	if err != nil {
		return nil, nil, chat.WrapError(chat.KindUsage, "read password", err)
	}

	result := share.ExtractPayload(raw, password)
	if result == nil {
		return nil, nil, chat.NewError(chat.KindDecryptFailed, "could not decrypt share link: wrong password or malformed token")
	}
	return result.Payload, result.Warnings, nil
}

func promptPassword(promptText string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, promptText)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	// Piped stdin: read one line, no echo handling needed.
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// applySharedContent installs the payload's functions, prompts, and
// workspace into the running session.
func applySharedContent(payload *share.Payload, funcs *jsfunc.Registry, prompts *prompt.Library, store *storage.Store, log *zap.Logger) {
	for _, src := range payload.Functions {
		if _, err := funcs.AddSource(src, "shared"); err != nil {
			log.Warn("Skipping shared function", zap.Error(err))
		}
	}
	if len(payload.SelectedFuncIDs) > 0 {
		selected := make(map[string]bool, len(payload.SelectedFuncIDs))
		for _, id := range payload.SelectedFuncIDs {
			selected[id] = true
		}
		for _, fn := range funcs.List() {
			_ = funcs.SetEnabled(fn.Name, selected[fn.Name] || selected[fn.ID])
		}
	}

	if len(payload.PromptLibrary) > 0 || len(payload.SelectedPromptIDs) > 0 {
		prompts.ReplaceUserPrompts(payload.PromptLibrary, payload.SelectedPromptIDs)
	}

	if store != nil && (payload.Title != "" || payload.Subtitle != "") {
		if err := store.SetWorkspace(payload.Title, payload.Subtitle); err != nil {
			log.Warn("Workspace switch failed", zap.Error(err))
		}
	}
}

func syncPromptTools(funcs *jsfunc.Registry, prompts *prompt.Library) {
	var tools []prompt.ToolInfo
	for _, name := range funcs.EnabledNames() {
		fn, ok := funcs.Get(name)
		if !ok {
			continue
		}
		tools = append(tools, prompt.ToolInfo{Name: fn.Name, Description: fn.Description})
	}
	prompts.SetTools(tools)
}

// applyFlags writes only the flags the user actually set, so unset
// flags never clobber lower layers.
func applyFlags(cmd *cobra.Command, mgr *config.Manager, flags *cliFlags) {
	mgr.Update(func(c *config.Config) {
		if cmd.Flags().Changed("api-provider") {
			c.Provider = flags.provider
		}
		if cmd.Flags().Changed("api-key") {
			c.APIKey = flags.apiKey
		}
		if cmd.Flags().Changed("base-url") {
			c.BaseURL = flags.baseURL
		}
		if cmd.Flags().Changed("model") {
			c.Model = flags.model
		}
		if cmd.Flags().Changed("system") {
			c.SystemPrompt = flags.system
		}
		if cmd.Flags().Changed("port") {
			c.Port = flags.port
		}
		if cmd.Flags().Changed("allow-remote-mcp") {
			c.AllowRemoteMCP = flags.allowRemoteMCP
		}
		if cmd.Flags().Changed("allow-remote-embeddings") {
			c.AllowRemoteEmbeddings = flags.allowRemoteEmbeddings
		}
	})
}

func runServe(flags *cliFlags, openInBrowser bool) error {
	log, err := newLogger(flags.verbose)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	bundle, err := web.Load()
	if err != nil {
		return err
	}

	port := flags.port
	if port == 0 {
		port = 8080
	}
	server, err := web.NewServer(web.Config{Port: port}, bundle, log)
	if err != nil {
		return chat.WrapError(chat.KindUsage, "asset server", err)
	}

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Serving web client on http://localhost:%d\n", port)

	if openInBrowser {
		openBrowser(fmt.Sprintf("http://localhost:%d/", port), log)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
