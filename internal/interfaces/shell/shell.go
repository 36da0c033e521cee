// Package shell is the interactive terminal front-end: a slash-command
// REPL over the chat engine, plus an optional TUI.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/chat"
	"github.com/hackare/hackare/internal/domain/models"
	"github.com/hackare/hackare/internal/domain/service"
	"github.com/hackare/hackare/internal/infrastructure/config"
	"github.com/hackare/hackare/pkg/safego"
)

const (
	reset    = "\033[0m"
	bold     = "\033[1m"
	cyanBold = "\033[96m\033[1m"
	green    = "\033[92m"
	yellow   = "\033[93m"
	red      = "\033[91m"
	dimText  = "\033[90m"
)

// Shell runs the REPL for one session.
type Shell struct {
	engine   *service.Engine
	config   *config.Manager
	models   *models.Registry
	commands []Command
	out      io.Writer
	logger   *zap.Logger
}

func New(engine *service.Engine, cfg *config.Manager, registry *models.Registry, logger *zap.Logger) *Shell {
	s := &Shell{
		engine: engine,
		config: cfg,
		models: registry,
		out:    os.Stdout,
		logger: logger.With(zap.String("component", "shell")),
	}
	s.commands = commandTable()
	s.engine.SetConfirm(s.confirmToolCall)
	return s
}

func (s *Shell) printf(format string, args ...any) { fmt.Fprintf(s.out, format, args...) }
func (s *Shell) println(args ...any)               { fmt.Fprintln(s.out, args...) }

// Run reads lines until /exit or EOF. A single Ctrl+C cancels an
// in-flight send or clears the prompt; a second consecutive press exits.
func (s *Shell) Run(ctx context.Context) error {
	s.banner()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\001\033[1;36m\002❯\001\033[0m\002 ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	interrupted := false
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if interrupted {
				s.println("Bye.")
				return nil
			}
			interrupted = true
			s.printf("%sPress Ctrl+C again to exit.%s\n", dimText, reset)
			continue
		}
		if err == io.EOF {
			s.println("\nBye.")
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		interrupted = false

		if strings.HasPrefix(line, "/") {
			quit := s.runCommand(line)
			if quit {
				s.println("Bye.")
				return nil
			}
			continue
		}

		s.send(ctx, line)
	}
}

func (s *Shell) runCommand(line string) (quit bool) {
	fields := strings.Fields(line)
	typed := strings.TrimPrefix(fields[0], "/")

	cmd, err := resolve(s.commands, typed)
	if err != nil {
		s.printf("%s%v%s\n", yellow, err, reset)
		return false
	}

	quit, err = cmd.Run(s, fields[1:])
	if err != nil {
		s.printf("%s%v%s\n", red, err, reset)
	}
	return quit
}

// send runs one engine cycle, streaming output and wiring SIGINT to
// cancellation for the duration of the call.
func (s *Shell) send(ctx context.Context, text string) {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)
	safego.Go(s.logger, "sigint-cancel", func() {
		select {
		case <-sigCh:
			s.engine.Cancel()
			s.printf("\n%sInterrupted.%s\n", yellow, reset)
		case <-sendCtx.Done():
		}
	})

	streamed := false
	s.engine.SetSink(func(ev chat.Event) {
		switch ev.Type {
		case chat.EventChunk:
			streamed = true
			s.printf("%s", ev.Text)
		case chat.EventToolCall:
			s.printf("\n%s⚙ %s(%s)%s\n", dimText, ev.ToolCall.Name, ev.ToolCall.Arguments, reset)
		case chat.EventToolResult:
			status := green + "ok" + reset
			if !ev.Success {
				status = red + "failed" + reset
			}
			s.printf("%s⚙ %s → %s (%s)%s\n", dimText, ev.ToolCall.Name, clipResult(ev.Output), status, reset)
		}
	})
	defer s.engine.SetSink(nil)

	msg, err := s.engine.Send(sendCtx, text)
	if err != nil {
		s.printf("%sError: %v%s\n", red, err, reset)
		return
	}
	if !streamed && msg != nil && msg.Content != "" {
		s.println(msg.Content)
	} else {
		s.println()
	}
}

// confirmToolCall is the yolo-mode gate: prompt on the terminal before
// dispatching a tool call.
func (s *Shell) confirmToolCall(name, argsJSON string) bool {
	s.printf("%sRun %s(%s)? [y/N] %s", yellow, name, clipResult(argsJSON), reset)
	var answer string
	if _, err := fmt.Fscanln(os.Stdin, &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (s *Shell) banner() {
	cfg := s.config.Get()
	s.printf("%shacka.re%s terminal client\n", cyanBold, reset)
	s.printf("%smodel %s · provider %s", dimText, cfg.Model, cfg.Provider)
	if cfg.OfflineMode {
		s.printf(" · offline")
	}
	s.printf("%s\n", reset)
	if cfg.WelcomeMessage != "" {
		s.printf("%s%s%s\n", bold, cfg.WelcomeMessage, reset)
	}
	s.printf("%sType /help for commands.%s\n\n", dimText, reset)
}

func clipResult(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
