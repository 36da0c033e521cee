package shell

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hackare/hackare/internal/domain/chat"
	"github.com/hackare/hackare/internal/infrastructure/config"
)

// Command is one slash command. Matching is by exact name or alias
// first, then by unique prefix across all names and aliases.
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Run         func(s *Shell, args []string) (quit bool, err error)
}

func commandTable() []Command {
	return []Command{
		{
			Name: "help", Usage: "/help",
			Description: "show available commands",
			Run: func(s *Shell, _ []string) (bool, error) {
				s.printHelp()
				return false, nil
			},
		},
		{
			Name: "clear", Usage: "/clear",
			Description: "drop the conversation history",
			Run: func(s *Shell, _ []string) (bool, error) {
				s.engine.Clear()
				s.println("History cleared.")
				return false, nil
			},
		},
		{
			Name: "compact", Usage: "/compact",
			Description: "fold older history into a summary",
			Run: func(s *Shell, _ []string) (bool, error) {
				folded := s.engine.Compact()
				if folded == 0 {
					s.println("Nothing to compact.")
				} else {
					s.printf("Compacted %d messages into a summary.\n", folded)
				}
				return false, nil
			},
		},
		{
			Name: "history", Usage: "/history",
			Description: "print the conversation so far",
			Run: func(s *Shell, _ []string) (bool, error) {
				s.printHistory()
				return false, nil
			},
		},
		{
			Name: "model", Usage: "/model [id]",
			Description: "show or switch the active model",
			Run: func(s *Shell, args []string) (bool, error) {
				return false, s.cmdModel(args)
			},
		},
		{
			Name: "system", Usage: "/system [text]",
			Description: "show or set the base system prompt",
			Run: func(s *Shell, args []string) (bool, error) {
				if len(args) == 0 {
					cfg := s.config.Get()
					if cfg.SystemPrompt == "" {
						s.println("No base system prompt set.")
					} else {
						s.println(cfg.SystemPrompt)
					}
					return false, nil
				}
				text := strings.Join(args, " ")
				s.config.Update(func(c *config.Config) { c.SystemPrompt = text })
				s.println("System prompt updated.")
				return false, nil
			},
		},
		{
			Name: "save", Usage: "/save <path>",
			Description: "write the conversation to a JSON file",
			Run: func(s *Shell, args []string) (bool, error) {
				if len(args) != 1 {
					return false, chat.NewError(chat.KindUsage, "usage: /save <path>")
				}
				return false, s.saveHistory(args[0])
			},
		},
		{
			Name: "tokens", Usage: "/tokens",
			Description: "estimate context usage for the active model",
			Run: func(s *Shell, _ []string) (bool, error) {
				tokens, window := s.engine.EstimateTokens()
				pct := 0.0
				if window > 0 {
					pct = float64(tokens) / float64(window) * 100
				}
				s.printf("~%d tokens of %d (%.1f%%)\n", tokens, window, pct)
				return false, nil
			},
		},
		{
			Name: "config", Usage: "/config",
			Description: "print the active configuration",
			Run: func(s *Shell, _ []string) (bool, error) {
				s.printConfig()
				return false, nil
			},
		},
		{
			Name: "exit", Aliases: []string{"quit", "q"}, Usage: "/exit",
			Description: "leave the shell",
			Run: func(s *Shell, _ []string) (bool, error) {
				return true, nil
			},
		},
	}
}

// resolve matches the typed name against the table: exact name or alias
// wins, then a unique prefix. Ambiguity and misses are Usage errors.
func resolve(commands []Command, typed string) (*Command, error) {
	for i := range commands {
		if commands[i].Name == typed {
			return &commands[i], nil
		}
		for _, alias := range commands[i].Aliases {
			if alias == typed {
				return &commands[i], nil
			}
		}
	}

	var matches []*Command
	seen := map[string]bool{}
	for i := range commands {
		names := append([]string{commands[i].Name}, commands[i].Aliases...)
		for _, n := range names {
			if strings.HasPrefix(n, typed) && !seen[commands[i].Name] {
				matches = append(matches, &commands[i])
				seen[commands[i].Name] = true
			}
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, chat.NewError(chat.KindUsage, fmt.Sprintf("unknown command /%s, try /help", typed))
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = "/" + m.Name
		}
		sort.Strings(names)
		return nil, chat.NewError(chat.KindUsage,
			fmt.Sprintf("/%s is ambiguous: %s", typed, strings.Join(names, ", ")))
	}
}

func (s *Shell) cmdModel(args []string) error {
	cfg := s.config.Get()
	if len(args) == 0 {
		s.printf("Active model: %s (provider %s)\n", cfg.Model, cfg.Provider)
		for _, m := range s.models.ModelsFor(cfg.Provider) {
			marker := "  "
			if m.ID == cfg.Model {
				marker = "* "
			}
			s.printf("%s%s (%d ctx)\n", marker, m.ID, m.ContextWindow)
		}
		return nil
	}

	id := args[0]
	if _, known := s.models.Lookup(id); !known {
		s.printf("Warning: %q is not in the model catalog; using it anyway.\n", id)
	}
	s.config.Update(func(c *config.Config) { c.Model = id })
	s.printf("Model switched to %s.\n", id)
	return nil
}

func (s *Shell) saveHistory(path string) error {
	history := s.engine.History()
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.printf("Saved %d messages to %s.\n", len(history), path)
	return nil
}

func (s *Shell) printHistory() {
	history := s.engine.History()
	if len(history) == 0 {
		s.println("No messages yet.")
		return
	}
	for _, m := range history {
		content := m.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		s.printf("%s[%s]%s %s\n", dimText, m.Role, reset, content)
		for _, tc := range m.ToolCalls {
			s.printf("  %s→ %s(%s)%s\n", dimText, tc.Name, tc.Arguments, reset)
		}
	}
}

func (s *Shell) printConfig() {
	cfg := s.config.Get()
	key := "(not set)"
	if cfg.APIKey != "" {
		key = mask(cfg.APIKey)
	}
	rows := [][2]string{
		{"provider", cfg.Provider},
		{"base_url", cfg.BaseURL},
		{"model", cfg.Model},
		{"api_key", key},
		{"temperature", fmt.Sprintf("%.2f", cfg.Temperature)},
		{"stream_mode", fmt.Sprintf("%v", cfg.StreamMode)},
		{"yolo_mode", fmt.Sprintf("%v", cfg.YoloMode)},
		{"offline", fmt.Sprintf("%v", cfg.OfflineMode)},
		{"namespace", cfg.Namespace},
		{"port", fmt.Sprintf("%d", cfg.Port)},
	}
	for _, row := range rows {
		s.printf("  %s%-12s%s %s\n", dimText, row[0], reset, row[1])
	}
}

func mask(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func (s *Shell) printHelp() {
	s.printf("%sCommands%s\n", cyanBold, reset)
	for _, c := range s.commands {
		name := c.Usage
		if len(c.Aliases) > 0 {
			name = fmt.Sprintf("%s (/%s)", c.Usage, strings.Join(c.Aliases, ", /"))
		}
		s.printf("  %s%-28s%s %s\n", green, name, reset, c.Description)
	}
	s.println("\nAnything else is sent to the model.")
}
