package egress

import (
	"testing"

	"github.com/hackare/hackare/internal/domain/chat"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want Class
	}{
		{"https://api.openai.com/v1/chat/completions", ClassLLM},
		{"https://api.openai.com/v1/embeddings", ClassEmbeddings},
		{"https://host.example/v1/EMBEDDINGS", ClassEmbeddings},
		{"https://host.example/mcp/session", ClassMCP},
		{"https://host.example/v1/tools/list", ClassMCP},
		{"https://host.example/v1/functions/run", ClassMCP},
		{"https://host.example/model-context-protocol", ClassMCP},
		// Embeddings wins over MCP markers when both appear.
		{"https://host.example/mcp/embeddings", ClassEmbeddings},
		{"http://localhost:11434/v1/chat/completions", ClassLLM},
	}
	for _, tt := range tests {
		if got := Classify(tt.url); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://localhost:11434/v1", true},
		{"http://127.0.0.1:8080/v1", true},
		{"http://[::1]:1234/v1", true},
		{"https://LOCALHOST/v1", true},
		{"https://api.openai.com/v1", false},
		{"http://192.168.1.10/v1", false},
		{"ftp://localhost/v1", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		if got := IsLoopback(tt.url); got != tt.want {
			t.Errorf("IsLoopback(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestPermitOnlineAllowsEverything(t *testing.T) {
	p := Policy{}
	for _, url := range []string{
		"https://api.openai.com/v1/chat/completions",
		"https://host.example/v1/embeddings",
		"https://host.example/mcp",
	} {
		if err := p.Permit(url); err != nil {
			t.Errorf("Permit(%q) online = %v, want nil", url, err)
		}
	}
}

func TestPermitOffline(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		url    string
		allow  bool
	}{
		{"local llm allowed", Policy{OfflineMode: true}, "http://localhost:11434/v1/chat/completions", true},
		{"remote llm denied", Policy{OfflineMode: true}, "https://api.openai.com/v1/chat/completions", false},
		{"remote mcp denied", Policy{OfflineMode: true}, "https://host.example/mcp", false},
		{"remote mcp opt-in", Policy{OfflineMode: true, AllowRemoteMCP: true}, "https://host.example/mcp", true},
		{"remote embeddings denied", Policy{OfflineMode: true}, "https://host.example/v1/embeddings", false},
		{"remote embeddings opt-in", Policy{OfflineMode: true, AllowRemoteEmbeddings: true}, "https://host.example/v1/embeddings", true},
		{"mcp opt-in does not cover llm", Policy{OfflineMode: true, AllowRemoteMCP: true}, "https://api.openai.com/v1/chat/completions", false},
		{"local mcp allowed without opt-in", Policy{OfflineMode: true}, "http://127.0.0.1:3000/mcp", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Permit(tt.url)
			if tt.allow {
				if err != nil {
					t.Fatalf("Permit(%q) = %v, want nil", tt.url, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Permit(%q) = nil, want denial", tt.url)
			}
			if chat.KindOf(err) != chat.KindEgressDenied {
				t.Errorf("KindOf(err) = %v, want %v", chat.KindOf(err), chat.KindEgressDenied)
			}
		})
	}
}
