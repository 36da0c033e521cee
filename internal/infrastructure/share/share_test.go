package share

import (
	"strings"
	"testing"

	"github.com/hackare/hackare/internal/domain/chat"
)

func TestCreateAndExtractRoundTrip(t *testing.T) {
	payload := &Payload{
		APIKey:       "sk-test",
		BaseURL:      "https://api.groq.com/openai/v1",
		Model:        "llama-3.3-70b-versatile",
		SystemPrompt: "be brief",
		PromptLibrary: map[string]string{
			"tone": "Keep a friendly tone.",
		},
		Conversation: []chat.Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi there"},
		},
		Title:    "Team",
		Subtitle: "dev",
	}

	link, err := CreateLink("https://hacka.re/", payload, "hunter2", Options{})
	if err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}
	if !HasShareToken(link) {
		t.Fatal("created link carries no share token")
	}

	result := ExtractPayload(link, "hunter2")
	if result == nil {
		t.Fatal("ExtractPayload() = nil, want payload")
	}
	if result.Insecure {
		t.Error("password-protected link flagged insecure")
	}
	got := result.Payload
	if got.APIKey != payload.APIKey || got.Model != payload.Model {
		t.Errorf("payload = %+v, want %+v", got, payload)
	}
	if len(got.Conversation) != 2 || got.Conversation[1].Content != "hi there" {
		t.Errorf("conversation = %+v", got.Conversation)
	}
}

func TestExtractWrongPassword(t *testing.T) {
	link, err := CreateLink("https://hacka.re/", &Payload{Model: "gpt-4o-mini"}, "right", Options{})
	if err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}
	if result := ExtractPayload(link, "wrong"); result != nil {
		t.Error("ExtractPayload() with wrong password succeeded")
	}
}

func TestCreateEmptyPasswordRequiresInsecure(t *testing.T) {
	_, err := CreateLink("https://hacka.re/", &Payload{}, "", Options{})
	if err == nil {
		t.Fatal("CreateLink() with empty password and no insecure flag succeeded")
	}
	if chat.KindOf(err) != chat.KindUsage {
		t.Errorf("KindOf(err) = %v, want %v", chat.KindOf(err), chat.KindUsage)
	}
}

func TestInsecureLinkWarns(t *testing.T) {
	link, err := CreateLink("https://hacka.re/", &Payload{Model: "m"}, "", Options{AllowInsecure: true})
	if err != nil {
		t.Fatalf("CreateLink() insecure error = %v", err)
	}

	result := ExtractPayload(link, "")
	if result == nil {
		t.Fatal("ExtractPayload() of insecure link = nil")
	}
	if !result.Insecure {
		t.Error("Insecure = false, want true")
	}
	if len(result.Warnings) == 0 {
		t.Error("no warning for fallback-phrase decryption")
	}
}

func TestExtractBareTokenArgument(t *testing.T) {
	link, err := CreateLink("https://hacka.re/", &Payload{Model: "m"}, "pw", Options{})
	if err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}
	// CLI positional form: just the fragment, no URL.
	bare := link[len("https://hacka.re/#"):]
	if !HasShareToken(bare) {
		t.Fatal("bare gpt= argument not recognized")
	}
	if result := ExtractPayload(bare, "pw"); result == nil || result.Payload.Model != "m" {
		t.Error("bare token extraction failed")
	}
}

func TestLegacyFragmentReadOnly(t *testing.T) {
	link, err := CreateLink("https://hacka.re/", &Payload{Model: "m"}, "pw", Options{})
	if err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}
	if !HasShareToken(link) {
		t.Fatal("missing token")
	}
	legacy := "https://hacka.re/#shared=" + link[len("https://hacka.re/#gpt="):]
	if result := ExtractPayload(legacy, "pw"); result == nil {
		t.Error("legacy shared= fragment rejected on read")
	}
	// Creation always emits the current form.
	if !HasShareToken(link) || len(link) == 0 || !strings.Contains(link, "#gpt=") {
		t.Errorf("created link = %q, want #gpt= fragment", link)
	}
}

func TestClearFragment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://hacka.re/#gpt=abc", "https://hacka.re/"},
		{"https://hacka.re/#shared=abc", "https://hacka.re/"},
		{"https://hacka.re/#section", "https://hacka.re/#section"},
		{"https://hacka.re/", "https://hacka.re/"},
	}
	for _, tt := range tests {
		if got := ClearFragment(tt.in); got != tt.want {
			t.Errorf("ClearFragment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeBase(t *testing.T) {
	got, err := NormalizeBase("https://hacka.re/x#gpt=zzz")
	if err != nil {
		t.Fatalf("NormalizeBase() error = %v", err)
	}
	if got != "https://hacka.re/x" {
		t.Errorf("NormalizeBase() = %q", got)
	}
	if _, err := NormalizeBase("not a url"); err == nil {
		t.Error("NormalizeBase() accepted a scheme-less string")
	}
}
