// Package share encodes configuration bundles into URL fragment tokens
// and back. The fragment form is #gpt=<base64url(encrypted payload)>;
// the legacy #shared= alias is accepted on read only.
package share

import (
	"net/url"
	"strings"

	"github.com/hackare/hackare/internal/domain/chat"
	"github.com/hackare/hackare/internal/infrastructure/crypto"
)

const (
	fragmentKey       = "gpt"
	legacyFragmentKey = "shared"
)

// Payload is the share-link configuration bundle. Every field is
// optional; unknown keys in incoming payloads are ignored on read.
type Payload struct {
	APIKey            string            `json:"apiKey,omitempty"`
	BaseURL           string            `json:"baseUrl,omitempty"`
	BaseURLProvider   string            `json:"baseUrlProvider,omitempty"`
	Model             string            `json:"model,omitempty"`
	SystemPrompt      string            `json:"systemPrompt,omitempty"`
	PromptLibrary     map[string]string `json:"promptLibrary,omitempty"`
	SelectedPromptIDs []string          `json:"selectedPromptIds,omitempty"`
	Functions         []string          `json:"functions,omitempty"`
	SelectedFuncIDs   []string          `json:"selectedFunctionIds,omitempty"`
	MCPConnections    map[string]string `json:"mcpConnections,omitempty"`
	Conversation      []chat.Message    `json:"conversation,omitempty"`
	Title             string            `json:"title,omitempty"`
	Subtitle          string            `json:"subtitle,omitempty"`
	Theme             string            `json:"theme,omitempty"`
	WelcomeMessage    string            `json:"welcomeMessage,omitempty"`
}

// IsEmpty reports whether no field is set. An empty payload is valid.
func (p *Payload) IsEmpty() bool {
	return p.APIKey == "" && p.BaseURL == "" && p.BaseURLProvider == "" &&
		p.Model == "" && p.SystemPrompt == "" && len(p.PromptLibrary) == 0 &&
		len(p.SelectedPromptIDs) == 0 && len(p.Functions) == 0 &&
		len(p.SelectedFuncIDs) == 0 && len(p.MCPConnections) == 0 &&
		len(p.Conversation) == 0 && p.Title == "" && p.Subtitle == "" &&
		p.Theme == "" && p.WelcomeMessage == ""
}

// Options controls link creation.
type Options struct {
	// AllowInsecure permits creating a link with an empty password
	// (fallback phrase). Without it, empty passwords are rejected.
	AllowInsecure bool
}

// CreateLink encrypts payload under password and appends the share
// fragment to baseURL. Serializing the typed Payload strips any fields
// the web client would not understand.
func CreateLink(baseURL string, payload *Payload, password string, opts Options) (string, error) {
	if password == "" && !opts.AllowInsecure {
		return "", chat.NewError(chat.KindUsage, "empty password requires insecure mode")
	}

	token, err := crypto.Encrypt(payload, password)
	if err != nil {
		return "", chat.WrapError(chat.KindParseFailed, "encrypt share payload", err)
	}

	base := strings.TrimRight(baseURL, "#")
	return base + "#" + fragmentKey + "=" + token, nil
}

// HasShareToken reports whether rawURL carries a share fragment, either
// the current gpt= form or the legacy shared= form. Bare tokens of the
// form "gpt=..." are also accepted (CLI positional argument).
func HasShareToken(rawURL string) bool {
	return extractToken(rawURL) != ""
}

// extractToken pulls the encrypted token out of a URL fragment or a bare
// key=value argument. Empty string means no token present.
func extractToken(rawURL string) string {
	fragment := rawURL
	if idx := strings.Index(rawURL, "#"); idx >= 0 {
		fragment = rawURL[idx+1:]
	}

	for _, key := range []string{fragmentKey, legacyFragmentKey} {
		prefix := key + "="
		if strings.HasPrefix(fragment, prefix) {
			return fragment[len(prefix):]
		}
	}
	return ""
}

// Warning describes a non-fatal finding from extraction.
type Warning struct {
	Reason string
	Detail string
}

// Result is the outcome of a successful extraction.
type Result struct {
	Payload  *Payload
	Insecure bool // fallback phrase decrypted the link
	Warnings []Warning
}

// ExtractPayload parses the share fragment of rawURL and decrypts it with
// password. Returns nil on wrong password or malformed token; extraction
// never partially succeeds.
func ExtractPayload(rawURL, password string) *Result {
	token := extractToken(rawURL)
	if token == "" {
		return nil
	}

	var payload Payload
	if !crypto.Decrypt(token, password, &payload) {
		return nil
	}

	_, insecure := crypto.EffectivePassword(password)
	result := &Result{Payload: &payload, Insecure: insecure}
	if insecure {
		result.Warnings = append(result.Warnings, Warning{
			Reason: "insecure-link",
			Detail: "link was decrypted with the shared fallback phrase",
		})
	}
	return result
}

// ClearFragment returns rawURL with any share fragment removed.
func ClearFragment(rawURL string) string {
	idx := strings.Index(rawURL, "#")
	if idx < 0 {
		return rawURL
	}
	fragment := rawURL[idx+1:]
	for _, key := range []string{fragmentKey, legacyFragmentKey} {
		if strings.HasPrefix(fragment, key+"=") {
			return rawURL[:idx]
		}
	}
	return rawURL
}

// NormalizeBase validates and normalizes a base URL for link creation.
func NormalizeBase(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", chat.NewError(chat.KindUsage, "invalid base URL: "+rawURL)
	}
	u.Fragment = ""
	return u.String(), nil
}
