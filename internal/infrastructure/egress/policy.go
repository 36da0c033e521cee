// Package egress classifies outgoing requests and enforces the
// offline/allow-remote rules. Every outbound HTTP call in the client
// passes through Permit before any network write.
package egress

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hackare/hackare/internal/domain/chat"
)

// Class is the traffic category of an outgoing request.
type Class string

const (
	ClassLLM        Class = "LLM"
	ClassMCP        Class = "MCP"
	ClassEmbeddings Class = "Embeddings"
)

// Policy holds the active egress rules.
type Policy struct {
	OfflineMode           bool
	AllowRemoteMCP        bool
	AllowRemoteEmbeddings bool
}

// Classify assigns a traffic class by URL path heuristics, checked in
// order: embeddings, then MCP markers, otherwise LLM.
func Classify(rawURL string) Class {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.ToLower(path)

	if strings.Contains(path, "/embeddings") {
		return ClassEmbeddings
	}
	for _, marker := range []string{"/mcp", "/tools", "/functions", "model-context"} {
		if strings.Contains(path, marker) {
			return ClassMCP
		}
	}
	return ClassLLM
}

// IsLoopback reports whether rawURL points at the local machine over
// http(s).
func IsLoopback(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Permit decides whether a request to rawURL may proceed. Denials carry
// the classification, the URL, and the rule that triggered; there is no
// silent fallback.
func (p Policy) Permit(rawURL string) error {
	if !p.OfflineMode {
		return nil
	}

	class := Classify(rawURL)
	switch class {
	case ClassLLM:
		if IsLoopback(rawURL) {
			return nil
		}
		return deny(class, rawURL, "offline mode requires a loopback LLM host")
	case ClassMCP:
		if p.AllowRemoteMCP || IsLoopback(rawURL) {
			return nil
		}
		return deny(class, rawURL, "offline mode denies remote MCP without --allow-remote-mcp")
	case ClassEmbeddings:
		if p.AllowRemoteEmbeddings || IsLoopback(rawURL) {
			return nil
		}
		return deny(class, rawURL, "offline mode denies remote embeddings without --allow-remote-embeddings")
	}
	return deny(class, rawURL, "unclassified traffic denied in offline mode")
}

func deny(class Class, rawURL, rule string) error {
	return chat.NewError(chat.KindEgressDenied,
		fmt.Sprintf("%s request to %s denied: %s", class, rawURL, rule))
}
