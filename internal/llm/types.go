// # internal/llm/types.go
// Provider selection and the chat completion wire types shared by the client.
package llm

import (
	"fmt"
	"strings"

	"github.com/grkhmz23/solaudit-agent-sub000/internal/core/config"
)

const (
	ProviderMoonshot = "moonshot"
	ProviderKimiCode = "kimi_code"

	moonshotBaseURL = "https://api.moonshot.ai/v1"
	kimiCodeBaseURL = "https://api.kimi.com/coding/v1"
)

// Provider is a resolved endpoint plus the credential that authenticates it.
type Provider struct {
	Name    string
	BaseURL string
	Key     string
}

// ResolveProvider maps the configured provider name onto an endpoint and key.
// "auto" prefers the Kimi Code endpoint when its key is present, then falls
// back to Moonshot. Explicit names fail when their key is missing rather than
// silently switching providers.
func ResolveProvider(name string, creds config.Credentials) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		if creds.KimiCodeKey != "" {
			return Provider{Name: ProviderKimiCode, BaseURL: kimiCodeBaseURL, Key: creds.KimiCodeKey}, nil
		}
		if creds.MoonshotKey != "" {
			return Provider{Name: ProviderMoonshot, BaseURL: moonshotBaseURL, Key: creds.MoonshotKey}, nil
		}
		return Provider{}, fmt.Errorf("no llm credentials found: set KIMI_CODE_API_KEY or MOONSHOT_API_KEY")
	case ProviderKimiCode:
		if creds.KimiCodeKey == "" {
			return Provider{}, fmt.Errorf("llm provider %q selected but KIMI_CODE_API_KEY is not set", ProviderKimiCode)
		}
		return Provider{Name: ProviderKimiCode, BaseURL: kimiCodeBaseURL, Key: creds.KimiCodeKey}, nil
	case ProviderMoonshot:
		if creds.MoonshotKey == "" {
			return Provider{}, fmt.Errorf("llm provider %q selected but MOONSHOT_API_KEY is not set", ProviderMoonshot)
		}
		return Provider{Name: ProviderMoonshot, BaseURL: moonshotBaseURL, Key: creds.MoonshotKey}, nil
	default:
		return Provider{}, fmt.Errorf("unknown llm provider %q (want auto, kimi_code, or moonshot)", name)
	}
}

// Request is a single chat completion call. Model and MaxTokens fall back to
// the client's configured defaults when zero.
type Request struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
