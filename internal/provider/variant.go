// Package provider talks to the chat-completion APIs of the supported LLM
// gateways.
package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

// CatalogStrategy says where a provider's model list comes from.
type CatalogStrategy int

const (
	CatalogRemote CatalogStrategy = iota
	CatalogStatic
)

// Variant is the per-provider record. Adding a provider means adding a
// variant; the client does not branch on provider names.
type Variant struct {
	Name      string
	Label     string
	ChatURL   string
	ModelsURL string
	Catalog   CatalogStrategy
	// Attribution adds the HTTP-Referer and X-Title headers.
	Attribution bool
	Static      []types.ModelDescriptor
}

var variants = map[string]Variant{
	types.ProviderOpenRouter: {
		Name:        types.ProviderOpenRouter,
		Label:       "OpenRouter",
		ChatURL:     "https://openrouter.ai/api/v1/chat/completions",
		ModelsURL:   "https://openrouter.ai/api/v1/models",
		Catalog:     CatalogRemote,
		Attribution: true,
	},
	types.ProviderDoubao: {
		Name:    types.ProviderDoubao,
		Label:   "Doubao (Volcengine Ark)",
		ChatURL: "https://ark.cn-beijing.volces.com/api/v3/chat/completions",
		Catalog: CatalogStatic,
		Static: []types.ModelDescriptor{
			{ID: "doubao-seed-1-6-250615", Name: "Doubao Seed 1.6"},
			{ID: "doubao-1-5-pro-32k-250115", Name: "Doubao 1.5 Pro 32k"},
			{ID: "doubao-1-5-lite-32k-250115", Name: "Doubao 1.5 Lite 32k"},
			{ID: "deepseek-v3-250324", Name: "DeepSeek V3"},
			{ID: "deepseek-r1-250528", Name: "DeepSeek R1"},
		},
	},
	types.ProviderUniAPI: {
		Name:      types.ProviderUniAPI,
		Label:     "UniAPI",
		ChatURL:   "https://api.uniapi.io/v1/chat/completions",
		ModelsURL: "https://api.uniapi.io/v1/models",
		Catalog:   CatalogRemote,
	},
}

// Lookup returns the variant for a provider name, case-insensitively.
func Lookup(name string) (Variant, error) {
	v, ok := variants[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Variant{}, fmt.Errorf("%w: unknown provider %q (supported: %s)", types.ErrInvalidConfig, name, strings.Join(Names(), ", "))
	}
	return v, nil
}

// Names lists the supported providers in a stable order.
func Names() []string {
	out := make([]string, 0, len(variants))
	for name := range variants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns every variant sorted by name.
func All() []Variant {
	out := make([]Variant, 0, len(variants))
	for _, name := range Names() {
		out = append(out, variants[name])
	}
	return out
}
