package llm

import "fmt"

// New constructs a provider by name. baseURL overrides the provider's
// default endpoint when non-empty.
func New(name, apiKey, baseURL string) (Provider, error) {
	switch name {
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai requires an api key: %w", ErrProviderNotAvailable)
		}
		if baseURL != "" {
			return NewOpenAIProviderWithBaseURL(apiKey, baseURL), nil
		}
		return NewOpenAIProvider(apiKey), nil
	case "ollama":
		return NewOllamaProvider(baseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q: %w", name, ErrProviderNotAvailable)
	}
}
