package openai

// Endpoint describes an OpenAI-compatible API: its provider name, default
// base URL and the models it serves.
type Endpoint struct {
	Name           string
	DefaultBaseURL string
	Models         []string
}

var (
	// OpenAIEndpoint is the OpenAI API.
	OpenAIEndpoint = Endpoint{
		Name:           "openai",
		DefaultBaseURL: "https://api.openai.com/v1",
		Models:         []string{"gpt-4o-mini", "gpt-4o", "o1-mini", "o3-mini"},
	}

	// GroqEndpoint is Groq's OpenAI-compatible API.
	GroqEndpoint = Endpoint{
		Name:           "groq",
		DefaultBaseURL: "https://api.groq.com/openai/v1",
		Models: []string{
			"deepseek-r1-distill-llama-70b",
			"mixtral-8x7b-32768",
			"llama-3.1-8b-instant",
			"llama-3.3-70b-versatile",
		},
	}

	// GeminiEndpoint is Google's OpenAI-compatible Gemini API.
	GeminiEndpoint = Endpoint{
		Name:           "gemini",
		DefaultBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
		Models:         []string{"gemini-2.0-flash-exp"},
	}
)

// SupportedModels returns the list of models supported by the OpenAI endpoint.
func SupportedModels() []string {
	return append([]string(nil), OpenAIEndpoint.Models...)
}

// buildModelSet creates a map for O(1) lookup.
func buildModelSet(models []string) map[string]bool {
	set := make(map[string]bool, len(models))
	for _, model := range models {
		set[model] = true
	}
	return set
}
