package openai

// Config contains the settings of one OpenAI-compatible endpoint.
// All fields map to OpenAI SDK options:
//   - APIKey: Maps to option.WithAPIKey()
//   - BaseURL: Maps to option.WithBaseURL(); empty means the endpoint default
//   - Timeout: Maps to option.WithRequestTimeout() (in seconds)
//   - MaxRetries: Maps to option.WithMaxRetries()
//
// The same struct is parsed once per endpoint with an env prefix
// (OPENAI_, GROQ_, GEMINI_).
type Config struct {
	APIKey     string `env:"API_KEY"`
	BaseURL    string `env:"BASE_URL"`
	Timeout    int    `env:"TIMEOUT"     envDefault:"60"`
	MaxRetries int    `env:"MAX_RETRIES" envDefault:"3"`
}
