package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Supported model providers.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

const (
	defaultGroqBaseURL = "https://api.groq.com/openai/v1"
	defaultArkBaseURL  = "https://ark.cn-beijing.volces.com/api/v3"
	// defaultModel only seeds provider construction; every call names its model.
	defaultModel     = "llama3-70b-8192"
	defaultMaxTokens = 3000
)

// ErrAINotConfigured 表示未提供模型凭证。
var ErrAINotConfigured = errors.New("model provider credentials are missing")

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider    string
	APIKey      string
	AccessKey   string
	SecretKey   string
	BaseURL     string
	Region      string
	Model       string
	VisionModel string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Provider == ProviderArk {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w for provider %q", ErrAINotConfigured, c.Provider)
	}

	modelName := c.Model
	if modelName == "" {
		modelName = defaultModel
	}

	switch c.Provider {
	case ProviderGroq, ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   modelName,
		})
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:   c.BaseURL,
			Region:    c.Region,
			APIKey:    c.APIKey,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			Model:     modelName,
		})
	case ProviderClaude:
		var baseURL *string
		if c.BaseURL != "" {
			baseURL = &c.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    c.APIKey,
			BaseURL:   baseURL,
			Model:     modelName,
			MaxTokens: defaultMaxTokens,
		})
	case ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER %q", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderGroq))

	baseURL := strings.TrimSpace(os.Getenv("AI_BASE_URL"))
	switch provider {
	case ProviderGroq:
		if baseURL == "" {
			baseURL = defaultGroqBaseURL
		}
	case ProviderArk:
		if baseURL == "" {
			baseURL = defaultArkBaseURL
		}
	case ProviderOpenAI, ProviderClaude, ProviderGemini:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	return AIConfig{
		Provider:    provider,
		APIKey:      strings.TrimSpace(os.Getenv("AI_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		BaseURL:     baseURL,
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Model:       strings.TrimSpace(os.Getenv("AI_MODEL")),
		VisionModel: strings.TrimSpace(os.Getenv("AI_VISION_MODEL")),
	}, nil
}
