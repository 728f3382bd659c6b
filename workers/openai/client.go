// Package openai adapts an OpenAI-compatible API to the embedding and generation
// worker contracts.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/grantflow/internal/tlsutil"
	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workers"
)

// Config 连接 OpenAI 兼容服务的配置
type Config struct {
	APIKey         string        `yaml:"api_key" json:"-" env:"API_KEY"`
	BaseURL        string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	OrgID          string        `yaml:"org_id" json:"org_id,omitempty" env:"ORG_ID"`
	EmbeddingModel string        `yaml:"embedding_model" json:"embedding_model" env:"EMBEDDING_MODEL"`
	ChatModel      string        `yaml:"chat_model" json:"chat_model" env:"CHAT_MODEL"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// RequestsPerSecond 为 0 时不限流
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// DefaultConfig returns defaults for the public OpenAI endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://api.openai.com/v1",
		EmbeddingModel: string(openai.SmallEmbedding3),
		ChatModel:      openai.GPT4oMini,
		Timeout:        30 * time.Second,
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return types.NewValidationError("openai api key is required")
	}
	if c.EmbeddingModel == "" || c.ChatModel == "" {
		return types.NewValidationError("openai model names cannot be empty")
	}
	if c.RequestsPerSecond < 0 {
		return types.NewValidationError("openai requests_per_second cannot be negative")
	}
	return nil
}

// Client implements workers.Embedder and workers.Generator.
type Client struct {
	client  *openai.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

var (
	_ workers.Embedder  = (*Client)(nil)
	_ workers.Generator = (*Client)(nil)
)

// New creates a client. Retries are left to the workflow executor.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.OrgID = cfg.OrgID
	oc.HTTPClient = tlsutil.SecureHTTPClient(cfg.Timeout)

	c := &Client{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "openai_worker")),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

func (c *Client) wait(ctx context.Context, dependency string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return types.NewTransientError(dependency, "rate limit wait exceeds deadline").WithCause(err)
	}
	return nil
}

// EmbedText 实现 workers.Embedder
func (c *Client) EmbedText(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, workers.EmbeddingError(types.KindValidation, "text is empty")
	}
	if err := c.wait(ctx, workers.WorkerEmbedding); err != nil {
		return nil, err
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, mapError(ctx, workers.WorkerEmbedding, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, workers.EmbeddingError(types.KindTransient, "embedding response is empty")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float64, len(raw))
	for i, v := range raw {
		vec[i] = float64(v)
	}
	c.logger.Debug("embedding generated",
		zap.Int("dimension", len(vec)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens))
	return vec, nil
}

// GenerateText 实现 workers.Generator
func (c *Client) GenerateText(ctx context.Context, prompt string, cons workers.Constraints) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", workers.GenerationError(types.KindValidation, "prompt is empty")
	}
	if err := c.wait(ctx, workers.WorkerGeneration); err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(cons)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: cons.Temperature,
	}
	if cons.MaxTokens > 0 {
		req.MaxTokens = cons.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", mapError(ctx, workers.WorkerGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", workers.GenerationError(types.KindTransient, "generation response is empty")
	}

	c.logger.Debug("text generated",
		zap.String("model", resp.Model),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return resp.Choices[0].Message.Content, nil
}

func systemPrompt(c workers.Constraints) string {
	var b strings.Builder
	b.WriteString("You draft grant application text. Be factual and concise.")
	if c.Format != "" {
		b.WriteString(" Respond in ")
		b.WriteString(c.Format)
		b.WriteString(".")
	}
	if len(c.Sections) > 0 {
		b.WriteString(" Use these sections in order: ")
		b.WriteString(strings.Join(c.Sections, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// mapError 将 HTTP 状态映射到错误类别。
// 服务端返回的原始信息只保留在 Cause 中（进日志），Message 使用固定文案
func mapError(ctx context.Context, dependency string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	var kind types.ErrorKind
	var msg string
	switch {
	case status == 0:
		// 网络错误、超时
		kind, msg = types.KindTransient, "service unreachable"
	case status == http.StatusTooManyRequests:
		kind, msg = types.KindTransient, "service is rate limiting requests"
	case status == http.StatusRequestTimeout || status >= 500:
		kind, msg = types.KindTransient, "service temporarily unavailable"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind, msg = types.KindAuthorization, "service rejected the credentials"
	case status == http.StatusNotFound:
		kind, msg = types.KindNotFound, "configured model not found"
	case status >= 400:
		kind, msg = types.KindValidation, "service rejected the request"
	default:
		kind, msg = types.KindInternal, "service returned an unexpected response"
	}

	e := types.NewError(kind, dependency+" "+msg).WithDependency(dependency).WithCause(err)
	if status != 0 {
		e = e.WithHTTPStatus(status)
	}
	return e
}
