package ai

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/angelfsepulveda/customchatfree/internal/config"
	"github.com/angelfsepulveda/customchatfree/internal/logger"
)

// CompletionRequest is one turn sent to the completion backend.
type CompletionRequest struct {
	// Model is a catalog key such as "deepseek_v3".
	Model        string
	Prompt       string
	SystemPrompt string
	// ImageURL is an http(s) or data: URL; ignored for text-only models.
	ImageURL string
}

// ModelInfo describes one catalog entry.
type ModelInfo struct {
	Key    string `json:"key"`
	ID     string `json:"id"`
	Label  string `json:"label"`
	Vision bool   `json:"vision"`
}

// ChatModelFactory builds the eino chat model for one catalog entry.
type ChatModelFactory func(ctx context.Context, modelID string) (model.BaseChatModel, error)

type aiService struct {
	cfg     config.AIConfig
	factory ChatModelFactory
	log     *logger.Logger

	mu     sync.Mutex
	models map[string]model.BaseChatModel
}

// NewAiService builds the completion backend for the configured provider.
func NewAiService(cfg config.AIConfig, log *logger.Logger) (*aiService, error) {
	factory, err := providerFactory(cfg)
	if err != nil {
		return nil, err
	}
	return NewAiServiceWithFactory(cfg, factory, log), nil
}

// NewAiServiceWithFactory is NewAiService with an explicit model factory.
func NewAiServiceWithFactory(cfg config.AIConfig, factory ChatModelFactory, log *logger.Logger) *aiService {
	return &aiService{
		cfg:     cfg,
		factory: factory,
		log:     log,
		models:  make(map[string]model.BaseChatModel),
	}
}

func providerFactory(cfg config.AIConfig) (ChatModelFactory, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		httpClient := &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &headerTransport{referer: cfg.Referer, title: cfg.Title, base: http.DefaultTransport},
		}
		return func(ctx context.Context, modelID string) (model.BaseChatModel, error) {
			return openai.NewChatModel(ctx, &openai.ChatModelConfig{
				BaseURL:    cfg.BaseURL,
				Model:      modelID,
				APIKey:     cfg.APIKey,
				HTTPClient: httpClient,
			})
		}, nil
	case "gemini":
		return func(ctx context.Context, modelID string) (model.BaseChatModel, error) {
			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				APIKey: cfg.APIKey,
			})
			if err != nil {
				return nil, fmt.Errorf("new gemini client: %w", err)
			}
			return gemini.NewChatModel(ctx, &gemini.Config{
				Client: client,
				Model:  modelID,
			})
		}, nil
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURL := cfg.BaseURL
			baseURLPtr = &baseURL
		}
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 3000
		}
		return func(ctx context.Context, modelID string) (model.BaseChatModel, error) {
			return claude.NewChatModel(ctx, &claude.Config{
				APIKey:    cfg.APIKey,
				Model:     modelID,
				BaseURL:   baseURLPtr,
				MaxTokens: maxTokens,
			})
		}, nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
}

// headerTransport adds the attribution headers OpenRouter asks for.
type headerTransport struct {
	referer string
	title   string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.referer == "" && t.title == "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}
	return t.base.RoundTrip(req)
}

// Models returns the catalog sorted by key.
func (s *aiService) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(s.cfg.Models))
	for key, m := range s.cfg.Models {
		out = append(out, ModelInfo{Key: key, ID: m.ID, Label: m.Label, Vision: m.Vision})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// DefaultModel returns the catalog key used when a request names none.
func (s *aiService) DefaultModel() string {
	return s.cfg.DefaultModel
}

// Complete sends the request and returns the reply text. It never fails:
// errors come back in-band as a bracketed message so the caller can store
// the exchange regardless.
func (s *aiService) Complete(ctx context.Context, req CompletionRequest) string {
	key := req.Model
	if key == "" {
		key = s.cfg.DefaultModel
	}
	entry, ok := s.cfg.Models[key]
	if !ok {
		return fmt.Sprintf("[Model '%s' not supported]", key)
	}
	label := entry.Label
	if label == "" {
		label = key
	}

	chatModel, err := s.chatModel(ctx, key, entry.ID)
	if err != nil {
		s.log.Error("init chat model failed", "model", key, "error", err)
		return fmt.Sprintf("[Error contacting %s: %v]", label, err)
	}

	imageURL := ""
	if entry.Vision {
		imageURL = req.ImageURL
	} else if req.ImageURL != "" {
		s.log.Debug("dropping image for text-only model", "model", key)
	}
	resp, err := chatModel.Generate(ctx, buildMessages(req.Prompt, req.SystemPrompt, imageURL))
	if err != nil {
		s.log.Warn("completion failed", "model", key, "error", err)
		return fmt.Sprintf("[Error contacting %s: %v]", label, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return fmt.Sprintf("[Empty response from %s]", label)
	}
	return resp.Content
}

func (s *aiService) chatModel(ctx context.Context, key, modelID string) (model.BaseChatModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.models[key]; ok {
		return m, nil
	}
	m, err := s.factory(ctx, modelID)
	if err != nil {
		return nil, err
	}
	s.models[key] = m
	return m, nil
}

func buildMessages(prompt, systemPrompt, imageURL string) []*schema.Message {
	messages := make([]*schema.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, &schema.Message{
			Role:    schema.System,
			Content: systemPrompt,
		})
	}
	user := &schema.Message{Role: schema.User, Content: prompt}
	if imageURL != "" {
		user.Content = ""
		user.MultiContent = []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: prompt},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: imageURL}},
		}
	}
	return append(messages, user)
}
