package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/elonfeng/trendx/pkg/source"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

const postPrompt = `Generate bilingual social media post content for the following trending topic:

Title: %s
Description: %s
Source: %s
URL: %s
Local (%s) related: %t
Global: %t

Please generate:
1. A short %s post (max 200 characters)
2. A short English post (max 200 characters)
3. 3-5 relevant hashtags

Respond with JSON only:
{"local_text": "...", "english_text": "...", "hashtags": ["#tag1", "#tag2", "#tag3"]}

Make the posts engaging, informative and appropriate for social media.`

// LLMConfig configures an LLM-backed generator.
type LLMConfig struct {
	Provider    string // "openai" or "gemini"
	APIKey      string
	Model       string
	BaseURL     string // custom endpoint (optional)
	Temperature float32
	MaxTokens   int
	Locality    string // e.g. "Turkey"
	Language    string // e.g. "Turkish"
}

// LLM generates posts with a chat model and falls back to another
// generator when the call or its parsing fails.
type LLM struct {
	cfg      LLMConfig
	complete func(ctx context.Context, prompt string) (string, error)
	fallback Generator
	logger   zerolog.Logger
}

// NewGenerator returns the generator selected by cfg.Provider. Without an
// API key it returns the template generator.
func NewGenerator(ctx context.Context, cfg LLMConfig, logger zerolog.Logger) (Generator, error) {
	tpl := NewTemplate(logger)
	switch cfg.Provider {
	case "", GeneratorTemplate:
		return tpl, nil
	case GeneratorOpenAI, GeneratorGemini:
		if cfg.APIKey == "" {
			logger.Warn().Str("provider", cfg.Provider).Msg("no api key configured, using template generator")
			return tpl, nil
		}
		return NewLLM(ctx, cfg, tpl, logger)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

// NewLLM creates an LLM generator for cfg.Provider.
func NewLLM(ctx context.Context, cfg LLMConfig, fallback Generator, logger zerolog.Logger) (*LLM, error) {
	if cfg.Locality == "" {
		cfg.Locality = "Turkey"
	}
	if cfg.Language == "" {
		cfg.Language = "Turkish"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}

	g := &LLM{cfg: cfg, fallback: fallback, logger: logger}
	switch cfg.Provider {
	case GeneratorGemini:
		if g.cfg.Model == "" {
			g.cfg.Model = "gemini-2.0-flash"
		}
		complete, err := geminiCompleter(ctx, g.cfg)
		if err != nil {
			return nil, err
		}
		g.complete = complete
	default:
		g.cfg.Provider = GeneratorOpenAI
		if g.cfg.Model == "" {
			g.cfg.Model = openai.GPT4oMini
		}
		g.complete = openaiCompleter(g.cfg)
	}
	return g, nil
}

func (g *LLM) Name() string { return g.cfg.Provider }

// Generate asks the model for post text. Any failure is logged and served
// by the fallback generator.
func (g *LLM) Generate(ctx context.Context, r source.Record) (*Content, error) {
	c, err := g.generate(ctx, r)
	if err == nil {
		return c, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	g.logger.Error().Err(err).Str("provider", g.cfg.Provider).Str("record_id", r.ID).Msg("llm generation failed, using fallback")
	if g.fallback == nil {
		return nil, err
	}
	return g.fallback.Generate(ctx, r)
}

func (g *LLM) generate(ctx context.Context, r source.Record) (*Content, error) {
	raw, err := g.complete(ctx, g.prompt(r))
	if err != nil {
		return nil, err
	}

	parsed, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	c := newContent(r, g.cfg.Provider)
	c.LocalText = parsed.LocalText
	c.EnglishText = parsed.EnglishText
	c.Hashtags = normalizeTags(parsed.Hashtags)
	return c, nil
}

func (g *LLM) prompt(r source.Record) string {
	desc := r.Description
	if desc == "" {
		desc = "No description available"
	} else if len([]rune(desc)) > 500 {
		desc = string([]rune(desc)[:500]) + "..."
	}
	url := r.URL
	if url == "" {
		url = "No URL available"
	}
	return fmt.Sprintf(postPrompt, r.Title, desc, r.Source, url,
		g.cfg.Locality, r.IsLocal, r.IsGlobal, g.cfg.Language)
}

type llmPost struct {
	LocalText   string   `json:"local_text"`
	TurkishText string   `json:"turkish_text"`
	EnglishText string   `json:"english_text"`
	Hashtags    []string `json:"hashtags"`
}

// parseResponse decodes the model's JSON answer, tolerating markdown code
// fences around it.
func parseResponse(raw string) (*llmPost, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw[3:], "\n"); idx >= 0 {
			raw = raw[3+idx+1:]
		}
		raw = strings.TrimSpace(strings.TrimSuffix(raw, "```"))
	}

	var p llmPost
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse llm response: %w\nraw: %s", err, truncateStr(raw, 500))
	}
	if p.LocalText == "" {
		p.LocalText = p.TurkishText
	}
	if strings.TrimSpace(p.LocalText) == "" {
		return nil, errors.New("parse llm response: empty local_text")
	}
	return &p, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.Join(strings.Fields(t), "")
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		out = append(out, t)
	}
	return capTags(out)
}

func openaiCompleter(cfg LLMConfig) func(context.Context, string) (string, error) {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(oc)

	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("call openai: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("openai: no choices returned")
		}
		return resp.Choices[0].Message.Content, nil
	}
}

func geminiCompleter(ctx context.Context, cfg LLMConfig) (func(context.Context, string) (string, error), error) {
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	gc := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(cfg.Temperature),
		MaxOutputTokens:  int32(cfg.MaxTokens),
		ResponseMIMEType: "application/json",
	}
	return func(ctx context.Context, prompt string) (string, error) {
		msg := genai.NewContentFromText(prompt, genai.RoleUser)
		resp, err := client.Models.GenerateContent(ctx, cfg.Model, []*genai.Content{msg}, gc)
		if err != nil {
			return "", fmt.Errorf("call gemini: %w", err)
		}
		text := resp.Text()
		if text == "" {
			return "", errors.New("gemini: no content returned")
		}
		return text, nil
	}, nil
}

func truncateStr(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
