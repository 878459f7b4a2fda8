// Package providers holds the vendor adapters the dispatcher routes to.
// Every adapter treats its vendor as an opaque capability: payload in, text
// out, explicit error on anything else.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexiflow/lexiflow-server/internal/dispatch"
)

// translateSystemPrompt mirrors the prompt every chat vendor is driven with.
const translateSystemPrompt = "You are a professional translator. Translate the following text to %s. Only return the translated text, no explanations."

// ocrPrompt asks a vision model to dump the text in an image.
const ocrPrompt = "Read all the text in the image."

// ChatProvider adapts an OpenAI-compatible chat completion vendor. All the
// text-translation vendors (DeepSeek, Qwen, Zhipu, OpenAI, Hunyuan, MiniMax,
// SiliconFlow, OpenRouter, Kimi, Step) speak this dialect; vendors with a
// vision model double as image OCR.
type ChatProvider struct {
	name        string
	baseURL     string
	apiKey      string
	chatModel   string
	visionModel string
	client      *http.Client
}

// NewChatProvider constructs a ChatProvider. visionModel may be empty for
// vendors without OCR support.
func NewChatProvider(name, baseURL, apiKey, chatModel, visionModel string) *ChatProvider {
	return &ChatProvider{
		name:        name,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		chatModel:   chatModel,
		visionModel: visionModel,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider identifier.
func (p *ChatProvider) Name() string { return p.name }

// Supports reports whether the provider can handle the operation.
func (p *ChatProvider) Supports(op dispatch.Operation) bool {
	switch op {
	case dispatch.OpTranslate:
		return p.chatModel != ""
	case dispatch.OpImageOCR:
		return p.visionModel != ""
	}
	return false
}

// Do performs the operation against the vendor API.
func (p *ChatProvider) Do(ctx context.Context, op dispatch.Operation, input dispatch.Input) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("providers: %s api key not configured", p.name)
	}
	switch op {
	case dispatch.OpTranslate:
		return p.translate(ctx, input.Text, input.TargetLanguage)
	case dispatch.OpImageOCR:
		return p.imageOCR(ctx, input.ImageBase64)
	default:
		return "", fmt.Errorf("providers: %s does not support %s", p.name, op)
	}
}

// chatMessage is one entry in a chat completion request. Content is either a
// plain string or a slice of content parts for vision requests.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *ChatProvider) translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("providers: empty text")
	}
	body := chatRequest{
		Model: p.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(translateSystemPrompt, targetLanguage)},
			{Role: "user", Content: text},
		},
		Temperature: 0.3,
		MaxTokens:   2000,
	}
	return p.complete(ctx, body)
}

func (p *ChatProvider) imageOCR(ctx context.Context, imageBase64 string) (string, error) {
	if strings.TrimSpace(imageBase64) == "" {
		return "", fmt.Errorf("providers: empty image")
	}
	content := []map[string]any{
		{
			"type": "image_url",
			"image_url": map[string]any{
				"url": "data:image/jpeg;base64," + imageBase64,
			},
		},
		{
			"type": "text",
			"text": ocrPrompt,
		},
	}
	body := chatRequest{
		Model:    p.visionModel,
		Messages: []chatMessage{{Role: "user", Content: content}},
	}
	return p.complete(ctx, body)
}

// complete posts a chat completion and returns the first choice's content.
func (p *ChatProvider) complete(ctx context.Context, body chatRequest) (string, error) {
	payload, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		return "", fmt.Errorf("providers: marshal request: %w", errMarshal)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if errReq != nil {
		return "", fmt.Errorf("providers: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return "", fmt.Errorf("providers: %s request: %w", p.name, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return "", fmt.Errorf("providers: %s read response: %w", p.name, errRead)
	}

	var parsed chatResponse
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return "", fmt.Errorf("providers: %s decode response: %w", p.name, errUnmarshal)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("providers: %s: %s", p.name, parsed.Error.Message)
		}
		return "", fmt.Errorf("providers: %s: status %d", p.name, resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("providers: %s returned no choices", p.name)
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
