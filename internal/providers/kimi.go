package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/lexiflow/lexiflow-server/internal/dispatch"
)

// pdfExtractPrompt drives the content pass after a file upload.
const pdfExtractPrompt = "Return the file's original content verbatim, preserving formatting and line breaks. Do not add any explanation or summary."

// KimiProvider adapts the Moonshot API. On top of plain chat translation it
// implements PDF extraction through the vendor's file pipeline: upload the
// file, fetch the extracted content, then ask the chat model to emit the raw
// text.
type KimiProvider struct {
	chat   *ChatProvider
	apiKey string
	base   string
	client *http.Client
}

// NewKimiProvider constructs a KimiProvider.
func NewKimiProvider(apiKey string) *KimiProvider {
	base := "https://api.moonshot.cn/v1"
	return &KimiProvider{
		chat:   NewChatProvider("kimi", base, apiKey, "moonshot-v1-128k", ""),
		apiKey: apiKey,
		base:   base,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider identifier.
func (p *KimiProvider) Name() string { return "kimi" }

// Supports reports whether the provider can handle the operation.
func (p *KimiProvider) Supports(op dispatch.Operation) bool {
	return op == dispatch.OpTranslate || op == dispatch.OpPDFExtract
}

// Do performs the operation against the Moonshot API.
func (p *KimiProvider) Do(ctx context.Context, op dispatch.Operation, input dispatch.Input) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("providers: kimi api key not configured")
	}
	switch op {
	case dispatch.OpTranslate:
		return p.chat.Do(ctx, op, input)
	case dispatch.OpPDFExtract:
		return p.extractPDF(ctx, input.FileBase64, input.Filename)
	default:
		return "", fmt.Errorf("providers: kimi does not support %s", op)
	}
}

// extractPDF runs the three-step file pipeline: upload, content, process.
func (p *KimiProvider) extractPDF(ctx context.Context, fileBase64, filename string) (string, error) {
	if strings.TrimSpace(fileBase64) == "" {
		return "", fmt.Errorf("providers: empty file")
	}
	if filename == "" {
		filename = "document.pdf"
	}

	fileID, errUpload := p.uploadFile(ctx, fileBase64, filename)
	if errUpload != nil {
		return "", errUpload
	}

	content, errContent := p.fileContent(ctx, fileID)
	if errContent != nil {
		return "", errContent
	}

	return p.processContent(ctx, content)
}

type kimiFile struct {
	ID string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// uploadFile posts the decoded PDF with purpose=file-extract.
func (p *KimiProvider) uploadFile(ctx context.Context, fileBase64, filename string) (string, error) {
	decoded, errDecode := base64.StdEncoding.DecodeString(fileBase64)
	if errDecode != nil {
		return "", fmt.Errorf("providers: kimi decode file: %w", errDecode)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, errPart := writer.CreateFormFile("file", filename)
	if errPart != nil {
		return "", fmt.Errorf("providers: kimi form file: %w", errPart)
	}
	if _, errWrite := part.Write(decoded); errWrite != nil {
		return "", fmt.Errorf("providers: kimi write file: %w", errWrite)
	}
	if errField := writer.WriteField("purpose", "file-extract"); errField != nil {
		return "", fmt.Errorf("providers: kimi write purpose: %w", errField)
	}
	if errClose := writer.Close(); errClose != nil {
		return "", fmt.Errorf("providers: kimi close form: %w", errClose)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/files", &buf)
	if errReq != nil {
		return "", fmt.Errorf("providers: kimi build upload: %w", errReq)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return "", fmt.Errorf("providers: kimi upload: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return "", fmt.Errorf("providers: kimi read upload response: %w", errRead)
	}

	var parsed kimiFile
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return "", fmt.Errorf("providers: kimi decode upload response: %w", errUnmarshal)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("providers: kimi upload: %s", parsed.Error.Message)
		}
		return "", fmt.Errorf("providers: kimi upload: status %d", resp.StatusCode)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("providers: kimi upload returned no file id")
	}
	return parsed.ID, nil
}

// fileContent fetches the vendor-extracted text for an uploaded file.
func (p *KimiProvider) fileContent(ctx context.Context, fileID string) (string, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/files/"+fileID+"/content", nil)
	if errReq != nil {
		return "", fmt.Errorf("providers: kimi build content request: %w", errReq)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return "", fmt.Errorf("providers: kimi file content: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if errRead != nil {
		return "", fmt.Errorf("providers: kimi read file content: %w", errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("providers: kimi file content: status %d", resp.StatusCode)
	}
	return string(raw), nil
}

// processContent asks the chat model to emit the extracted text untouched.
func (p *KimiProvider) processContent(ctx context.Context, content string) (string, error) {
	body := chatRequest{
		Model: "moonshot-v1-32k",
		Messages: []chatMessage{
			{Role: "system", Content: "You are Kimi, an AI assistant by Moonshot AI. Extract all text content from the file, preserving the original formatting and line breaks."},
			{Role: "system", Content: content},
			{Role: "user", Content: pdfExtractPrompt},
		},
		Temperature: 0.3,
	}
	return p.chat.complete(ctx, body)
}
