package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lexiflow/lexiflow-server/internal/dispatch"
	"github.com/lexiflow/lexiflow-server/internal/quota"
	"github.com/lexiflow/lexiflow-server/internal/relay"
	"github.com/lexiflow/lexiflow-server/internal/settings"
	"github.com/lexiflow/lexiflow-server/internal/tasks"
)

// Default chains for operations without a settings override.
var (
	defaultPDFChain    = []string{"kimi"}
	defaultSpeechChain = []string{"tencent"}
	defaultVideoChain  = []string{"aliyun"}
)

// RelayHandler exposes the quota-metered operations.
type RelayHandler struct {
	relay  *relay.Service
	runner *tasks.Runner
	store  *tasks.Store
}

// NewRelayHandler constructs a RelayHandler.
func NewRelayHandler(relayService *relay.Service, runner *tasks.Runner, store *tasks.Store) *RelayHandler {
	return &RelayHandler{relay: relayService, runner: runner, store: store}
}

// chainFor resolves the ordered provider chain for an operation and applies
// the caller's preferred provider as primary when given.
func chainFor(op dispatch.Operation, preferred string) (string, []string) {
	var chain []string
	switch op {
	case dispatch.OpTranslate:
		chain = settings.StringsValue(settings.TranslateFallbackChainKey, settings.DefaultTranslateFallbackChain)
	case dispatch.OpImageOCR:
		chain = settings.StringsValue(settings.OCRFallbackChainKey, settings.DefaultOCRFallbackChain)
	case dispatch.OpPDFExtract:
		chain = defaultPDFChain
	case dispatch.OpSpeechToText:
		chain = defaultSpeechChain
	case dispatch.OpVideoOCR:
		chain = defaultVideoChain
	}
	if len(chain) == 0 {
		chain = []string{""}
	}

	preferred = strings.TrimSpace(preferred)
	if preferred != "" {
		return preferred, chain
	}
	return chain[0], chain[1:]
}

// respondRelayError maps relay errors onto HTTP statuses.
func respondRelayError(c *gin.Context, err error) {
	var allFailed *dispatch.AllFailedError
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily quota exceeded"})
	case errors.Is(err, quota.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, quota.ErrUnknownType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resource type"})
	case errors.As(err, &allFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "all providers failed", "attempted": allFailed.Attempted})
	case errors.Is(err, dispatch.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
	case errors.Is(err, dispatch.ErrUnsupportedOperation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "operation not supported by provider"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
	}
}

// translateRequest defines the request body for text translation.
type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
	Provider       string `json:"provider"`
}

// Translate translates text through the configured provider chain.
func (h *RelayHandler) Translate(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var body translateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Text) == "" || strings.TrimSpace(body.TargetLanguage) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing text or target_language"})
		return
	}

	primary, fallbacks := chainFor(dispatch.OpTranslate, body.Provider)
	outcome, errExecute := h.relay.Execute(c.Request.Context(), userID, quota.TypeText, dispatch.OpTranslate, dispatch.Input{
		Text:           body.Text,
		TargetLanguage: body.TargetLanguage,
	}, primary, fallbacks)
	if errExecute != nil {
		respondRelayError(c, errExecute)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// imageOCRRequest defines the request body for image text extraction.
type imageOCRRequest struct {
	ImageBase64 string `json:"image_base64"`
	Provider    string `json:"provider"`
}

// ImageOCR extracts text from an image.
func (h *RelayHandler) ImageOCR(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var body imageOCRRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.ImageBase64) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing image_base64"})
		return
	}

	primary, fallbacks := chainFor(dispatch.OpImageOCR, body.Provider)
	outcome, errExecute := h.relay.Execute(c.Request.Context(), userID, quota.TypeImage, dispatch.OpImageOCR, dispatch.Input{
		ImageBase64: body.ImageBase64,
	}, primary, fallbacks)
	if errExecute != nil {
		respondRelayError(c, errExecute)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// pdfExtractRequest defines the request body for PDF text extraction.
type pdfExtractRequest struct {
	FileBase64 string `json:"file_base64"`
	Filename   string `json:"filename"`
	Provider   string `json:"provider"`
}

// PDFExtract extracts text from an uploaded PDF.
func (h *RelayHandler) PDFExtract(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var body pdfExtractRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.FileBase64) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file_base64"})
		return
	}
	filename := strings.TrimSpace(body.Filename)
	if filename == "" {
		filename = "document.pdf"
	}

	primary, fallbacks := chainFor(dispatch.OpPDFExtract, body.Provider)
	outcome, errExecute := h.relay.Execute(c.Request.Context(), userID, quota.TypePDF, dispatch.OpPDFExtract, dispatch.Input{
		FileBase64: body.FileBase64,
		Filename:   filename,
	}, primary, fallbacks)
	if errExecute != nil {
		respondRelayError(c, errExecute)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// speechRequest defines the request body for speech recognition.
type speechRequest struct {
	AudioURL    string `json:"audio_url"`
	AudioBase64 string `json:"audio_base64"`
	Provider    string `json:"provider"`
}

// Speech starts a background speech recognition task and returns its id.
func (h *RelayHandler) Speech(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var body speechRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.AudioURL) == "" && strings.TrimSpace(body.AudioBase64) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing audio_url or audio_base64"})
		return
	}

	primary, fallbacks := chainFor(dispatch.OpSpeechToText, body.Provider)
	task, errSubmit := h.runner.Submit(c.Request.Context(), userID, quota.TypeSpeech, dispatch.OpSpeechToText, dispatch.Input{
		MediaURL:    strings.TrimSpace(body.AudioURL),
		AudioBase64: strings.TrimSpace(body.AudioBase64),
	}, primary, fallbacks)
	if errSubmit != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": task.Status})
}

// videoRequest defines the request body for video text extraction.
type videoRequest struct {
	VideoURL string `json:"video_url"`
	Provider string `json:"provider"`
}

// Video starts a background video text extraction task and returns its id.
func (h *RelayHandler) Video(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var body videoRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.VideoURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing video_url"})
		return
	}

	primary, fallbacks := chainFor(dispatch.OpVideoOCR, body.Provider)
	task, errSubmit := h.runner.Submit(c.Request.Context(), userID, quota.TypeVideo, dispatch.OpVideoOCR, dispatch.Input{
		MediaURL: strings.TrimSpace(body.VideoURL),
	}, primary, fallbacks)
	if errSubmit != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": task.Status})
}

// TaskStatus returns the state of a background task owned by the user.
func (h *RelayHandler) TaskStatus(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	taskID := strings.TrimSpace(c.Param("id"))
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing task id"})
		return
	}

	task, errGet := h.store.Get(c.Request.Context(), userID, taskID)
	if errGet != nil {
		if errors.Is(errGet, tasks.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, task)
}
