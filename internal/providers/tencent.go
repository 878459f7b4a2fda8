package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexiflow/lexiflow-server/internal/dispatch"
)

// Tencent cloud API endpoints and versions.
const (
	tencentOCREndpoint = "ocr.tencentcloudapi.com"
	tencentOCRVersion  = "2018-11-19"
	tencentASREndpoint = "asr.tencentcloudapi.com"
	tencentASRVersion  = "2019-06-14"
	tencentRegion      = "ap-guangzhou"
)

// asrPollInterval is the delay between task status checks.
const asrPollInterval = time.Second

// TencentProvider adapts Tencent cloud OCR and ASR. OCR is synchronous;
// speech recognition creates a recognition task and polls it until the
// attempt context expires.
type TencentProvider struct {
	secretID  string
	secretKey string
	region    string
	client    *http.Client
}

// NewTencentProvider constructs a TencentProvider.
func NewTencentProvider(secretID, secretKey, region string) *TencentProvider {
	if region == "" {
		region = tencentRegion
	}
	return &TencentProvider{
		secretID:  secretID,
		secretKey: secretKey,
		region:    region,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider identifier.
func (p *TencentProvider) Name() string { return "tencent" }

// Supports reports whether the provider can handle the operation.
func (p *TencentProvider) Supports(op dispatch.Operation) bool {
	return op == dispatch.OpImageOCR || op == dispatch.OpSpeechToText
}

// Do performs the operation against the Tencent cloud API.
func (p *TencentProvider) Do(ctx context.Context, op dispatch.Operation, input dispatch.Input) (string, error) {
	if p.secretID == "" || p.secretKey == "" {
		return "", fmt.Errorf("providers: tencent credentials not configured")
	}
	switch op {
	case dispatch.OpImageOCR:
		return p.generalOCR(ctx, input.ImageBase64)
	case dispatch.OpSpeechToText:
		return p.recognizeSpeech(ctx, input)
	default:
		return "", fmt.Errorf("providers: tencent does not support %s", op)
	}
}

// generalOCR calls GeneralBasicOCR and joins the detected lines.
func (p *TencentProvider) generalOCR(ctx context.Context, imageBase64 string) (string, error) {
	if strings.TrimSpace(imageBase64) == "" {
		return "", fmt.Errorf("providers: empty image")
	}

	payload := map[string]any{"ImageBase64": imageBase64}
	raw, errCall := p.call(ctx, tencentOCREndpoint, "ocr", tencentOCRVersion, "GeneralBasicOCR", payload)
	if errCall != nil {
		return "", errCall
	}

	var parsed struct {
		Response struct {
			TextDetections []struct {
				DetectedText string `json:"DetectedText"`
			} `json:"TextDetections"`
		} `json:"Response"`
	}
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return "", fmt.Errorf("providers: tencent decode ocr response: %w", errUnmarshal)
	}
	if len(parsed.Response.TextDetections) == 0 {
		return "", fmt.Errorf("providers: tencent ocr found no text")
	}

	lines := make([]string, 0, len(parsed.Response.TextDetections))
	for _, detection := range parsed.Response.TextDetections {
		lines = append(lines, detection.DetectedText)
	}
	return strings.Join(lines, "\n"), nil
}

// recognizeSpeech creates a recognition task and polls until it finishes or
// the attempt context expires.
func (p *TencentProvider) recognizeSpeech(ctx context.Context, input dispatch.Input) (string, error) {
	payload := map[string]any{
		"EngineModelType": "16k_zh",
		"ChannelNum":      1,
		"ResTextFormat":   0,
	}
	switch {
	case input.MediaURL != "":
		payload["SourceType"] = 0
		payload["Url"] = input.MediaURL
	case input.AudioBase64 != "":
		payload["SourceType"] = 1
		payload["Data"] = input.AudioBase64
	default:
		return "", fmt.Errorf("providers: no audio supplied")
	}

	raw, errCall := p.call(ctx, tencentASREndpoint, "asr", tencentASRVersion, "CreateRecTask", payload)
	if errCall != nil {
		return "", errCall
	}

	var created struct {
		Response struct {
			Data struct {
				TaskId int64 `json:"TaskId"`
			} `json:"Data"`
		} `json:"Response"`
	}
	if errUnmarshal := json.Unmarshal(raw, &created); errUnmarshal != nil {
		return "", fmt.Errorf("providers: tencent decode asr response: %w", errUnmarshal)
	}
	if created.Response.Data.TaskId == 0 {
		return "", fmt.Errorf("providers: tencent asr returned no task id")
	}

	return p.pollSpeechTask(ctx, created.Response.Data.TaskId)
}

// pollSpeechTask queries the recognition task until it reaches a terminal
// state.
func (p *TencentProvider) pollSpeechTask(ctx context.Context, taskID int64) (string, error) {
	for {
		raw, errCall := p.call(ctx, tencentASREndpoint, "asr", tencentASRVersion, "DescribeTaskStatus", map[string]any{"TaskId": taskID})
		if errCall != nil {
			return "", errCall
		}

		var status struct {
			Response struct {
				Data struct {
					StatusStr string `json:"StatusStr"`
					Result    string `json:"Result"`
					ErrorMsg  string `json:"ErrorMsg"`
				} `json:"Data"`
			} `json:"Response"`
		}
		if errUnmarshal := json.Unmarshal(raw, &status); errUnmarshal != nil {
			return "", fmt.Errorf("providers: tencent decode task status: %w", errUnmarshal)
		}

		switch status.Response.Data.StatusStr {
		case "success":
			return strings.TrimSpace(status.Response.Data.Result), nil
		case "failed":
			return "", fmt.Errorf("providers: tencent asr task failed: %s", status.Response.Data.ErrorMsg)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(asrPollInterval):
		}
	}
}

// call signs and posts one Tencent cloud API action.
func (p *TencentProvider) call(ctx context.Context, endpoint, service, version, action string, payload map[string]any) ([]byte, error) {
	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return nil, fmt.Errorf("providers: tencent marshal payload: %w", errMarshal)
	}

	timestamp := time.Now().Unix()
	authorization := tc3Sign(p.secretID, p.secretKey, endpoint, service, timestamp, body)

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+endpoint, bytes.NewReader(body))
	if errReq != nil {
		return nil, fmt.Errorf("providers: tencent build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization)
	req.Header.Set("X-TC-Action", action)
	req.Header.Set("X-TC-Version", version)
	req.Header.Set("X-TC-Region", p.region)
	req.Header.Set("X-TC-Timestamp", fmt.Sprintf("%d", timestamp))

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("providers: tencent %s: %w", action, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if errRead != nil {
		return nil, fmt.Errorf("providers: tencent read response: %w", errRead)
	}

	var apiErr struct {
		Response struct {
			Error *struct {
				Code    string `json:"Code"`
				Message string `json:"Message"`
			} `json:"Error"`
		} `json:"Response"`
	}
	if errUnmarshal := json.Unmarshal(raw, &apiErr); errUnmarshal == nil && apiErr.Response.Error != nil {
		return nil, fmt.Errorf("providers: tencent %s: %s: %s", action, apiErr.Response.Error.Code, apiErr.Response.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("providers: tencent %s: status %d", action, resp.StatusCode)
	}
	return raw, nil
}

// tc3Sign computes a TC3-HMAC-SHA256 Authorization header.
func tc3Sign(secretID, secretKey, endpoint, service string, timestamp int64, payload []byte) string {
	canonicalHeaders := "content-type:application/json\nhost:" + endpoint + "\n"
	signedHeaders := "content-type;host"
	hashedPayload := sha256Hex(payload)
	canonicalRequest := strings.Join([]string{
		http.MethodPost,
		"/",
		"",
		canonicalHeaders,
		signedHeaders,
		hashedPayload,
	}, "\n")

	date := time.Unix(timestamp, 0).UTC().Format("2006-01-02")
	credentialScope := date + "/" + service + "/tc3_request"
	stringToSign := strings.Join([]string{
		"TC3-HMAC-SHA256",
		fmt.Sprintf("%d", timestamp),
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	secretDate := hmacSHA256([]byte("TC3"+secretKey), date)
	secretService := hmacSHA256(secretDate, service)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	return fmt.Sprintf("TC3-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		secretID, credentialScope, signedHeaders, signature)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}
