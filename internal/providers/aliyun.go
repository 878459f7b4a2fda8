package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexiflow/lexiflow-server/internal/dispatch"
)

// Aliyun video recognition endpoint and API version.
const (
	aliyunVideoEndpoint = "videorecog.cn-shanghai.aliyuncs.com"
	aliyunVideoVersion  = "2020-03-20"
)

// videoPollInterval is the delay between async job status checks.
const videoPollInterval = 2 * time.Second

// AliyunProvider extracts subtitle and on-screen text from videos through the
// Aliyun video recognition service. Recognition is asynchronous: one call
// creates the job, then the result endpoint is polled until the attempt
// context expires.
type AliyunProvider struct {
	accessKeyID     string
	accessKeySecret string
	client          *http.Client
}

// NewAliyunProvider constructs an AliyunProvider.
func NewAliyunProvider(accessKeyID, accessKeySecret string) *AliyunProvider {
	return &AliyunProvider{
		accessKeyID:     accessKeyID,
		accessKeySecret: accessKeySecret,
		client:          &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider identifier.
func (p *AliyunProvider) Name() string { return "aliyun" }

// Supports reports whether the provider can handle the operation.
func (p *AliyunProvider) Supports(op dispatch.Operation) bool {
	return op == dispatch.OpVideoOCR
}

// Do performs the operation against the Aliyun API.
func (p *AliyunProvider) Do(ctx context.Context, op dispatch.Operation, input dispatch.Input) (string, error) {
	if p.accessKeyID == "" || p.accessKeySecret == "" {
		return "", fmt.Errorf("providers: aliyun credentials not configured")
	}
	if op != dispatch.OpVideoOCR {
		return "", fmt.Errorf("providers: aliyun does not support %s", op)
	}
	if input.MediaURL == "" {
		return "", fmt.Errorf("providers: no video url supplied")
	}

	jobID, errCreate := p.createJob(ctx, input.MediaURL)
	if errCreate != nil {
		return "", errCreate
	}
	return p.pollJob(ctx, jobID)
}

// createJob submits a RecognizeVideoCastCrewList task and returns its job id.
func (p *AliyunProvider) createJob(ctx context.Context, videoURL string) (string, error) {
	recogParams, _ := json.Marshal([]map[string]string{{"Type": "subtitles"}})
	raw, errCall := p.call(ctx, "RecognizeVideoCastCrewList", map[string]string{
		"VideoUrl": videoURL,
		"Params":   string(recogParams),
	})
	if errCall != nil {
		return "", errCall
	}

	var created struct {
		RequestId string `json:"RequestId"`
	}
	if errUnmarshal := json.Unmarshal(raw, &created); errUnmarshal != nil {
		return "", fmt.Errorf("providers: aliyun decode create response: %w", errUnmarshal)
	}
	if created.RequestId == "" {
		return "", fmt.Errorf("providers: aliyun returned no job id")
	}
	return created.RequestId, nil
}

// pollJob queries GetAsyncJobResult until the job reaches a terminal state.
func (p *AliyunProvider) pollJob(ctx context.Context, jobID string) (string, error) {
	for {
		raw, errCall := p.call(ctx, "GetAsyncJobResult", map[string]string{"JobId": jobID})
		if errCall != nil {
			return "", errCall
		}

		var status struct {
			Data struct {
				Status       string `json:"Status"`
				Result       string `json:"Result"`
				ErrorMessage string `json:"ErrorMessage"`
			} `json:"Data"`
		}
		if errUnmarshal := json.Unmarshal(raw, &status); errUnmarshal != nil {
			return "", fmt.Errorf("providers: aliyun decode job status: %w", errUnmarshal)
		}

		switch status.Data.Status {
		case "PROCESS_SUCCESS":
			return extractVideoText(status.Data.Result), nil
		case "PROCESS_FAILED":
			return "", fmt.Errorf("providers: aliyun video job failed: %s", status.Data.ErrorMessage)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(videoPollInterval):
		}
	}
}

// extractVideoText flattens the recognition result into plain text. The
// result carries frame-level OCR detections plus optional aggregated
// subtitle maps; falls back to the raw payload when the shape is unexpected.
func extractVideoText(result string) string {
	var parsed struct {
		OcrResults []struct {
			DetailInfo []struct {
				Text string `json:"Text"`
			} `json:"DetailInfo"`
		} `json:"OcrResults"`
		VideoOcrResults []struct {
			DetailInfo []struct {
				Text string `json:"Text"`
			} `json:"DetailInfo"`
		} `json:"VideoOcrResults"`
		SubtitlesResults []struct {
			SubtitlesAllResults     map[string]string `json:"SubtitlesAllResults"`
			SubtitlesChineseResults map[string]string `json:"SubtitlesChineseResults"`
		} `json:"SubtitlesResults"`
	}
	if errUnmarshal := json.Unmarshal([]byte(result), &parsed); errUnmarshal != nil {
		return strings.TrimSpace(result)
	}

	var lines []string
	for _, frame := range parsed.OcrResults {
		for _, detail := range frame.DetailInfo {
			if detail.Text != "" {
				lines = append(lines, detail.Text)
			}
		}
	}
	for _, frame := range parsed.VideoOcrResults {
		for _, detail := range frame.DetailInfo {
			if detail.Text != "" {
				lines = append(lines, detail.Text)
			}
		}
	}
	if len(parsed.SubtitlesResults) > 0 {
		subtitles := parsed.SubtitlesResults[0].SubtitlesChineseResults
		if len(subtitles) == 0 {
			subtitles = parsed.SubtitlesResults[0].SubtitlesAllResults
		}
		keys := make([]string, 0, len(subtitles))
		for key := range subtitles {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			lines = append(lines, subtitles[key])
		}
	}
	if len(lines) == 0 {
		return strings.TrimSpace(result)
	}
	return strings.Join(lines, "\n")
}

// call signs and sends one RPC-style action against the video recognition
// endpoint.
func (p *AliyunProvider) call(ctx context.Context, action string, params map[string]string) ([]byte, error) {
	query := map[string]string{
		"Action":           action,
		"Version":          aliyunVideoVersion,
		"Format":           "JSON",
		"AccessKeyId":      p.accessKeyID,
		"SignatureMethod":  "HMAC-SHA1",
		"SignatureVersion": "1.0",
		"SignatureNonce":   uuid.NewString(),
		"Timestamp":        time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	for key, value := range params {
		query[key] = value
	}
	query["Signature"] = p.rpcSignature(http.MethodPost, query)

	form := url.Values{}
	for key, value := range query {
		form.Set(key, value)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+aliyunVideoEndpoint, strings.NewReader(form.Encode()))
	if errReq != nil {
		return nil, fmt.Errorf("providers: aliyun build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("providers: aliyun %s: %w", action, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if errRead != nil {
		return nil, fmt.Errorf("providers: aliyun read response: %w", errRead)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		}
		if errUnmarshal := json.Unmarshal(raw, &apiErr); errUnmarshal == nil && apiErr.Code != "" {
			return nil, fmt.Errorf("providers: aliyun %s: %s: %s", action, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("providers: aliyun %s: status %d", action, resp.StatusCode)
	}
	return raw, nil
}

// rpcSignature computes the RPC-style signature over the sorted,
// percent-encoded parameter set.
func (p *AliyunProvider) rpcSignature(method string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, popEncode(key)+"="+popEncode(params[key]))
	}
	canonical := strings.Join(pairs, "&")
	stringToSign := method + "&" + popEncode("/") + "&" + popEncode(canonical)

	mac := hmac.New(sha1.New, []byte(p.accessKeySecret+"&"))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// popEncode percent-encodes per the POP RPC signing rules, which differ from
// standard form encoding for space, asterisk and tilde.
func popEncode(s string) string {
	encoded := url.QueryEscape(s)
	encoded = strings.ReplaceAll(encoded, "+", "%20")
	encoded = strings.ReplaceAll(encoded, "*", "%2A")
	encoded = strings.ReplaceAll(encoded, "%7E", "~")
	return encoded
}
