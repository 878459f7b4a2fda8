package settings

// DB config keys and defaults for settings.
const (
	// DispatchTimeoutSecondsKey controls the per-provider attempt timeout.
	DispatchTimeoutSecondsKey = "DISPATCH_TIMEOUT_SECONDS"
	// TranslateFallbackChainKey holds the ordered fallback provider list for text translation.
	TranslateFallbackChainKey = "TRANSLATE_FALLBACK_CHAIN"
	// OCRFallbackChainKey holds the ordered fallback provider list for image OCR.
	OCRFallbackChainKey = "OCR_FALLBACK_CHAIN"
	// UsageRetentionDaysKey controls how long usage_records rows are kept.
	UsageRetentionDaysKey = "USAGE_RETENTION_DAYS"

	// DefaultDispatchTimeoutSeconds is the fallback per-attempt timeout (seconds).
	DefaultDispatchTimeoutSeconds = 45
	// DefaultUsageRetentionDays is the fallback usage retention window (days).
	DefaultUsageRetentionDays = 90
)

// DefaultTranslateFallbackChain is the fallback chain when no override is configured.
var DefaultTranslateFallbackChain = []string{"deepseek", "qwen"}

// DefaultOCRFallbackChain is the OCR fallback chain when no override is configured.
var DefaultOCRFallbackChain = []string{"tencent", "qwen"}
