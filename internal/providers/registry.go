package providers

import (
	"github.com/lexiflow/lexiflow-server/internal/config"
	"github.com/lexiflow/lexiflow-server/internal/dispatch"
)

// Build constructs the provider set from the configured credentials. Vendors
// without credentials are omitted so the dispatcher never attempts them.
func Build(cfg config.ProvidersConfig) []dispatch.Provider {
	var out []dispatch.Provider

	if cfg.DeepSeekAPIKey != "" {
		out = append(out, NewChatProvider("deepseek", "https://api.deepseek.com/v1", cfg.DeepSeekAPIKey, "deepseek-chat", ""))
	}
	if cfg.QwenAPIKey != "" {
		out = append(out, NewChatProvider("qwen", "https://dashscope.aliyuncs.com/compatible-mode/v1", cfg.QwenAPIKey, "qwen-max", "qwen-vl-ocr"))
	}
	if cfg.ZhipuAPIKey != "" {
		out = append(out, NewChatProvider("zhipu", "https://open.bigmodel.cn/api/paas/v4", cfg.ZhipuAPIKey, "glm-4", ""))
	}
	if cfg.OpenAIAPIKey != "" {
		out = append(out, NewChatProvider("openai", "https://api.openai.com/v1", cfg.OpenAIAPIKey, "gpt-4o-mini", ""))
	}
	if cfg.StepAPIKey != "" {
		out = append(out, NewChatProvider("step", "https://api.stepfun.com/v1", cfg.StepAPIKey, "step-1-8k", ""))
	}
	if cfg.KimiAPIKey != "" {
		out = append(out, NewKimiProvider(cfg.KimiAPIKey))
	}
	if cfg.TencentSecretID != "" && cfg.TencentSecretKey != "" {
		out = append(out, NewTencentProvider(cfg.TencentSecretID, cfg.TencentSecretKey, cfg.TencentRegion))
	}
	if cfg.AliyunAccessKeyID != "" && cfg.AliyunAccessKeySecret != "" {
		out = append(out, NewAliyunProvider(cfg.AliyunAccessKeyID, cfg.AliyunAccessKeySecret))
	}

	return out
}
