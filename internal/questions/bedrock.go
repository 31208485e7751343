package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/ratelimit"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/security"
)

type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Error codes Bedrock returns when a request may succeed later.
var retryableCodes = map[string]struct{}{
	"ThrottlingException":         {},
	"ModelTimeoutException":       {},
	"ServiceUnavailableException": {},
	"ModelNotReadyException":      {},
	"InternalServerException":     {},
	"TooManyRequestsException":    {},
}

// RetryableError reports an inference failure that should be retried later.
// The document stays Parsed so a redelivery can pick it up.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a throttling, timeout or 5xx failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := retryableCodes[apiErr.ErrorCode()]; ok {
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}
	return false
}

// NewBedrockClient returns a bedrockruntime client whose retryer backs off on
// throttling and model timeouts, up to cfg.MaxAttempts tries.
func NewBedrockClient(awsCfg aws.Config, cfg config.Generator) *bedrockruntime.Client {
	return bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		}
		o.Retryer = NewRetryer(cfg)
	})
}

func NewRetryer(cfg config.Generator) aws.Retryer {
	return retry.NewStandard(func(o *retry.StandardOptions) {
		o.MaxAttempts = cfg.MaxAttempts
		if cfg.MaxBackoff > 0 {
			o.MaxBackoff = cfg.MaxBackoff
		}
		// no client-side retry quota
		o.RateLimiter = ratelimit.None
		o.Retryables = append(o.Retryables, retry.IsErrorRetryableFunc(func(err error) aws.Ternary {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) {
				if _, ok := retryableCodes[apiErr.ErrorCode()]; ok {
					return aws.TrueTernary
				}
			}
			return aws.UnknownTernary
		}))
	})
}

// ResolveModelID returns the configured model id, preferring the SSM override.
func ResolveModelID(ctx context.Context, params security.ParamClient, cfg config.Generator) (string, error) {
	if cfg.ModelIDParam == "" {
		return cfg.ModelID, nil
	}
	id, err := security.GetParam(ctx, params, cfg.ModelIDParam)
	if err != nil {
		return "", err
	}
	if id == "" {
		return cfg.ModelID, nil
	}
	return id, nil
}

type llamaRequest struct {
	Prompt      string  `json:"prompt"`
	MaxGenLen   int     `json:"max_gen_len"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type llamaResponse struct {
	Generation           string `json:"generation"`
	PromptTokenCount     int    `json:"prompt_token_count"`
	GenerationTokenCount int    `json:"generation_token_count"`
	StopReason           string `json:"stop_reason"`
}

// Model sends single-turn prompts to a Llama 3 instruct model on Bedrock.
type Model struct {
	client      BedrockClient
	modelID     string
	maxGenLen   int
	temperature float64
}

func NewModel(client BedrockClient, modelID string, cfg config.Generator) *Model {
	return &Model{
		client:      client,
		modelID:     modelID,
		maxGenLen:   cfg.MaxGenLen,
		temperature: cfg.Temperature,
	}
}

func (m *Model) ID() string { return m.modelID }

// Complete returns the model's answer to prompt.
func (m *Model) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(llamaRequest{
		Prompt:      llamaPrompt(prompt),
		MaxGenLen:   m.maxGenLen,
		Temperature: m.temperature,
		TopP:        0.9,
	})
	if err != nil {
		return "", err
	}

	out, err := m.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(m.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		err = fmt.Errorf("bedrock InvokeModel: %w", err)
		if IsRetryable(err) {
			return "", &RetryableError{Err: err}
		}
		return "", err
	}

	var resp llamaResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("bedrock response unmarshal: %w", err)
	}
	return strings.TrimSpace(resp.Generation), nil
}

// llamaPrompt wraps a user message in the Llama 3 chat template.
func llamaPrompt(user string) string {
	return "<|begin_of_text|><|start_header_id|>user<|end_header_id|>\n\n" +
		user +
		"<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n"
}
