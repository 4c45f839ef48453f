// Package gemini answers /ask questions with Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/webmax/internal/config"
	"github.com/edgard/webmax/internal/database"
	"github.com/edgard/webmax/internal/sanitize"
)

// Client generates replies for the bot.
type Client interface {
	// GenerateReply answers question, using history (oldest first) as
	// conversation context. Messages sent by botID are treated as the
	// model's own turns.
	GenerateReply(ctx context.Context, history []*database.Message, question string, botID int64, botName string) (string, error)
}

// generator is the part of the genai SDK the client uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type sdkClient struct {
	models           generator
	log              *slog.Logger
	plain            *sanitize.Policy
	contentConfig    *genai.GenerateContentConfig
	defaultModelName string
	maxRetries       int
	retryDelay       time.Duration
}

var prefixPattern = regexp.MustCompile(`(?m)^(?:\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] UID \d+: )+`)

func formatMessageForAI(m *database.Message) string {
	return fmt.Sprintf("[%s] UID %d: %s", m.Timestamp.UTC().Format("2006-01-02 15:04:05"), m.UserID, m.Content)
}

// NewClient creates a Gemini client from cfg. cfg.APIKey must be set.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c := newClient(gi.Models, cfg, log)
	c.log.Info("Gemini client initialized successfully", "model", cfg.ModelName)
	return c, nil
}

func newClient(models generator, cfg config.GeminiConfig, log *slog.Logger) *sdkClient {
	temperature := cfg.Temperature
	baseCfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
		},
	}
	if cfg.SystemInstruction != "" {
		baseCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}}
	}

	return &sdkClient{
		models:           models,
		log:              log.With("component", "gemini_client"),
		plain:            sanitize.NewPlainTextPolicy(),
		contentConfig:    baseCfg,
		defaultModelName: cfg.ModelName,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
}

func (c *sdkClient) withHeader(botName string, botID int64) *genai.GenerateContentConfig {
	copyCfg := *c.contentConfig
	header := fmt.Sprintf(AskSystemInstructionHeader, botName, botID)

	var existingText string
	if c.contentConfig.SystemInstruction != nil && len(c.contentConfig.SystemInstruction.Parts) > 0 {
		existingText = c.contentConfig.SystemInstruction.Parts[0].Text
	}
	copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: header + existingText}}}
	return &copyCfg
}

// retryable reports whether a failed call may succeed when repeated.
func retryable(err error) bool {
	var apiErr *genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.models.GenerateContent(ctx, c.defaultModelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		if !retryable(err) {
			c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
			return nil, fmt.Errorf("gemini API call failed: %w", err)
		}
		if attempt >= c.maxRetries {
			c.log.ErrorContext(ctx, "Gemini API call failed after max retries", "attempts", attempt+1, "error", err)
			return nil, fmt.Errorf("gemini API call failed after %d retries: %w", c.maxRetries, err)
		}

		c.log.WarnContext(ctx, "Retrying Gemini API call", "attempt", attempt+1, "max_retries", c.maxRetries, "delay", c.retryDelay, "error", err)
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *sdkClient) GenerateReply(ctx context.Context, history []*database.Message, question string, botID int64, botName string) (string, error) {
	c.log.DebugContext(ctx, "Generating reply", "history_count", len(history))

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if m.UserID == botID {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(formatMessageForAI(m), role))
	}
	contents = append(contents, genai.NewContentFromText(question, genai.RoleUser))

	resp, err := c.generateContentWithRetries(ctx, contents, c.withHeader(botName, botID))
	if err != nil {
		return "", err
	}
	return c.extractText(ctx, resp)
}

func (c *sdkClient) extractText(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini returned no response")
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := string(resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "reason", reason)
		return "", fmt.Errorf("reply blocked by safety filter: %s", reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = string(resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "finish_reason", finishReason)
		return "", fmt.Errorf("gemini returned no content, finish reason: %s", finishReason)
	}

	text := c.plain.SanitizeText(prefixPattern.ReplaceAllString(resp.Text(), ""))
	if text == "" {
		c.log.WarnContext(ctx, "Gemini response text is empty after stripping prefixes")
		return "", errors.New("gemini returned empty text")
	}
	return text, nil
}
