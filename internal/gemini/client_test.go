package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/edgard/webmax/internal/config"
	"github.com/edgard/webmax/internal/database"
)

type fakeModels struct {
	errs     []error
	resp     *genai.GenerateContentResponse
	calls    int
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.contents = contents
	f.cfg = cfg
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.resp, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func testClient(models generator, retries int) *sdkClient {
	return newClient(models, config.GeminiConfig{
		ModelName:         "test-model",
		Temperature:       0.5,
		SystemInstruction: "Be nice.",
		MaxRetries:        retries,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateReplyBuildsConversation(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	fm := &fakeModels{resp: textResponse("[2025-01-01 10:00:00] UID 42: It is noon.")}
	c := testClient(fm, 0)

	ts := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	history := []*database.Message{
		{UserID: 7, Content: "hi bot", Timestamp: ts},
		{UserID: 42, Content: "hello", Timestamp: ts.Add(time.Minute)},
	}

	reply, err := c.GenerateReply(context.Background(), history, "what time is it?", 42, "Helper")
	req.NoError(err)
	req.Equal("It is noon.", reply)

	req.Len(fm.contents, 3)
	req.Equal(genai.Role(genai.RoleUser), genai.Role(fm.contents[0].Role))
	req.Equal(genai.Role(genai.RoleModel), genai.Role(fm.contents[1].Role))
	req.Equal("[2025-01-01 09:00:00] UID 7: hi bot", fm.contents[0].Parts[0].Text)
	req.Equal("what time is it?", fm.contents[2].Parts[0].Text)

	instruction := fm.cfg.SystemInstruction.Parts[0].Text
	req.Contains(instruction, "You are Helper (user id 42)")
	req.Contains(instruction, "Be nice.")
	req.Equal("Be nice.", c.contentConfig.SystemInstruction.Parts[0].Text)
}

func TestGenerateReplyRetriesServerErrors(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	fm := &fakeModels{
		errs: []error{&genai.APIError{Code: 503}, &genai.APIError{Code: 429}},
		resp: textResponse("ok"),
	}
	reply, err := testClient(fm, 2).GenerateReply(context.Background(), nil, "q", 1, "bot")
	req.NoError(err)
	req.Equal("ok", reply)
	req.Equal(3, fm.calls)
}

func TestGenerateReplyGivesUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		errs      []error
		retries   int
		wantCalls int
	}{
		{name: "client error", errs: []error{&genai.APIError{Code: 400}}, retries: 3, wantCalls: 1},
		{name: "plain error", errs: []error{errors.New("dial failed")}, retries: 3, wantCalls: 1},
		{name: "retries exhausted", errs: []error{&genai.APIError{Code: 500}, &genai.APIError{Code: 500}}, retries: 1, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fm := &fakeModels{errs: tt.errs, resp: textResponse("unused")}
			_, err := testClient(fm, tt.retries).GenerateReply(context.Background(), nil, "q", 1, "bot")
			require.Error(t, err)
			require.Equal(t, tt.wantCalls, fm.calls)
		})
	}
}

func TestExtractTextRejectsEmptyAndBlocked(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	c := testClient(&fakeModels{}, 0)
	ctx := context.Background()

	_, err := c.extractText(ctx, &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
			BlockReason:        genai.BlockedReasonSafety,
			BlockReasonMessage: "unsafe",
		},
	})
	req.ErrorContains(err, "unsafe")

	_, err = c.extractText(ctx, &genai.GenerateContentResponse{})
	req.ErrorContains(err, "no content")

	_, err = c.extractText(ctx, textResponse("[2025-01-01 10:00:00] UID 1: "))
	req.ErrorContains(err, "empty text")

	_, err = c.extractText(ctx, nil)
	req.Error(err)
}

func TestExtractTextStripsMarkdown(t *testing.T) {
	t.Parallel()
	c := testClient(&fakeModels{}, 0)

	text, err := c.extractText(context.Background(), textResponse("[2025-01-01 10:00:00] UID 42: **Yes.** See:\n\n- one\n- two"))
	require.NoError(t, err)
	require.Equal(t, "Yes. See:\n\n• one\n• two", text)
}
