package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelfsepulveda/customchatfree/internal/config"
	"github.com/angelfsepulveda/customchatfree/internal/logger"
)

type fakeChatModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func testConfig() config.AIConfig {
	return config.AIConfig{
		Provider:     "openai",
		DefaultModel: "deepseek_v3",
		Models:       config.DefaultModels(),
	}
}

func newFakeService(chat *fakeChatModel, factoryErr error) (*aiService, *[]string) {
	var built []string
	svc := NewAiServiceWithFactory(testConfig(), func(_ context.Context, modelID string) (model.BaseChatModel, error) {
		built = append(built, modelID)
		if factoryErr != nil {
			return nil, factoryErr
		}
		return chat, nil
	}, logger.Nop())
	return svc, &built
}

func TestCompleteReturnsReply(t *testing.T) {
	chat := &fakeChatModel{reply: "Ahoy!"}
	svc, built := newFakeService(chat, nil)

	reply := svc.Complete(context.Background(), CompletionRequest{
		Model:        "deepseek_v3",
		Prompt:       "Hello",
		SystemPrompt: "Talk like a pirate",
	})
	assert.Equal(t, "Ahoy!", reply)
	require.Len(t, chat.input, 2)
	assert.Equal(t, schema.System, chat.input[0].Role)
	assert.Equal(t, "Talk like a pirate", chat.input[0].Content)
	assert.Equal(t, "Hello", chat.input[1].Content)

	// chat models are built once per catalog key
	svc.Complete(context.Background(), CompletionRequest{Model: "deepseek_v3", Prompt: "again"})
	assert.Equal(t, []string{"deepseek/deepseek-chat-v3-0324:free"}, *built)
}

func TestCompleteErrorsAreInBand(t *testing.T) {
	svc, _ := newFakeService(&fakeChatModel{}, nil)
	assert.Equal(t, "[Model 'gpt-x' not supported]", svc.Complete(context.Background(), CompletionRequest{Model: "gpt-x"}))
	assert.Equal(t, "[Empty response from DeepSeek v3]", svc.Complete(context.Background(), CompletionRequest{Prompt: "hi"}))

	failing, _ := newFakeService(&fakeChatModel{err: errors.New("rate limited")}, nil)
	assert.Equal(t, "[Error contacting Kimi: rate limited]",
		failing.Complete(context.Background(), CompletionRequest{Model: "kimi", Prompt: "hi"}))

	broken, _ := newFakeService(nil, errors.New("bad key"))
	assert.Equal(t, "[Error contacting Kimi: bad key]",
		broken.Complete(context.Background(), CompletionRequest{Model: "kimi", Prompt: "hi"}))
}

func TestImagesOnlyReachVisionModels(t *testing.T) {
	chat := &fakeChatModel{reply: "a cat"}
	svc, _ := newFakeService(chat, nil)

	svc.Complete(context.Background(), CompletionRequest{Model: "gemini_flash", Prompt: "what is this?", ImageURL: "data:image/png;base64,AAAA"})
	require.Len(t, chat.input, 1)
	require.Len(t, chat.input[0].MultiContent, 2)
	assert.Equal(t, "data:image/png;base64,AAAA", chat.input[0].MultiContent[1].ImageURL.URL)

	svc.Complete(context.Background(), CompletionRequest{Model: "kimi", Prompt: "what is this?", ImageURL: "data:image/png;base64,AAAA"})
	require.Len(t, chat.input, 1)
	assert.Empty(t, chat.input[0].MultiContent)
	assert.Equal(t, "what is this?", chat.input[0].Content)
}

func TestModelsSortedByKey(t *testing.T) {
	svc, _ := newFakeService(&fakeChatModel{}, nil)
	models := svc.Models()
	require.Len(t, models, 5)
	assert.Equal(t, "deepseek_v3", models[0].Key)
	assert.Equal(t, "qwq_32b", models[len(models)-1].Key)
	assert.Equal(t, "deepseek_v3", svc.DefaultModel())
}

func TestProviderFactoryRejectsUnknownProvider(t *testing.T) {
	_, err := NewAiService(config.AIConfig{Provider: "nope"}, logger.Nop())
	require.Error(t, err)
}

func TestHeaderTransportAddsAttribution(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := &http.Client{Transport: &headerTransport{referer: "http://localhost", title: "customchat", base: http.DefaultTransport}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "http://localhost", got.Get("HTTP-Referer"))
	assert.Equal(t, "customchat", got.Get("X-Title"))
}
