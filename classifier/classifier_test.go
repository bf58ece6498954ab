package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"subpulse/models"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int32
	prompt   string
	system   string
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.system = systemPrompt
	f.prompt = userPrompt
	return f.response, f.err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     models.Classification
		wantErr  bool
	}{
		{
			name:     "all false",
			response: `{"solutionRequests": false, "painAndAnger": false, "adviceRequests": false, "moneyTalk": false}`,
			want:     models.Classification{},
		},
		{
			name:     "mixed",
			response: `{"solutionRequests": true, "painAndAnger": false, "adviceRequests": true, "moneyTalk": false}`,
			want:     models.Classification{SolutionRequests: true, AdviceRequests: true},
		},
		{
			name:     "surrounding whitespace",
			response: "\n {\"moneyTalk\": true, \"adviceRequests\": false, \"painAndAnger\": true, \"solutionRequests\": false} \n",
			want:     models.Classification{PainAndAnger: true, MoneyTalk: true},
		},
		{
			name:     "missing key",
			response: `{"solutionRequests": true, "painAndAnger": false, "adviceRequests": true}`,
			wantErr:  true,
		},
		{
			name:     "extra key",
			response: `{"solutionRequests": true, "painAndAnger": false, "adviceRequests": true, "moneyTalk": false, "spam": true}`,
			wantErr:  true,
		},
		{
			name:     "string instead of boolean",
			response: `{"solutionRequests": "true", "painAndAnger": false, "adviceRequests": true, "moneyTalk": false}`,
			wantErr:  true,
		},
		{
			name:     "number instead of boolean",
			response: `{"solutionRequests": 1, "painAndAnger": 0, "adviceRequests": 0, "moneyTalk": 0}`,
			wantErr:  true,
		},
		{
			name:     "null value",
			response: `{"solutionRequests": null, "painAndAnger": false, "adviceRequests": true, "moneyTalk": false}`,
			wantErr:  true,
		},
		{
			name:     "array",
			response: `[true, false, true, false]`,
			wantErr:  true,
		},
		{
			name:     "not json",
			response: `Sure! Here is the analysis: solutionRequests is true.`,
			wantErr:  true,
		},
		{
			name:     "empty",
			response: ``,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{response: tt.response}
			c := NewClassifier(completer)

			got, err := c.Classify(context.Background(), "My laptop broke", "What should I buy?")

			assert.EqualValues(t, 1, completer.calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrClassificationInvalid)
				assert.Equal(t, models.Classification{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyProviderError(t *testing.T) {
	cause := errors.New("rate limited")
	completer := &fakeCompleter{err: cause}

	_, err := NewClassifier(completer).Classify(context.Background(), "title", "")
	assert.ErrorIs(t, err, ErrClassificationInvalid)
	assert.ErrorIs(t, err, cause)
	assert.EqualValues(t, 1, completer.calls, "provider errors are not retried")
}

func TestClassifyPrompt(t *testing.T) {
	completer := &fakeCompleter{response: `{"solutionRequests": false, "painAndAnger": false, "adviceRequests": false, "moneyTalk": false}`}

	_, err := NewClassifier(completer).Classify(context.Background(), "Ollama eats my RAM", "Any tips for running 70b models?")
	require.NoError(t, err)

	assert.Equal(t, systemPrompt, completer.system)
	assert.Contains(t, completer.prompt, "Post Title: Ollama eats my RAM")
	assert.Contains(t, completer.prompt, "Post Content: Any tips for running 70b models?")
	for _, c := range models.Categories {
		assert.Contains(t, completer.prompt, c.Key+": "+c.Description)
	}
}

func TestCategorySchema(t *testing.T) {
	schema := CategorySchema()

	assert.ElementsMatch(t, models.CategoryKeys(), schema.Required)
	assert.Len(t, schema.Properties, len(models.Categories))
	require.NotNil(t, schema.AdditionalProperties.Has)
	assert.False(t, *schema.AdditionalProperties.Has)

	for _, c := range models.Categories {
		property, ok := schema.Properties[c.Key]
		require.True(t, ok, c.Key)
		assert.Equal(t, c.Description, property.Value.Description)
	}
}

func TestClassifyIsSafeForConcurrentUse(t *testing.T) {
	completer := &concurrentCompleter{}
	c := NewClassifier(completer)

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := c.Classify(context.Background(), "title", "body")
			errs <- err
		}()
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, <-errs)
	}
	assert.EqualValues(t, 20, completer.calls.Load())
}

type concurrentCompleter struct {
	calls atomic.Int32
}

func (c *concurrentCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.calls.Add(1)
	return `{"solutionRequests": true, "painAndAnger": true, "adviceRequests": true, "moneyTalk": true}`, nil
}

func openAIServer(t *testing.T, content string, inspect func(r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if inspect != nil {
			inspect(r, body)
		}

		encoded, _ := json.Marshal(content)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1730000000,
			"model": "gpt-4-0125-preview",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": %s}, "finish_reason": "stop"}]
		}`, encoded)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenAICompleter(t *testing.T) {
	var gotPath, gotAuth, gotHelicone string
	var gotBody map[string]any

	server := openAIServer(t, `{"solutionRequests": true, "painAndAnger": false, "adviceRequests": false, "moneyTalk": true}`,
		func(r *http.Request, body map[string]any) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			gotHelicone = r.Header.Get("Helicone-Auth")
			gotBody = body
		})

	completer := NewOpenAICompleter(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1",
		Headers: map[string]string{"Helicone-Auth": "Bearer helicone"},
	})

	got, err := NewClassifier(completer).Classify(context.Background(), "Paying for GPUs", "Is it worth it?")
	require.NoError(t, err)
	assert.Equal(t, models.Classification{SolutionRequests: true, MoneyTalk: true}, got)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "Bearer helicone", gotHelicone)
	assert.Equal(t, DefaultModel, gotBody["model"])

	format, ok := gotBody["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])

	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.True(t, strings.HasPrefix(messages[1].(map[string]any)["content"].(string), "Analyze the following Reddit post"))
}

func TestOpenAICompleterEmptyContent(t *testing.T) {
	server := openAIServer(t, "", nil)
	completer := NewOpenAICompleter(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})

	_, err := NewClassifier(completer).Classify(context.Background(), "title", "body")
	assert.ErrorIs(t, err, ErrClassificationInvalid)
}

func TestOpenAICompleterProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "slow down", "type": "rate_limit"}}`)
	}))
	defer server.Close()

	completer := NewOpenAICompleter(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})

	_, err := NewClassifier(completer).Classify(context.Background(), "title", "body")
	assert.ErrorIs(t, err, ErrClassificationInvalid)
}
