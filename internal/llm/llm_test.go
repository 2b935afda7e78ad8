package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	model string
	body  map[string]any
	raw   []byte
}

// fakeTransport replays responses in order and records every request.
type fakeTransport struct {
	calls     []call
	responses []func() ([]byte, error)
}

func (f *fakeTransport) Invoke(_ context.Context, modelID string, body []byte) ([]byte, error) {
	var decoded map[string]any
	_ = json.Unmarshal(body, &decoded)
	f.calls = append(f.calls, call{model: modelID, body: decoded, raw: body})

	i := len(f.calls) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i]()
}

func reply(body string) func() ([]byte, error) {
	return func() ([]byte, error) { return []byte(body), nil }
}

func fail(err error) func() ([]byte, error) {
	return func() ([]byte, error) { return nil, err }
}

type diagnostics []Diagnostic

func (d *diagnostics) reporter() Reporter {
	return ReporterFunc(func(diag Diagnostic) { *d = append(*d, diag) })
}

type fakeMetrics struct {
	invocations []string
	tokens      []int
}

func (m *fakeMetrics) RecordModelInvocation(_ context.Context, family, outcome string) {
	m.invocations = append(m.invocations, family+"/"+outcome)
}

func (m *fakeMetrics) RecordContextTokens(_ context.Context, tokens int) {
	m.tokens = append(m.tokens, tokens)
}

func newTestAdapter(t Transport, diags *diagnostics, opts ...Option) *Adapter {
	opts = append([]Option{
		WithReporter(diags.reporter()),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}, opts...)
	return New(t, Config{TokenBudget: 8000, MaxTokens: 2000, Temperature: 0.1, MaxRetries: 3}, opts...)
}

const (
	claudeID = "anthropic.claude-3-haiku-20240307-v1:0"
	titanID  = "amazon.titan-text-express-v1"
)

var ec2Doc = "AWS EC2 Information:\n{\n  \"InstanceId\": \"i-1\",\n  \"State\": \"running\"\n}"

func TestDetectFamily(t *testing.T) {
	tests := []struct {
		id   string
		want Family
	}{
		{claudeID, FamilyChat},
		{"us.anthropic.claude-3-5-sonnet-20240620-v1:0", FamilyChat},
		{"us.meta.llama3-2-90b-instruct-v1:0", FamilyChat},
		{"arn:aws:bedrock:us-east-1:123:inference-profile/abc", FamilyChat},
		{titanID, FamilyTitan},
		{"ai21.j2-ultra-v1", FamilyJurassic},
		{"cohere.command-text-v14", FamilyCohere},
		{"openai:gpt-4o-mini", FamilyOpenAI},
		{"ollama:llama3", FamilyOpenAI},
		{"gpt-4o", FamilyOpenAI},
		{"meta.llama3-8b-instruct-v1:0", FamilyGeneric},
		{"", FamilyGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectFamily(tt.id), tt.id)
	}
}

func TestModelName(t *testing.T) {
	assert.Equal(t, "gpt-4o-mini", ModelName("openai:gpt-4o-mini"))
	assert.Equal(t, "llama3", ModelName("ollama:llama3"))
	assert.Equal(t, claudeID, ModelName(claudeID))
}

func TestFrame(t *testing.T) {
	chat := Frame(FamilyChat, "CTX", "Q?")
	assert.Equal(t, "AWS Infrastructure Data:\nCTX\n\nUser Question: Q?", chat.User)
	assert.Contains(t, chat.System, "5. If you truly cannot find relevant information")
	assert.NotContains(t, chat.System, "CTX")
	assert.Equal(t, chat, Frame(FamilyOpenAI, "CTX", "Q?"))

	titan := Frame(FamilyTitan, "CTX", "Q?")
	assert.Empty(t, titan.System)
	assert.Contains(t, titan.User, "AWS Infrastructure Data:\nCTX\n\nUser Question: Q?")
	assert.Contains(t, titan.User, "5. If you truly cannot find relevant information")

	plain := Frame(FamilyCohere, "CTX", "Q?")
	assert.Empty(t, plain.System)
	assert.True(t, strings.HasPrefix(plain.User, "You are an AWS infrastructure expert. Based on"))
	assert.NotContains(t, plain.User, "Instructions:")
}

func TestBuildBody_Shapes(t *testing.T) {
	temp := 0.1
	params := Params{MaxTokens: 2000, Temperature: &temp}

	decode := func(f Family, id string) map[string]any {
		data, err := BuildBody(f, id, Prompt{User: "PROMPT"}, params)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	chat := decode(FamilyChat, claudeID)
	assert.Equal(t, "bedrock-2023-05-31", chat["anthropic_version"])
	assert.Equal(t, 2000.0, chat["max_tokens"])
	assert.Equal(t, []any{map[string]any{"role": "user", "content": "PROMPT"}}, chat["messages"])
	assert.NotContains(t, chat, "system")

	titan := decode(FamilyTitan, titanID)
	assert.Equal(t, "PROMPT", titan["inputText"])
	assert.Equal(t, map[string]any{"maxTokenCount": 2000.0, "temperature": 0.1, "topP": 0.9}, titan["textGenerationConfig"])

	j2 := decode(FamilyJurassic, "ai21.j2-mid")
	assert.Equal(t, map[string]any{"prompt": "PROMPT", "maxTokens": 2000.0, "temperature": 0.1}, j2)

	cohere := decode(FamilyCohere, "cohere.command-text-v14")
	assert.Equal(t, map[string]any{"prompt": "PROMPT", "max_tokens": 2000.0, "temperature": 0.1}, cohere)

	oai := decode(FamilyOpenAI, "openai:gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", oai["model"])
	assert.Equal(t, 2000.0, oai["max_tokens"])
}

func TestBuildBody_SystemPrompt(t *testing.T) {
	prompt := Prompt{System: "SYSTEM", User: "USER"}

	data, err := BuildBody(FamilyChat, claudeID, prompt, Params{MaxTokens: 10})
	require.NoError(t, err)
	assert.JSONEq(t, `{"anthropic_version":"bedrock-2023-05-31","max_tokens":10,"system":"SYSTEM","messages":[{"role":"user","content":"USER"}]}`, string(data))

	data, err = BuildBody(FamilyCohere, "cohere.command-text-v14", prompt, Params{MaxTokens: 10})
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt":"SYSTEM\n\nUSER","max_tokens":10}`, string(data))

	data, err = BuildBody(FamilyOpenAI, "openai:gpt-4o-mini", prompt, Params{MaxTokens: 10})
	require.NoError(t, err)
	var req openai.ChatCompletionRequest
	require.NoError(t, json.Unmarshal(data, &req))
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "SYSTEM", req.Messages[0].Content)
	assert.Equal(t, "USER", req.Messages[1].Content)
}

func TestBuildBody_NoTemperature(t *testing.T) {
	data, err := BuildBody(FamilyTitan, titanID, Prompt{User: "hi"}, Params{MaxTokens: 20})
	require.NoError(t, err)
	assert.JSONEq(t, `{"inputText":"hi","textGenerationConfig":{"maxTokenCount":20}}`, string(data))

	data, err = BuildBody(FamilyGeneric, "meta.llama", Prompt{User: "hi"}, Params{MaxTokens: 20})
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt":"hi","max_tokens":20}`, string(data))
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		family Family
		body   string
		want   string
	}{
		{FamilyChat, `{"content":[{"type":"text","text":"chat answer"}]}`, "chat answer"},
		{FamilyTitan, `{"results":[{"outputText":"titan answer"}]}`, "titan answer"},
		{FamilyJurassic, `{"completions":[{"data":{"text":"j2 answer"}}]}`, "j2 answer"},
		{FamilyCohere, `{"generations":[{"text":"cohere answer"}]}`, "cohere answer"},
		{FamilyOpenAI, `{"choices":[{"message":{"role":"assistant","content":"oai answer"}}]}`, "oai answer"},
		{FamilyGeneric, `{"completion":"c","text":"t","generated_text":"g"}`, "c"},
		{FamilyGeneric, `{"text":"t","generated_text":"g"}`, "t"},
		{FamilyGeneric, `{"generated_text":"g"}`, "g"},
	}
	for _, tt := range tests {
		got, err := ExtractText(tt.family, []byte(tt.body))
		require.NoError(t, err, tt.body)
		assert.Equal(t, tt.want, got, tt.body)
	}
}

func TestExtractText_ShapeError(t *testing.T) {
	for _, f := range []Family{FamilyChat, FamilyTitan, FamilyJurassic, FamilyCohere, FamilyOpenAI, FamilyGeneric} {
		_, err := ExtractText(f, []byte(`{"unexpected":true}`))

		var le *Error
		require.ErrorAs(t, err, &le, f)
		assert.Equal(t, KindShape, le.Kind)
		assert.JSONEq(t, `{"unexpected":true}`, string(le.Raw))
	}

	_, err := ExtractText(FamilyChat, []byte("not json"))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}, KindAccessDenied},
		{"unauthorized", &smithy.GenericAPIError{Code: "UnauthorizedOperation"}, KindAccessDenied},
		{"too long", &smithy.GenericAPIError{Code: "ValidationException", Message: "Input is too long for requested model."}, KindOverflow},
		{"max length", &smithy.GenericAPIError{Code: "ValidationException", Message: "prompt exceeds the maximum allowed length"}, KindOverflow},
		{"validation", &smithy.GenericAPIError{Code: "ValidationException", Message: "bad field"}, KindValidation},
		{"not found", &smithy.GenericAPIError{Code: "ResourceNotFoundException"}, KindNotFound},
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException"}, KindUnknown},
		{"wrapped", fmt.Errorf("invoke model: %w", &smithy.GenericAPIError{Code: "AccessDeniedException"}), KindAccessDenied},
		{"deadline", fmt.Errorf("invoke: %w", context.DeadlineExceeded), KindTimeout},
		{"openai 401", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}, KindAccessDenied},
		{"openai 404", &openai.APIError{HTTPStatusCode: http.StatusNotFound}, KindNotFound},
		{"openai context", &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "This model's maximum context length is 8192 tokens"}, KindOverflow},
		{"openai 400", &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad"}, KindValidation},
		{"plain", errors.New("connection reset"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			le := Classify("m", tt.err)
			require.NotNil(t, le)
			assert.Equal(t, tt.want, le.Kind)
			assert.Equal(t, "m", le.Model)
		})
	}

	assert.Nil(t, Classify("m", nil))
}

func TestQuery_ChatRequestCarriesPrompt(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){
		reply(`{"content":[{"type":"text","text":"i-1 is running"}]}`),
	}}
	var diags diagnostics
	metrics := &fakeMetrics{}
	a := newTestAdapter(ft, &diags, WithMetrics(metrics))

	answer, ok := a.Query(context.Background(), "which instances are running?", []string{ec2Doc}, claudeID)

	require.True(t, ok)
	assert.Equal(t, "i-1 is running", answer)
	assert.Empty(t, diags)
	require.Len(t, ft.calls, 1)
	assert.Equal(t, claudeID, ft.calls[0].model)

	messages, ok := ft.calls[0].body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].(string)
	assert.Equal(t, "AWS Infrastructure Data:\n"+ec2Doc+"\n\nUser Question: which instances are running?", content)
	assert.Contains(t, ft.calls[0].body["system"], "You are an AWS infrastructure expert")
	assert.NotContains(t, ft.calls[0].body["system"], ec2Doc)

	assert.Equal(t, []string{"chat/success"}, metrics.invocations)
	require.Len(t, metrics.tokens, 1)
	assert.Positive(t, metrics.tokens[0])
}

func TestQuery_TitanRequestCarriesInputText(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){
		reply(`{"results":[{"outputText":"ok"}]}`),
	}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	answer, ok := a.Query(context.Background(), "list ec2", []string{ec2Doc}, titanID)

	require.True(t, ok)
	assert.Equal(t, "ok", answer)
	require.Len(t, ft.calls, 1)
	input, _ := ft.calls[0].body["inputText"].(string)
	assert.Contains(t, input, ec2Doc)
	assert.NotContains(t, ft.calls[0].body, "messages")
}

func TestQuery_PreflightOverflowWithoutRecovery(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){reply(`{}`)}}
	var diags diagnostics
	a := New(ft, Config{TokenBudget: 2000}, WithReporter(diags.reporter()))

	question := strings.Repeat("x", 4*1500)
	answer, ok := a.Query(context.Background(), question, []string{ec2Doc}, claudeID)

	assert.False(t, ok)
	assert.Empty(t, answer)
	assert.Empty(t, ft.calls)
	require.Len(t, diags, 1)
	assert.Equal(t, KindOverflow, diags[0].Kind)
	assert.Equal(t, "Input Too Long - Pre-flight Check", diags[0].Title)
	assert.Equal(t, 1500, diags[0].QueryTokens)
	assert.Greater(t, diags[0].TotalTokens, diags[0].Budget)
	assert.Len(t, diags[0].Suggestions, 3)
}

func TestQuery_QuestionLeavingNoRoomIsNotSent(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){reply(`{"content":[{"text":"unused"}]}`)}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	// 6000 question tokens leave exactly the floor of an 8000 token budget.
	question := strings.Repeat("x", 4*6000)
	answer, ok := a.Query(context.Background(), question, []string{ec2Doc}, claudeID)

	assert.False(t, ok)
	assert.Empty(t, answer)
	assert.Empty(t, ft.calls)
	require.Len(t, diags, 1)
	assert.Equal(t, KindOverflow, diags[0].Kind)
	assert.Equal(t, 6000, diags[0].QueryTokens)
	assert.Equal(t, 8000, diags[0].Budget)
	assert.Contains(t, diags[0].Detail, "no room")
}

func TestQuery_ModelOverflowRetriesWithMinimalContext(t *testing.T) {
	var doc strings.Builder
	doc.WriteString("AWS EC2 Information:\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&doc, "  \"InstanceId\": \"i-%03d\", \"State\": \"running\"\n", i)
	}

	ft := &fakeTransport{responses: []func() ([]byte, error){
		fail(fmt.Errorf("invoke model: %w", &smithy.GenericAPIError{Code: "ValidationException", Message: "Input is too long for requested model."})),
		reply(`{"content":[{"text":"minimal answer"}]}`),
	}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	answer, ok := a.Query(context.Background(), "which instanceid values are running", []string{doc.String()}, claudeID)

	require.True(t, ok)
	assert.Equal(t, "minimal answer", answer)
	require.Len(t, ft.calls, 2)
	assert.Less(t, len(ft.calls[1].raw), len(ft.calls[0].raw))
	require.Len(t, diags, 1)
	assert.Equal(t, KindOverflow, diags[0].Kind)
	assert.Equal(t, "Input Too Long Error", diags[0].Title)
}

func TestQuery_AccessDeniedIsTerminal(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){
		fail(&smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not allowed"}),
	}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	_, ok := a.Query(context.Background(), "list ec2", []string{ec2Doc}, claudeID)

	assert.False(t, ok)
	assert.Len(t, ft.calls, 1)
	require.Len(t, diags, 1)
	assert.Equal(t, KindAccessDenied, diags[0].Kind)
	assert.Contains(t, diags[0].Detail, claudeID)
}

func TestQuery_TimeoutIsRetried(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){
		fail(context.DeadlineExceeded),
		fail(context.DeadlineExceeded),
		reply(`{"content":[{"text":"late"}]}`),
	}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	answer, ok := a.Query(context.Background(), "list ec2", []string{ec2Doc}, claudeID)

	require.True(t, ok)
	assert.Equal(t, "late", answer)
	assert.Len(t, ft.calls, 3)
	assert.Empty(t, diags)
}

func TestQuery_TimeoutRetriesExhausted(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){fail(context.DeadlineExceeded)}}
	var diags diagnostics
	a := New(ft, Config{MaxRetries: 2}, WithReporter(diags.reporter()),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))

	_, ok := a.Query(context.Background(), "list ec2", []string{ec2Doc}, claudeID)

	assert.False(t, ok)
	assert.Len(t, ft.calls, 3)
	require.Len(t, diags, 1)
	assert.Equal(t, KindTimeout, diags[0].Kind)
}

func TestQuery_ResponseShapeErrorKeepsRawBody(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){reply(`{"output":{"message":"?"}}`)}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	answer, ok := a.Query(context.Background(), "list ec2", []string{ec2Doc}, "meta.llama3-8b-instruct-v1:0")

	assert.False(t, ok)
	assert.Empty(t, answer)
	require.Len(t, diags, 1)
	assert.Equal(t, KindShape, diags[0].Kind)
	assert.Contains(t, diags[0].Raw, "\"output\"")
	assert.Contains(t, diags[0].String(), "Response structure:")
}

func TestQuery_OpenAIWithoutTransport(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){reply(`{}`)}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	_, ok := a.Query(context.Background(), "list ec2", []string{ec2Doc}, "openai:gpt-4o-mini")

	assert.False(t, ok)
	assert.Empty(t, ft.calls)
	require.Len(t, diags, 1)
	assert.Equal(t, KindUnknown, diags[0].Kind)
}

func TestAsk_UsesContextVerbatim(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){reply(`{"generations":[{"text":"fine"}]}`)}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	answer, ok := a.Ask(context.Background(), "explain", "## Compliance Check Results", "cohere.command-text-v14")

	require.True(t, ok)
	assert.Equal(t, "fine", answer)
	assert.Contains(t, ft.calls[0].body["prompt"], "## Compliance Check Results")
}

type fakeCompleter struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAITransport_RoundTrip(t *testing.T) {
	fc := &fakeCompleter{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "two buckets"}}},
	}}
	var diags diagnostics
	a := newTestAdapter(nil, &diags, WithOpenAI(NewOpenAITransport(fc)))

	answer, ok := a.Query(context.Background(), "how many buckets", []string{"AWS S3 Information:\n[]"}, "ollama:llama3")

	require.True(t, ok)
	assert.Equal(t, "two buckets", answer)
	assert.Equal(t, "llama3", fc.req.Model)
	require.Len(t, fc.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, fc.req.Messages[0].Role)
	assert.Contains(t, fc.req.Messages[1].Content, "User Question: how many buckets")
	assert.InDelta(t, 0.1, fc.req.Temperature, 1e-6)
}

func TestOpenAITransport_APIError(t *testing.T) {
	fc := &fakeCompleter{err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "invalid key"}}
	var diags diagnostics
	a := newTestAdapter(nil, &diags, WithOpenAI(NewOpenAITransport(fc)))

	_, ok := a.Query(context.Background(), "q", []string{ec2Doc}, "openai:gpt-4o")

	assert.False(t, ok)
	require.Len(t, diags, 1)
	assert.Equal(t, KindAccessDenied, diags[0].Kind)
}

func TestSelfTest(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){reply(`{"content":[{"text":"Test successful"}]}`)}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	ok, raw := a.SelfTest(context.Background(), claudeID)

	require.True(t, ok)
	assert.Contains(t, raw, "Test successful")
	assert.Equal(t, 20.0, ft.calls[0].body["max_tokens"])
	assert.Equal(t, []any{map[string]any{"role": "user", "content": "Hello, just say 'Test successful'"}}, ft.calls[0].body["messages"])
	assert.NotContains(t, ft.calls[0].body, "system")
}

func TestSelfTest_Failure(t *testing.T) {
	ft := &fakeTransport{responses: []func() ([]byte, error){
		fail(&smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "no such model"}),
	}}
	var diags diagnostics
	a := newTestAdapter(ft, &diags)

	ok, msg := a.SelfTest(context.Background(), titanID)

	assert.False(t, ok)
	assert.Contains(t, msg, "no such model")
	assert.Equal(t, "Hello, just say 'Test successful'", ft.calls[0].body["inputText"])
	assert.Empty(t, diags)
}
