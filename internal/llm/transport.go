package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sashabaranov/go-openai"
)

const contentTypeJSON = "application/json"

// OllamaBaseURL is the OpenAI-compatible endpoint of a local Ollama server.
const OllamaBaseURL = "http://localhost:11434/v1"

// Transport sends one request body to a model and returns the response body.
type Transport interface {
	Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, modelID string, body []byte) ([]byte, error)

// Invoke calls f.
func (f TransportFunc) Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	return f(ctx, modelID, body)
}

// BedrockRuntimeAPI is the subset of the Bedrock runtime client used here.
type BedrockRuntimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockTransport invokes models through Amazon Bedrock.
type BedrockTransport struct {
	client BedrockRuntimeAPI
}

// NewBedrockTransport wraps a Bedrock runtime client.
func NewBedrockTransport(client BedrockRuntimeAPI) *BedrockTransport {
	return &BedrockTransport{client: client}
}

// NewBedrockTransportFromConfig builds the runtime client from cfg.
func NewBedrockTransportFromConfig(cfg aws.Config) *BedrockTransport {
	return NewBedrockTransport(bedrockruntime.NewFromConfig(cfg))
}

// Invoke implements Transport.
func (t *BedrockTransport) Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	out, err := t.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String(contentTypeJSON),
		Accept:      aws.String(contentTypeJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke model %s: %w", modelID, err)
	}
	return out.Body, nil
}

// ChatCompleter is the subset of the go-openai client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAITransport invokes OpenAI-compatible chat completion endpoints,
// including a local Ollama server. Bodies are ChatCompletionRequest and
// ChatCompletionResponse JSON.
type OpenAITransport struct {
	client ChatCompleter
}

// NewOpenAITransport wraps a chat completion client.
func NewOpenAITransport(client ChatCompleter) *OpenAITransport {
	return &OpenAITransport{client: client}
}

// NewOpenAITransportFromConfig builds a client for baseURL, which may be
// empty for the public OpenAI API.
func NewOpenAITransportFromConfig(baseURL, apiKey string) *OpenAITransport {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAITransport(openai.NewClientWithConfig(cfg))
}

// Invoke implements Transport.
func (t *OpenAITransport) Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode chat completion request: %w", err)
	}
	if req.Model == "" {
		req.Model = ModelName(modelID)
	}

	resp, err := t.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create chat completion %s: %w", req.Model, err)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode chat completion response: %w", err)
	}
	return out, nil
}
