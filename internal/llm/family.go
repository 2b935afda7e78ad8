// Package llm sends collected infrastructure context to a language model and
// extracts the answer. Request and response shapes are chosen by model family.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Family is a group of models sharing one request/response schema.
type Family string

const (
	FamilyChat     Family = "chat"
	FamilyTitan    Family = "titan"
	FamilyJurassic Family = "ai21"
	FamilyCohere   Family = "cohere"
	FamilyOpenAI   Family = "openai"
	FamilyGeneric  Family = "generic"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	titanTopP        = 0.9

	openAIPrefix = "openai:"
	ollamaPrefix = "ollama:"
)

const expertPrompt = `You are an AWS infrastructure expert analyzing actual AWS infrastructure data. You have been provided with real AWS infrastructure data below.

IMPORTANT: The AWS infrastructure data provided below is real and current. Please analyze this data carefully to answer the user's question.

AWS Infrastructure Data:
%s

User Question: %s

Instructions:
1. Look carefully at the AWS infrastructure data provided above
2. If you see EC2 instances in the data, list their details including Instance IDs, states, and types
3. If you see other AWS resources, analyze them as requested
4. If the data contains information relevant to the question, use it to provide a comprehensive answer
5. If you truly cannot find relevant information in the provided data, then explain what data would be needed

Please provide a detailed and helpful response based on the actual AWS infrastructure data provided.`

const plainPrompt = `You are an AWS infrastructure expert. Based on the following AWS infrastructure data, please answer the user's question.

AWS Infrastructure Data:
%s

User Question: %s

Please provide a detailed and helpful response about the AWS infrastructure.`

const chatSystem = `You are an AWS infrastructure expert analyzing actual AWS infrastructure data. Each user message carries real AWS infrastructure data followed by a question.

IMPORTANT: The AWS infrastructure data is real and current. Please analyze this data carefully to answer the user's question.

Instructions:
1. Look carefully at the AWS infrastructure data provided
2. If you see EC2 instances in the data, list their details including Instance IDs, states, and types
3. If you see other AWS resources, analyze them as requested
4. If the data contains information relevant to the question, use it to provide a comprehensive answer
5. If you truly cannot find relevant information in the provided data, then explain what data would be needed

Please provide a detailed and helpful response based on the actual AWS infrastructure data provided.`

const chatUser = `AWS Infrastructure Data:
%s

User Question: %s`

// DetectFamily maps a model identifier to its family. Bedrock inference
// profiles ("us." prefix or an inference-profile ARN) use the chat schema.
func DetectFamily(modelID string) Family {
	switch {
	case strings.HasPrefix(modelID, openAIPrefix),
		strings.HasPrefix(modelID, ollamaPrefix),
		strings.HasPrefix(modelID, "gpt-"):
		return FamilyOpenAI
	case strings.Contains(modelID, "anthropic.claude"),
		strings.Contains(modelID, "inference-profile"),
		strings.HasPrefix(modelID, "us."):
		return FamilyChat
	case strings.Contains(modelID, "amazon.titan"):
		return FamilyTitan
	case strings.Contains(modelID, "ai21.j2"):
		return FamilyJurassic
	case strings.Contains(modelID, "cohere.command"):
		return FamilyCohere
	default:
		return FamilyGeneric
	}
}

// ModelName strips the routing prefix from an OpenAI-compatible identifier.
func ModelName(modelID string) string {
	for _, p := range []string{openAIPrefix, ollamaPrefix} {
		if strings.HasPrefix(modelID, p) {
			return strings.TrimPrefix(modelID, p)
		}
	}
	return modelID
}

// Prompt is the text of one request. System is empty for families whose
// body carries a single prompt string.
type Prompt struct {
	System string
	User   string
}

// Frame frames the question and context for family f. Chat families get
// the instructions as a system prompt and only data and question in the
// user message.
func Frame(f Family, context, question string) Prompt {
	switch f {
	case FamilyChat, FamilyOpenAI:
		return Prompt{System: chatSystem, User: fmt.Sprintf(chatUser, context, question)}
	case FamilyTitan:
		return Prompt{User: fmt.Sprintf(expertPrompt, context, question)}
	default:
		return Prompt{User: fmt.Sprintf(plainPrompt, context, question)}
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	System           string        `json:"system,omitempty"`
	Messages         []chatMessage `json:"messages"`
}

type titanConfig struct {
	MaxTokenCount int      `json:"maxTokenCount"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
}

type titanRequest struct {
	InputText            string      `json:"inputText"`
	TextGenerationConfig titanConfig `json:"textGenerationConfig"`
}

type jurassicRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"maxTokens"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type promptRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Params are the sampling settings of one request. A nil Temperature
// leaves the model default.
type Params struct {
	MaxTokens   int
	Temperature *float64
}

// BuildBody returns the JSON request body for prompt in the schema of f.
// Single-prompt families receive the system text ahead of the user text.
func BuildBody(f Family, modelID string, prompt Prompt, p Params) ([]byte, error) {
	var body any
	switch f {
	case FamilyChat:
		body = chatRequest{
			AnthropicVersion: anthropicVersion,
			MaxTokens:        p.MaxTokens,
			System:           prompt.System,
			Messages:         []chatMessage{{Role: "user", Content: prompt.User}},
		}
	case FamilyTitan:
		cfg := titanConfig{MaxTokenCount: p.MaxTokens, Temperature: p.Temperature}
		if p.Temperature != nil {
			topP := titanTopP
			cfg.TopP = &topP
		}
		body = titanRequest{InputText: prompt.text(), TextGenerationConfig: cfg}
	case FamilyJurassic:
		body = jurassicRequest{Prompt: prompt.text(), MaxTokens: p.MaxTokens, Temperature: p.Temperature}
	case FamilyOpenAI:
		var msgs []openai.ChatCompletionMessage
		if prompt.System != "" {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt.System})
		}
		req := openai.ChatCompletionRequest{
			Model:     ModelName(modelID),
			Messages:  append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.User}),
			MaxTokens: p.MaxTokens,
		}
		if p.Temperature != nil {
			req.Temperature = float32(*p.Temperature)
		}
		body = req
	default:
		body = promptRequest{Prompt: prompt.text(), MaxTokens: p.MaxTokens, Temperature: p.Temperature}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", f, err)
	}
	return data, nil
}

func (p Prompt) text() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

// ExtractText returns the answer text from a response body of family f.
// Unrecognized shapes yield a KindShape *Error carrying the raw body.
func ExtractText(f Family, body []byte) (string, error) {
	var text string
	var ok bool

	switch f {
	case FamilyChat:
		var resp struct {
			Content []struct {
				Text *string `json:"text"`
			} `json:"content"`
		}
		if json.Unmarshal(body, &resp) == nil && len(resp.Content) > 0 && resp.Content[0].Text != nil {
			text, ok = *resp.Content[0].Text, true
		}
	case FamilyTitan:
		var resp struct {
			Results []struct {
				OutputText *string `json:"outputText"`
			} `json:"results"`
		}
		if json.Unmarshal(body, &resp) == nil && len(resp.Results) > 0 && resp.Results[0].OutputText != nil {
			text, ok = *resp.Results[0].OutputText, true
		}
	case FamilyJurassic:
		var resp struct {
			Completions []struct {
				Data struct {
					Text *string `json:"text"`
				} `json:"data"`
			} `json:"completions"`
		}
		if json.Unmarshal(body, &resp) == nil && len(resp.Completions) > 0 && resp.Completions[0].Data.Text != nil {
			text, ok = *resp.Completions[0].Data.Text, true
		}
	case FamilyCohere:
		var resp struct {
			Generations []struct {
				Text *string `json:"text"`
			} `json:"generations"`
		}
		if json.Unmarshal(body, &resp) == nil && len(resp.Generations) > 0 && resp.Generations[0].Text != nil {
			text, ok = *resp.Generations[0].Text, true
		}
	case FamilyOpenAI:
		var resp openai.ChatCompletionResponse
		if json.Unmarshal(body, &resp) == nil && len(resp.Choices) > 0 {
			text, ok = resp.Choices[0].Message.Content, true
		}
	default:
		text, ok = genericText(body)
	}

	if !ok {
		return "", &Error{
			Kind:    KindShape,
			Message: fmt.Sprintf("unrecognized %s response shape", f),
			Raw:     body,
		}
	}
	return text, nil
}

var genericFields = []string{"completion", "text", "generated_text"}

func genericText(body []byte) (string, bool) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}
	for _, field := range genericFields {
		raw, found := resp[field]
		if !found {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
		return string(raw), true
	}
	return "", false
}
