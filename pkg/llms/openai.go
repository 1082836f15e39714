package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kadirpekel/coda/pkg/config"
	"github.com/kadirpekel/coda/pkg/httpclient"
	"github.com/kadirpekel/coda/pkg/protocol"
	"github.com/kadirpekel/coda/pkg/utils"
)

// OpenAIProvider talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIProvider struct {
	cfg        *config.Config
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model         string           `json:"model"`
	Messages      []openAIMessage  `json:"messages"`
	MaxTokens     *int             `json:"max_tokens,omitempty"`
	Temperature   float64          `json:"temperature"`
	Stream        bool             `json:"stream"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
	Tools         []openAITool     `json:"tools,omitempty"`
	ToolChoice    string           `json:"tool_choice,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    interface{}      `json:"content"` // string or []openAIContentPart
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIContentPart struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text,omitempty"`
	CacheControl *protocol.CacheControl `json:"cache_control,omitempty"`
}

type openAIResponse struct {
	Choices []choice     `json:"choices"`
	Usage   *usage       `json:"usage,omitempty"`
	Error   *openAIError `json:"error,omitempty"`
}

type openAIStreamResponse struct {
	Choices []streamChoice `json:"choices"`
	Usage   *usage         `json:"usage,omitempty"`
	Error   *openAIError   `json:"error,omitempty"`
}

type choice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type streamChoice struct {
	Delta        delta  `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type delta struct {
	Content   string                `json:"content,omitempty"`
	ToolCalls []openAIToolCallDelta `json:"tool_calls,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIToolCallDelta struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// NewOpenAIProvider builds a provider over the retrying HTTP client with the
// endpoint's rate-limit headers wired into the backoff policy.
func NewOpenAIProvider(cfg *config.Config) *OpenAIProvider {
	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(cfg.RetryDelay),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	)

	return &OpenAIProvider{
		cfg:        cfg,
		httpClient: httpClient,
	}
}

func (p *OpenAIProvider) ModelName() string {
	return p.cfg.Model
}

func (p *OpenAIProvider) Close() error {
	return nil
}

// Stream starts a streaming completion. Chunks arrive on the returned
// channel; the channel closes when the stream ends, fails, or ctx is
// cancelled.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	wireReq := p.buildRequest(req, true)

	outputCh := make(chan StreamChunk, 64)
	go func() {
		defer close(outputCh)
		if err := p.streamRequest(ctx, wireReq, outputCh); err != nil {
			select {
			case outputCh <- StreamChunk{Type: ChunkError, Err: compact(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return outputCh, nil
}

// Complete is the non-streaming fallback path.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (protocol.Message, protocol.TokenUsage, error) {
	wireReq := p.buildRequest(req, false)

	var out protocol.Message
	var usage protocol.TokenUsage

	response, err := p.doRequest(ctx, wireReq)
	if err != nil {
		return out, usage, compact(err)
	}
	if response.Error != nil {
		return out, usage, compact(fmt.Errorf("API error: %s", response.Error.Message))
	}
	if len(response.Choices) == 0 {
		return out, usage, fmt.Errorf("no response choices returned")
	}

	ch := response.Choices[0]
	out.Role = protocol.RoleAssistant
	if str, ok := ch.Message.Content.(string); ok && str != "" {
		out.AppendText(str)
	}
	for _, tc := range ch.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, &protocol.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if response.Usage != nil {
		usage = protocol.TokenUsage{
			Input:  response.Usage.PromptTokens,
			Output: response.Usage.CompletionTokens,
			Total:  response.Usage.TotalTokens,
		}
	}
	return out, usage, nil
}

func roleToWire(role protocol.Role) string {
	switch role {
	case protocol.RoleSystem:
		return "system"
	case protocol.RoleUser:
		return "user"
	case protocol.RoleAssistant:
		return "assistant"
	case protocol.RoleTool:
		return "tool"
	default:
		return "user"
	}
}

func (p *OpenAIProvider) buildRequest(req Request, stream bool) openAIRequest {
	wireMessages := make([]openAIMessage, 0, len(req.Messages))

	for i := range req.Messages {
		msg := &req.Messages[i]

		wireMsg := openAIMessage{Role: roleToWire(msg.Role)}

		if msg.Role == protocol.RoleTool {
			// Tool results are flat strings on the wire.
			wireMsg.Content = msg.Text()
			wireMsg.ToolCallID = msg.ToolCallID
			wireMsg.Name = msg.ToolName
			wireMessages = append(wireMessages, wireMsg)
			continue
		}

		parts := make([]openAIContentPart, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			parts = append(parts, openAIContentPart{
				Type:         "text",
				Text:         b.Text,
				CacheControl: b.CacheControl,
			})
		}
		wireMsg.Content = parts

		for _, tc := range msg.ToolCalls {
			wireMsg.ToolCalls = append(wireMsg.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}

		wireMessages = append(wireMessages, wireMsg)
	}

	wireReq := openAIRequest{
		Model:       p.cfg.Model,
		Messages:    wireMessages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		wireReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		wireReq.MaxTokens = &maxTokens
	}
	if len(req.Tools) > 0 {
		wireReq.Tools = make([]openAITool, len(req.Tools))
		for i, t := range req.Tools {
			wireReq.Tools[i] = openAITool{Type: "function", Function: t}
		}
		wireReq.ToolChoice = "auto"
	}
	return wireReq
}

func (p *OpenAIProvider) newHTTPRequest(ctx context.Context, wireReq openAIRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.Host+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return req, nil
}

func parseErrorBody(body []byte) *openAIError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error openAIError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

func checkResponse(resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if apiErr := parseErrorBody(body); apiErr != nil {
			return fmt.Errorf("API request failed with status %d: %s (type: %s, code: %s)",
				resp.StatusCode, apiErr.Message, apiErr.Type, apiErr.Code)
		}
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("HTTP request failed: no response received")
	}
	return nil
}

func (p *OpenAIProvider) doRequest(ctx context.Context, wireReq openAIRequest) (*openAIResponse, error) {
	req, err := p.newHTTPRequest(ctx, wireReq)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &response, nil
}

func (p *OpenAIProvider) streamRequest(ctx context.Context, wireReq openAIRequest, outputCh chan<- StreamChunk) error {
	req, err := p.newHTTPRequest(ctx, wireReq)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err := checkResponse(resp, err); err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			return nil
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			// Malformed keep-alive fragments are skipped, not fatal.
			continue
		}

		if streamResp.Error != nil {
			return fmt.Errorf("API error: %s", streamResp.Error.Message)
		}

		if streamResp.Usage != nil {
			emit(ctx, outputCh, StreamChunk{
				Type: ChunkUsage,
				Usage: &protocol.TokenUsage{
					Input:  streamResp.Usage.PromptTokens,
					Output: streamResp.Usage.CompletionTokens,
					Total:  streamResp.Usage.TotalTokens,
				},
			})
		}

		if len(streamResp.Choices) == 0 {
			continue
		}
		ch := streamResp.Choices[0]

		if ch.Delta.Content != "" {
			if !emit(ctx, outputCh, StreamChunk{Type: ChunkText, Text: ch.Delta.Content}) {
				return ctx.Err()
			}
		}

		for _, dc := range ch.Delta.ToolCalls {
			if !emit(ctx, outputCh, StreamChunk{
				Type: ChunkToolCallDelta,
				Delta: &ToolCallDelta{
					Index:             dc.Index,
					ID:                dc.ID,
					Name:              dc.Function.Name,
					ArgumentsFragment: dc.Function.Arguments,
				},
			}) {
				return ctx.Err()
			}
		}
	}
}

func emit(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// compact keeps transport errors within the size budget promised to the core.
func compact(err error) error {
	if err == nil {
		return nil
	}
	msg := utils.CompactError(err.Error(), utils.DefaultErrorBudget)
	if msg == err.Error() {
		return err
	}
	return fmt.Errorf("%s", msg)
}

var _ Provider = (*OpenAIProvider)(nil)
