package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/coda/pkg/httpclient"
)

type WebRequestTool struct {
	config     *WebRequestConfig
	httpClient *httpclient.Client
}

type WebRequestConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	MaxRequestSize  int64
	MaxResponseSize int64
	AllowedDomains  []string
	DeniedDomains   []string
	AllowedMethods  []string
	MaxRedirects    int
	UserAgent       string
}

func DefaultWebRequestConfig() *WebRequestConfig {
	return &WebRequestConfig{
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		MaxRequestSize:  1024 * 1024,
		MaxResponseSize: 5 * 1024 * 1024,
		MaxRedirects:    5,
		UserAgent:       "coda/1.0",
	}
}

func NewWebRequestTool(cfg *WebRequestConfig) *WebRequestTool {
	if cfg == nil {
		cfg = DefaultWebRequestConfig()
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}

	return &WebRequestTool{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(httpClient),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}
}

func (t *WebRequestTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "web_request",
		Description: "Make HTTP requests to external APIs and web services",
		Parameters: []ToolParameter{
			{
				Name:        "url",
				Type:        "string",
				Description: "The URL to request",
				Required:    true,
			},
			{
				Name:        "method",
				Type:        "string",
				Description: "HTTP method (GET, POST, PUT, DELETE, etc.). Default: GET",
				Required:    false,
				Enum:        []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			{
				Name:        "headers",
				Type:        "object",
				Description: "HTTP headers as key-value pairs",
				Required:    false,
			},
			{
				Name:        "body",
				Type:        "string",
				Description: "Request body (for POST, PUT, PATCH)",
				Required:    false,
			},
		},
	}
}

func (t *WebRequestTool) GetName() string {
	return "web_request"
}

func (t *WebRequestTool) GetDescription() string {
	return "Make HTTP requests to external APIs and web services. Supports all HTTP methods, custom headers, and request bodies."
}

func (t *WebRequestTool) Status(args map[string]interface{}) string {
	if urlStr, ok := args["url"].(string); ok && urlStr != "" {
		return "Fetching " + truncateString(urlStr, 60)
	}
	return "Making HTTP request"
}

func (t *WebRequestTool) ParallelSafe() bool {
	return true
}

func (t *WebRequestTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	urlStr, ok := args["url"].(string)
	if !ok || urlStr == "" {
		return t.errorResult("url parameter is required", start), fmt.Errorf("url parameter is required")
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return t.errorResult(fmt.Sprintf("invalid URL: %v", err), start), err
	}

	if err := t.validateDomain(parsedURL.Host); err != nil {
		return t.errorResult(err.Error(), start), err
	}

	method := "GET"
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	if err := t.validateMethod(method); err != nil {
		return t.errorResult(err.Error(), start), err
	}

	headers := make(map[string]string)
	if h, ok := args["headers"].(map[string]interface{}); ok {
		for k, v := range h {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	var body io.Reader
	if bodyStr, ok := args["body"].(string); ok && bodyStr != "" {
		if int64(len(bodyStr)) > t.config.MaxRequestSize {
			return t.errorResult(
				fmt.Sprintf("request body too large: %d bytes (max: %d)",
					len(bodyStr), t.config.MaxRequestSize),
				start), fmt.Errorf("request body exceeds max size")
		}
		body = bytes.NewReader([]byte(bodyStr))
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return t.errorResult(fmt.Sprintf("failed to create request: %v", err), start), err
	}

	req.Header.Set("User-Agent", t.config.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return t.errorResult(fmt.Sprintf("request failed: %v", err), start), err
	}
	defer resp.Body.Close()

	limitedReader := io.LimitReader(resp.Body, t.config.MaxResponseSize+1)
	responseBody, err := io.ReadAll(limitedReader)
	if err != nil {
		return t.errorResult(fmt.Sprintf("failed to read response: %v", err), start), err
	}

	if int64(len(responseBody)) > t.config.MaxResponseSize {
		return t.errorResult(
			fmt.Sprintf("response too large: exceeds %d bytes", t.config.MaxResponseSize),
			start), fmt.Errorf("response exceeds max size")
	}

	return ToolResult{
		Success:       resp.StatusCode >= 200 && resp.StatusCode < 300,
		Content:       string(responseBody),
		ToolName:      "web_request",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"url":          urlStr,
			"method":       method,
			"status_code":  resp.StatusCode,
			"status":       resp.Status,
			"content_type": resp.Header.Get("Content-Type"),
			"size":         len(responseBody),
		},
	}, nil
}

func (t *WebRequestTool) validateDomain(host string) error {
	if len(t.config.AllowedDomains) == 0 && len(t.config.DeniedDomains) == 0 {
		return nil
	}

	// Deny rules take precedence over allow rules.
	for _, denied := range t.config.DeniedDomains {
		if matchesDomain(host, denied) {
			return fmt.Errorf("domain not allowed: %s (matches deny rule: %s)", host, denied)
		}
	}

	if len(t.config.AllowedDomains) > 0 {
		for _, allowed := range t.config.AllowedDomains {
			if matchesDomain(host, allowed) {
				return nil
			}
		}
		return fmt.Errorf("domain not allowed: %s (not in allowed list)", host)
	}

	return nil
}

func (t *WebRequestTool) validateMethod(method string) error {
	if len(t.config.AllowedMethods) == 0 {
		return nil
	}

	for _, allowed := range t.config.AllowedMethods {
		if strings.EqualFold(method, allowed) {
			return nil
		}
	}

	return fmt.Errorf("HTTP method not allowed: %s (allowed: %v)", method, t.config.AllowedMethods)
}

func matchesDomain(host, pattern string) bool {
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	if host == pattern {
		return true
	}

	// Wildcard patterns like "*.example.com".
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}

	return false
}

func (t *WebRequestTool) errorResult(message string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         message,
		ToolName:      "web_request",
		ExecutionTime: time.Since(start),
	}
}
