package tools

import (
	"context"
	"fmt"
	"time"
)

// HistoryCompressor triggers a history compression pass. Implemented by the
// agent's history store.
type HistoryCompressor interface {
	Compress(ctx context.Context) (dropped int, err error)
	CurrentContextFraction() float64
}

// CompressContextTool lets the model shed old conversation history when it
// notices the context filling up, without waiting for the automatic
// threshold.
type CompressContextTool struct {
	compressor HistoryCompressor
}

func NewCompressContextTool(compressor HistoryCompressor) *CompressContextTool {
	return &CompressContextTool{compressor: compressor}
}

func (t *CompressContextTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "compress_context",
		Description: "Compress older conversation history to free context space. Use when working on long tasks and earlier exchanges are no longer needed.",
		Parameters:  []ToolParameter{},
	}
}

func (t *CompressContextTool) GetName() string {
	return "compress_context"
}

func (t *CompressContextTool) GetDescription() string {
	return "Compress older conversation history to free context space"
}

func (t *CompressContextTool) Status(args map[string]interface{}) string {
	return "Compressing history"
}

func (t *CompressContextTool) ParallelSafe() bool {
	return false
}

func (t *CompressContextTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	dropped, err := t.compressor.Compress(ctx)
	if err != nil {
		return ToolResult{
			Success:       false,
			Error:         fmt.Sprintf("compression failed: %v", err),
			ToolName:      "compress_context",
			ExecutionTime: time.Since(start),
		}, err
	}

	return ToolResult{
		Success: true,
		Content: fmt.Sprintf("Compressed history: dropped %d messages, context now at %.0f%%",
			dropped, t.compressor.CurrentContextFraction()*100),
		ToolName:      "compress_context",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"dropped": dropped,
		},
	}, nil
}
