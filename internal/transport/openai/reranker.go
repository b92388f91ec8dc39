package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain/ranking"
)

const rerankSystemPrompt = `You rank code patterns by relevance to a task.
Reply with a JSON array of pattern ids, most relevant first. No other text.`

// Reranker asks a chat model to reorder retrieval results. The caller
// treats any error as a signal to keep the original ordering.
type Reranker struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// RerankerConfig holds the collaborator endpoint settings.
type RerankerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// NewReranker creates a chat-based reranking collaborator.
func NewReranker(cfg *RerankerConfig) *Reranker {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Reranker{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

// Rerank reorders results by the model's relevance judgment. Ids absent
// from the reply keep their relative order after the ranked ones.
func (r *Reranker) Rerank(ctx context.Context, purpose string, results []ranking.RankedResult) ([]ranking.RankedResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\nPatterns:\n", purpose)
	for i := range results {
		p := results[i].Pattern()
		content := p.Content()
		if len(content) > 500 {
			content = content[:500]
		}
		fmt.Fprintf(&sb, "id=%s\n%s\n---\n", results[i].ID(), content)
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rerankSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("rerank completion returned no choices")
	}

	order, err := parseIDList(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parse rerank reply: %w", err)
	}

	return reorder(results, order), nil
}

// parseIDList extracts a JSON string array, tolerating code fences.
func parseIDList(reply string) ([]string, error) {
	reply = strings.TrimSpace(reply)
	if i := strings.IndexByte(reply, '['); i >= 0 {
		if j := strings.LastIndexByte(reply, ']'); j > i {
			reply = reply[i : j+1]
		}
	}

	var ids []string
	if err := json.Unmarshal([]byte(reply), &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty id list")
	}
	return ids, nil
}

// reorder applies the id ordering, appending unranked results in their
// original relative order. Unknown ids are ignored.
func reorder(results []ranking.RankedResult, order []string) []ranking.RankedResult {
	byID := make(map[string]int, len(results))
	for i := range results {
		byID[results[i].ID()] = i
	}

	out := make([]ranking.RankedResult, 0, len(results))
	taken := make([]bool, len(results))
	for _, id := range order {
		if i, ok := byID[id]; ok && !taken[i] {
			taken[i] = true
			out = append(out, results[i])
		}
	}
	for i := range results {
		if !taken[i] {
			out = append(out, results[i])
		}
	}
	return out
}
