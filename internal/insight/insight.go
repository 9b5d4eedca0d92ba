// Package insight turns a normalized trace into prose and vectors with
// the Gemini API: Explain narrates what the program did, Embed encodes
// a trace digest for similarity search over run history.
package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"codetrace/internal/config"
	"codetrace/internal/logging"
	"codetrace/internal/pipeline"
	"codetrace/internal/trace"
)

// ErrDisabled is returned when no Gemini API key is configured.
var ErrDisabled = errors.New("insight disabled: no API key configured")

// Client wraps the genai client for trace explanation and embedding.
type Client struct {
	cli        *genai.Client
	model      string
	embedModel string
}

// New builds a client from config. ErrDisabled means the caller should
// skip insight features rather than fail.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	if !cfg.InsightEnabled() {
		return nil, ErrDisabled
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.Insight.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{
		cli:        cli,
		model:      cfg.Insight.Model,
		embedModel: cfg.Insight.EmbedModel,
	}, nil
}

const explainPrompt = `You are reading the execution trace of an instrumented program.
Each record is one runtime event: calls, declarations, assignments, reads,
branches with their evaluated conditions, loops, and returns, each with a
source line and call depth.

Explain in plain language what the program did at runtime: the call
structure, how key variables evolved, which branches were taken and why,
and anything surprising. Use markdown with short sections. Do not restate
the record format.`

// Explain narrates one run. The response is markdown.
func (c *Client) Explain(ctx context.Context, res *pipeline.Result) (string, error) {
	digest := Digest(res)
	logging.Insight("explaining %s (%d records)", res.Metadata["file_name"], len(res.Traces))

	resp, err := c.cli.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: explainPrompt + "\n\n" + digest}}}},
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("generate explanation: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// Embed encodes a run's digest as a vector for similarity search.
func (c *Client) Embed(ctx context.Context, res *pipeline.Result) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(Digest(res), genai.RoleUser),
	}
	result, err := c.cli.Models.EmbedContent(ctx, c.embedModel, contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("embed trace: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// Digest renders a result as compact text: metadata header, then one
// line per record. Used both as prompt material and embedding input.
func Digest(res *pipeline.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "file: %s\n", res.Metadata["file_name"])
	fmt.Fprintf(&sb, "language: %s\n", res.Metadata["language"])
	if fns := res.Metadata["function_names"]; fns != "" {
		fmt.Fprintf(&sb, "functions: %s\n", fns)
	}
	sb.WriteString("\n")

	for _, r := range res.Traces {
		sb.WriteString(recordLine(&r))
		sb.WriteString("\n")
	}
	return sb.String()
}

func recordLine(r *trace.Record) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("#%d %s", r.ID, r.Type))
	if r.Subject != "" {
		parts = append(parts, r.Subject)
	}
	if r.Value != "" {
		parts = append(parts, "= "+r.Value)
	}
	if r.Condition != "" {
		outcome := "?"
		if r.ConditionResult != nil {
			outcome = fmt.Sprintf("%d", *r.ConditionResult)
		}
		parts = append(parts, fmt.Sprintf("cond(%s)=%s", r.Condition, outcome))
	}
	if r.LineNumber > 0 {
		parts = append(parts, fmt.Sprintf("line %d", r.LineNumber))
	}
	if r.StackDepth != nil {
		parts = append(parts, fmt.Sprintf("depth %d", *r.StackDepth))
	}
	return strings.Join(parts, " ")
}
