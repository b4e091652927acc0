package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// APIWorkerConfig contains configuration for creating an APIWorker.
type APIWorkerConfig struct {
	// Model is the Claude model to use.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// MaxTokens caps the response size per execution.
	MaxTokens int64
}

// APIWorker executes units by prompting a Claude model directly. The model
// is instructed to end its reply with a result block; the reply is parsed
// with the same parser the subprocess executor uses.
type APIWorker struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAPIWorker creates an API-backed worker.
func NewAPIWorker(cfg APIWorkerConfig) (*APIWorker, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &APIWorker{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

const apiSystemPrompt = `You execute exactly one unit of work from a phased
delivery workflow. You receive the unit as a JSON document on your input.
Do the work the unit describes, then end your reply with exactly one result
block:

==SPECFLOW:RESULT COMPLETED==
{"artifacts": ["..."], "summary": "..."}
==SPECFLOW:END==

Use kind NEEDS_INPUT with a "questions" array (each question: id, text,
short_label, options with label and description, multi_select) and a
"resume_marker" when you cannot proceed without a human decision. Never
re-ask a question whose answer appears in accumulated_answers. Use kind
FAILED with "reason", "recovery_hint" and "retriable" when the unit cannot
be done.`

// Execute prompts the model with the unit and parses its result block.
func (w *APIWorker) Execute(ctx context.Context, input Input) (*Result, error) {
	payload, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode worker input: %w", err)
	}

	resp, err := w.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     w.model,
		MaxTokens: w.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: apiSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(payload))),
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// API-level failures are retriable: the unit itself was never
		// attempted.
		return &Result{Kind: ResultFailed, Reason: fmt.Sprintf("api call: %v", err), Retriable: true}, nil
	}

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	result, err := ParseResult(text)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			return &Result{Kind: ResultFailed, Reason: parseErr.Reason, Retriable: true}, nil
		}
		return nil, err
	}
	return result, nil
}
