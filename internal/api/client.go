// Package api provides the Anthropic-backed agents, planner drafts,
// clarification and summaries used by ensemble.
package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// DefaultMaxTokens caps a single completion when the caller sets no limit.
const DefaultMaxTokens = 4096

// ErrEmptyCompletion indicates a response with no text content.
var ErrEmptyCompletion = errors.New("model returned no text")

// messageSender is the slice of the SDK's message service the client uses.
type messageSender interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client wraps the Anthropic SDK client with token tracking.
type Client struct {
	inner    anthropic.Client
	messages messageSender
	model    anthropic.Model
	tracker  *TokenTracker
}

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// Model is the Claude model to use (e.g., anthropic.ModelClaudeSonnet4_20250514).
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// NewClient creates a new Anthropic API client.
func NewClient(cfg ClientConfig) (*Client, error) {
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
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	c := &Client{
		inner:   anthropic.NewClient(opts...),
		model:   model,
		tracker: NewTokenTracker(model),
	}
	c.messages = &c.inner.Messages
	return c, nil
}

// newClientWithSender builds a Client over a custom sender, for tests.
func newClientWithSender(model anthropic.Model, sender messageSender) *Client {
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	return &Client{messages: sender, model: model, tracker: NewTokenTracker(model)}
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock inference profile format.
// Bedrock uses cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}

	// Already in Bedrock format, or a custom model.
	return model
}

// Model returns the configured model name.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// Tracker returns the token tracker for this client.
func (c *Client) Tracker() *TokenTracker {
	return c.tracker
}

// Completion is the text and usage of one model call.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	StopReason   string
}

// Tokens returns input plus output tokens.
func (c *Completion) Tokens() int64 {
	return c.InputTokens + c.OutputTokens
}

// Complete sends a single-turn request and returns the concatenated text.
// maxTokens <= 0 uses DefaultMaxTokens.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int64) (*Completion, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("API error: %w", err)
	}

	in, out := resp.Usage.InputTokens, resp.Usage.OutputTokens
	cost := c.tracker.Add(in, out)

	var sb strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}

	comp := &Completion{
		Text:         strings.TrimSpace(sb.String()),
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      cost,
		StopReason:   string(resp.StopReason),
	}
	if comp.Text == "" {
		return comp, ErrEmptyCompletion
	}
	return comp, nil
}

// Pricing is the USD price per million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost prices a call.
func (p Pricing) Cost(input, output int64) float64 {
	return float64(input)/1_000_000*p.InputPerMillion + float64(output)/1_000_000*p.OutputPerMillion
}

// sonnetPricing is the fallback for unknown models.
var sonnetPricing = Pricing{InputPerMillion: 3.0, OutputPerMillion: 15.0}

// modelPricing is matched by substring so Bedrock profile names resolve too.
// Order matters: more specific families come first.
var modelPricing = []struct {
	family  string
	pricing Pricing
}{
	{"haiku-4-5", Pricing{1.0, 5.0}},
	{"3-5-haiku", Pricing{0.8, 4.0}},
	{"opus-4-5", Pricing{5.0, 25.0}},
	{"opus-4", Pricing{15.0, 75.0}},
	{"sonnet", sonnetPricing},
}

// PricingFor returns the approximate pricing for a model.
func PricingFor(model anthropic.Model) Pricing {
	m := string(model)
	for _, p := range modelPricing {
		if strings.Contains(m, p.family) {
			return p.pricing
		}
	}
	return sonnetPricing
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	pricing   Pricing
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker priced for model.
func NewTokenTracker(model anthropic.Model) *TokenTracker {
	return &TokenTracker{pricing: PricingFor(model)}
}

// Add records token usage from an API call and returns that call's cost.
func (t *TokenTracker) Add(input, output int64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
	return t.pricing.Cost(input, output)
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Reset clears all tracked token usage.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok = 0
	t.outputTok = 0
	t.calls = 0
}

// Cost returns the estimated total cost in USD.
func (t *TokenTracker) Cost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pricing.Cost(t.inputTok, t.outputTok)
}
