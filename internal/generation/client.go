package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"narrative-server/internal/interfaces"
	"narrative-server/internal/models"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const encodingName = "cl100k_base"

// Client talks to an OpenAI-compatible chat API and implements every
// external collaborator of the engine: turn generation, the consistency
// and coherence oracles, and final narrative assembly.
type Client struct {
	client      *openai.Client
	model       string
	maxRetries  int
	tokenBudget int
	encoder     *tiktoken.Tiktoken
	logger      *zap.Logger
}

var (
	_ interfaces.Generator          = (*Client)(nil)
	_ interfaces.ConsistencyChecker = (*Client)(nil)
	_ interfaces.CoherenceChecker   = (*Client)(nil)
	_ interfaces.NarrativeAssembler = (*Client)(nil)
)

// Config configures the generation client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxRetries  int
	TokenBudget int
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("generation API key is not set")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 6000
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}

	encoder, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", encodingName, err)
	}

	return &Client{
		client:      openai.NewClientWithConfig(apiConfig),
		model:       cfg.Model,
		maxRetries:  cfg.MaxRetries,
		tokenBudget: cfg.TokenBudget,
		encoder:     encoder,
		logger:      logger.Named("GenerationClient"),
	}, nil
}

func (c *Client) countTokens(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

// complete runs one chat completion with bounded retries. Context
// cancellation aborts immediately; other errors retry up to maxRetries.
func (c *Client) complete(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: temperature,
			MaxTokens:   maxTokens,
			TopP:        0.95,
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			c.logger.Warn("Chat completion failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			lastErr = errors.New("empty completion response")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", c.maxRetries, lastErr)
}

var roleSystemPrompts = map[models.ActorRole]string{
	models.RoleCharacter: "You are playing one character inside a collaborative story simulation. " +
		"Stay strictly in character. Respond with JSON: " +
		`{"text": "...", "emotion": {"emotion": "...", "intensity": 0.0}, "actions": ["..."], "revelations": [{"description": "...", "public": false}]}. ` +
		"Only text is required.",
	models.RoleDirector: "You are the director of a story simulation. Steer pacing and drama through your contribution. " +
		`Respond with JSON: {"text": "..."}.`,
	models.RoleSceneManager: "You manage scene logistics in a story simulation. Describe environment shifts concisely. " +
		`Respond with JSON: {"text": "..."}.`,
}

// Generate produces an actor's next contribution from the story snapshot.
func (c *Client) Generate(ctx context.Context, actorID string, snapshot models.StorySummary, role models.ActorRole) (*models.Contribution, error) {
	system, ok := roleSystemPrompts[role]
	if !ok {
		system = roleSystemPrompts[models.RoleCharacter]
	}

	content, err := c.complete(ctx, system, c.renderSnapshot(snapshot, actorID), 0.8, 1200)
	if err != nil {
		return nil, err
	}

	var contribution models.Contribution
	if jsonErr := json.Unmarshal(extractJSON(content), &contribution); jsonErr != nil || strings.TrimSpace(contribution.Text) == "" {
		// Plain prose fallback: treat the whole reply as the line.
		contribution = models.Contribution{Text: strings.TrimSpace(content)}
	}
	contribution.ActorID = actorID
	return &contribution, nil
}

// renderSnapshot serializes the story summary for the prompt, dropping the
// oldest entries until the rendered context fits the token budget.
func (c *Client) renderSnapshot(snapshot models.StorySummary, actorID string) string {
	events := snapshot.RecentEvents
	acts := snapshot.RecentActs
	for {
		var b strings.Builder
		fmt.Fprintf(&b, "Story: %s (%s)\nBeat: %s\nTension: %.2f\nTurn %d. You are actor %s.\n",
			snapshot.Title, snapshot.Genre, snapshot.CurrentBeat, snapshot.Tension, snapshot.Turn, actorID)
		if len(events) > 0 {
			b.WriteString("\nRecent events:\n")
			for _, ev := range events {
				fmt.Fprintf(&b, "- [%s] %s\n", ev.Kind, ev.Description)
			}
		}
		if len(acts) > 0 {
			b.WriteString("\nRecent actions:\n")
			for _, a := range acts {
				fmt.Fprintf(&b, "- %s: %s\n", a.ActorID, a.Text)
			}
		}
		b.WriteString("\nProduce your next contribution.")

		rendered := b.String()
		if c.countTokens(rendered) <= c.tokenBudget || (len(events) == 0 && len(acts) == 0) {
			return rendered
		}
		if len(acts) >= len(events) && len(acts) > 0 {
			acts = acts[1:]
		} else {
			events = events[1:]
		}
	}
}

// CheckConsistency asks the oracle whether a contribution fits the actor's
// profile and recent behavior.
func (c *Client) CheckConsistency(ctx context.Context, profile models.Actor, contribution models.Contribution, recent []models.ActionRecord) (*models.ConsistencyReport, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Character: %s\nBackground: %s\nTraits: %s\nMotivation: %s\n",
		profile.Name, profile.Profile.Background, strings.Join(profile.Profile.Traits, ", "), profile.Profile.Motivation)
	if len(recent) > 0 {
		b.WriteString("\nRecent behavior:\n")
		for _, a := range recent {
			fmt.Fprintf(&b, "- %s\n", a.Text)
		}
	}
	fmt.Fprintf(&b, "\nProposed contribution:\n%s\n", contribution.Text)

	const system = "You judge whether a story contribution is consistent with the character's profile and recent behavior. " +
		`Respond with JSON: {"consistent": true, "score": 0.0, "violations": ["..."]}.`

	content, err := c.complete(ctx, system, b.String(), 0.2, 400)
	if err != nil {
		return nil, err
	}
	var report models.ConsistencyReport
	if err := json.Unmarshal(extractJSON(content), &report); err != nil {
		return nil, fmt.Errorf("malformed consistency verdict: %w", err)
	}
	report.Score = models.Clamp01(report.Score)
	return &report, nil
}

// CheckCoherence vets a control directive against the story so far.
func (c *Client) CheckCoherence(ctx context.Context, summary models.StorySummary, directive string) (*models.CoherenceReport, error) {
	const system = "You judge whether a proposed story intervention keeps the plot coherent. " +
		`Respond with JSON: {"coherent": true, "plot_holes": ["..."]}.`

	user := fmt.Sprintf("%s\nProposed intervention: %s", c.renderSnapshot(summary, "director"), directive)
	content, err := c.complete(ctx, system, user, 0.2, 400)
	if err != nil {
		return nil, err
	}
	var report models.CoherenceReport
	if err := json.Unmarshal(extractJSON(content), &report); err != nil {
		return nil, fmt.Errorf("malformed coherence verdict: %w", err)
	}
	return &report, nil
}

// AssembleNarrative compiles the full run log into continuous prose.
func (c *Client) AssembleNarrative(ctx context.Context, actions []models.ActionRecord, events []models.DramaticEvent) (string, error) {
	var b strings.Builder
	b.WriteString("Compile this simulation log into a readable story. Keep the order of events.\n\n")
	ei := 0
	for _, a := range actions {
		for ei < len(events) && events[ei].Seq < a.Seq {
			fmt.Fprintf(&b, "[event] %s\n", events[ei].Description)
			ei++
		}
		if a.Kind == models.ActionContribution {
			fmt.Fprintf(&b, "%s: %s\n", a.ActorID, a.Text)
		}
	}
	for ; ei < len(events); ei++ {
		fmt.Fprintf(&b, "[event] %s\n", events[ei].Description)
	}

	const system = "You are a novelist turning a scene-by-scene simulation log into flowing narrative prose."
	return c.complete(ctx, system, b.String(), 0.7, 4000)
}

// extractJSON strips markdown fences and surrounding prose, returning the
// first top-level JSON object in the reply.
func extractJSON(content string) []byte {
	content = strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(content, "```json"); ok {
		content = after
	} else if after, ok := strings.CutPrefix(content, "```"); ok {
		content = after
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return []byte(content[start : end+1])
	}
	return []byte(content)
}
