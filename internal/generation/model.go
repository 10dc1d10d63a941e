package generation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Request is one prompt sent to the model.
type Request struct {
	System string
	Prompt string
}

// Model turns a prompt into raw response text.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

// ModelConfig selects the Gemini model and credentials.
type ModelConfig struct {
	Model  string
	APIKey string
}

// GenkitModel calls Gemini through Genkit's Google AI plugin. The output
// schema goes through Genkit's output options; the plugin rejects
// ResponseSchema or ResponseMIMEType set on the provider config.
type GenkitModel struct {
	g         *genkit.Genkit
	modelName string
}

// NewModel returns a Genkit-backed model, or a model that fails every call
// with ErrModelUnavailable when no API key is configured.
func NewModel(ctx context.Context, cfg ModelConfig) Model {
	modelID := strings.TrimSpace(cfg.Model)
	if modelID == "" {
		modelID = "gemini-2.5-pro"
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		slog.Warn("Gemini API key missing; generation requests will fail", "model", modelID)
		return unavailableModel{name: modelID}
	}

	// The plugin reads its key from the environment.
	_ = os.Setenv("GEMINI_API_KEY", apiKey)
	g := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel("googleai/"+modelID),
	)
	slog.Info("genkit model initialized", "provider", "google", "model", "googleai/"+modelID)
	return &GenkitModel{g: g, modelName: "googleai/" + modelID}
}

func (m *GenkitModel) Name() string { return m.modelName }

func (m *GenkitModel) Generate(ctx context.Context, req Request) (string, error) {
	// ai.WithSystem and ai.WithPrompt format their argument, so % must be escaped.
	opts := []ai.GenerateOption{
		ai.WithModelName(m.modelName),
		ai.WithSystem(strings.ReplaceAll(req.System, "%", "%%")),
		ai.WithPrompt(strings.ReplaceAll(req.Prompt, "%", "%%")),
		ai.WithOutputSchema(ResponseSchema()),
		ai.WithOutputFormat(ai.OutputFormatJSON),
	}
	resp, err := genkit.Generate(ctx, m.g, opts...)
	if err != nil {
		return "", fmt.Errorf("genkit generate: %w", err)
	}
	return resp.Text(), nil
}

type unavailableModel struct {
	name string
}

func (m unavailableModel) Name() string { return "googleai/" + m.name }

func (unavailableModel) Generate(context.Context, Request) (string, error) {
	return "", ErrModelUnavailable
}

// Available reports whether m can reach a provider.
func Available(m Model) bool {
	_, off := m.(unavailableModel)
	return m != nil && !off
}
