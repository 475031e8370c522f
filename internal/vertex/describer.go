// Package vertex wraps the Vertex AI Gemini model used to generate
// natural-language descriptions for figures cropped out of analyzed pages.
package vertex

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

const describerSystemPrompt = "You are a document analysis assistant. Your task is to describe figures extracted from technical documents. Accuracy, detail, and information preservation are of utmost importance."

const describerUserPrompt = `You will be provided with an image of a figure extracted from a document page, together with the markdown text of the page it appeared on.

Describe the figure in detail so that a reader who cannot see the image understands its content. Cover:

Type: Whether it is a chart, diagram, photograph, schematic, map, or other kind of figure.
Content: What the figure shows, including axis labels, legends, units, and notable values for charts, and components and their relationships for diagrams.
Context: How the figure relates to the surrounding page text.

Return ONLY the description. Do not include preambles like "This figure shows" repeated per sentence, and do not surround the output with backtick fences.

Page text for context:

`

// Config holds the connection and model settings for the describer.
type Config struct {
	ProjectID string
	Region    string
	Model     string
}

// Client holds the pre-configured generative model for figure descriptions.
type Client struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
}

// NewClient creates a describer client. ProjectID and Region are required.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("vertex.NewClient: projectID and region cannot be empty")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(describerSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.2),
	}

	return &Client{model: model, baseClient: baseClient}, nil
}

// DescribeFigure generates a description for one figure image. pageText is the
// markdown of the page the figure was cut from; imagePNG is the cropped image.
func (c *Client) DescribeFigure(ctx context.Context, pageText string, imagePNG []byte) (string, error) {
	prompt := genai.Text(describerUserPrompt + pageText)
	imagePart := genai.Blob{
		MIMEType: "image/png",
		Data:     imagePNG,
	}

	resp, err := c.model.GenerateContent(ctx, imagePart, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	description := extractText(resp)
	if description == "" {
		return "", fmt.Errorf("gemini returned no text content")
	}
	return description, nil
}

func (c *Client) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// extractText concatenates the text parts of the first candidate and strips
// any code fence the model wrapped around the answer.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	content := strings.TrimSpace(sb.String())
	content = strings.TrimPrefix(content, "```markdown")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
