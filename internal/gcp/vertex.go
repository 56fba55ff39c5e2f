package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/prompts"
)

// refusalPhrases mark a model response that declined the task.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// ErrRefusal is returned when the model declines to transcribe a document.
var ErrRefusal = errors.New("gemini response indicates refusal")

// VertexClient holds the pre-configured generative models used by the pipeline.
type VertexClient struct {
	ExtractionModel *genai.GenerativeModel
	AnalysisModel   *genai.GenerativeModel
	modelName       string
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	extractionModel := baseClient.GenerativeModel(modelName)
	extractionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(prompts.ExtractionSystem)},
	}
	extractionModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	analysisModel := baseClient.GenerativeModel(modelName)
	analysisModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(prompts.AnalysisSystem)},
	}
	analysisModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.3),
		MaxOutputTokens:  genai.Ptr[int32](4096),
	}

	return &VertexClient{
		ExtractionModel: extractionModel,
		AnalysisModel:   analysisModel,
		modelName:       modelName,
		baseClient:      baseClient,
	}, nil
}

// Extract transcribes the document bytes with Gemini. The bytes are sent
// inline with the MIME type of the file.
func (c *VertexClient) Extract(ctx context.Context, data []byte, fileName string) (string, error) {
	fileType, ok := models.DetectFileType(fileName, "")
	if !ok {
		return "", fmt.Errorf("unsupported file type for %q", fileName)
	}
	mimeType, _ := models.MIMETypeFor(fileType)

	resp, err := c.ExtractionModel.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(prompts.ExtractionUser),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	text := stripFences(responseText(resp), "```markdown")
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", ErrRefusal
		}
	}
	return text, nil
}

// Analyze asks the analysis model for a risk assessment. The reply is
// returned untouched for schema repair.
func (c *VertexClient) Analyze(ctx context.Context, text string) (models.RawAnalysis, error) {
	resp, err := c.AnalysisModel.GenerateContent(ctx, genai.Text(prompts.AnalysisUser+text))
	if err != nil {
		return models.RawAnalysis{}, fmt.Errorf("failed to generate analysis from gemini: %w", err)
	}
	body := responseText(resp)
	if body == "" {
		return models.RawAnalysis{}, fmt.Errorf("gemini returned an empty response instead of JSON")
	}
	return models.RawAnalysis{Source: "vertex:" + c.modelName, Body: body}, nil
}

// Complete answers userMessage in a chat session grounded by the given block.
// Prior turns become the session history.
func (c *VertexClient) Complete(ctx context.Context, grounding string, history []models.ChatTurn, userMessage string) (string, error) {
	model := c.baseClient.GenerativeModel(c.modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(grounding)}}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: genai.Ptr[int32](2048),
	}

	session := model.StartChat()
	for _, turn := range history {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(userMessage))
	if err != nil {
		return "", fmt.Errorf("failed to send chat message to gemini: %w", err)
	}
	return responseText(resp), nil
}

// Draft writes a document from a system and a user prompt.
func (c *VertexClient) Draft(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	model := c.baseClient.GenerativeModel(c.modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.3),
		MaxOutputTokens: genai.Ptr[int32](4096),
	}
	resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate contract draft from gemini: %w", err)
	}
	return responseText(resp), nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s, opening string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, opening)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
