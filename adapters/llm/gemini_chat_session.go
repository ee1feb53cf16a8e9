package llm

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/satriahrh/voicerelay/domain/repositories"
)

var defaultSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
}

// buildContents converts the history plus the new user message to Gemini
// contents. Consecutive messages with the same role are merged.
func buildContents(req repositories.ChatRequest) []*genai.Content {
	var (
		contents []*genai.Content
		last     *genai.Content
	)

	add := func(role genai.Role, text string) {
		if text == "" {
			return
		}
		if last != nil && last.Role == string(role) {
			last.Parts = append(last.Parts, genai.NewPartFromText(text))
			return
		}
		last = genai.NewContentFromText(text, role)
		contents = append(contents, last)
	}

	for _, msg := range req.History {
		switch msg.Role {
		case repositories.AssistantRole:
			add(genai.RoleModel, msg.Content)
		default:
			add(genai.RoleUser, msg.Content)
		}
	}
	add(genai.RoleUser, req.Message)

	return contents
}

// responseChunks extracts text and function calls from the first candidate
func responseChunks(resp *genai.GenerateContentResponse) []repositories.ChatChunk {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}

	var chunks []repositories.ChatChunk
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			chunks = append(chunks, repositories.ChatChunk{
				ToolCall: &repositories.ToolCall{Name: part.FunctionCall.Name, Args: args},
			})
		case part.Text != "":
			chunks = append(chunks, repositories.ChatChunk{Text: part.Text})
		}
	}
	return chunks
}

func convertSchema(schema *jsonschema.Schema) *genai.Schema {
	if schema == nil {
		return nil
	}

	enums := make([]string, 0, len(schema.Enum))
	for _, v := range schema.Enum {
		enums = append(enums, fmt.Sprintf("%v", v))
	}

	gs := genai.Schema{
		Format:      schema.Format,
		Description: schema.Description,
		Enum:        enums,
		Items:       convertSchema(schema.Items),
		Required:    schema.Required,
	}

	if n := len(schema.Properties); n > 0 {
		gs.Properties = make(map[string]*genai.Schema, n)
		for k, prop := range schema.Properties {
			gs.Properties[k] = convertSchema(prop)
		}
	}

	switch schema.Type {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return &gs
}
