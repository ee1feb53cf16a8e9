package repositories

import "context"

// Skill is a synchronous function the model may call
type Skill interface {
	Declaration() ToolDeclaration
	// Call runs the skill and returns the reply text to speak
	Call(ctx context.Context, args map[string]any) (string, error)
}
