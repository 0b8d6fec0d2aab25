package llm

import (
	"fmt"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

const architectSystemPrompt = `You are an expert software architect. Generate a complete project structure ` +
	`with all necessary files and their content. Return your response as a JSON object with this structure: ` +
	`{"files": {"path/to/file": "file content here"}, "instructions": "...", ` +
	`"architecture": {"nfr": [], "security": [], "api_spec": "", "adr_records": []}}`

const plannerSystemPrompt = `You are an expert technical program manager. Produce a concise markdown ` +
	`delivery plan for the described project: goals, phases, risks, and the artifacts each phase produces.`

const developerSystemPrompt = `You are an expert software engineer. Generate complete, idiomatic source ` +
	`code for the requested component. Return only the file content, no surrounding prose.`

// PlanRequest builds the planning-phase generation request.
func PlanRequest(req domain.ExecutionRequest, model string) GenerationRequest {
	return GenerationRequest{
		Prompt:       describe(req),
		SystemPrompt: plannerSystemPrompt,
		Model:        model,
		MaxTokens:    2000,
		Temperature:  0.1,
	}
}

// ArchitectureRequest builds the architecture-phase generation request.
func ArchitectureRequest(req domain.ExecutionRequest, model string) GenerationRequest {
	return GenerationRequest{
		Prompt: fmt.Sprintf("Create a %s project with the following requirements:\n%s",
			req.TemplateID, describe(req)),
		SystemPrompt: architectSystemPrompt,
		Model:        model,
		MaxTokens:    4000,
		Temperature:  0.1,
	}
}

// ComponentRequest builds a development-phase generation request for
// one component.
func ComponentRequest(req domain.ExecutionRequest, component, model string) GenerationRequest {
	return GenerationRequest{
		Prompt: fmt.Sprintf("Generate the %s component for this project:\n%s",
			component, describe(req)),
		SystemPrompt: developerSystemPrompt,
		Model:        model,
		MaxTokens:    4000,
		Temperature:  0.1,
	}
}

func describe(req domain.ExecutionRequest) string {
	if req.CustomRequirements == "" {
		return req.Description
	}
	return req.Description + "\n\nAdditional requirements: " + req.CustomRequirements
}
