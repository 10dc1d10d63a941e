package generation

// SystemPrompt instructs the model to act as a QA engineer and answer with a
// single JSON document.
const SystemPrompt = `You are an expert QA automation engineer. Given a software requirement or test scenario, you will:

1. Generate comprehensive manual test cases with the following structure:
   - Test Case ID (e.g., TC-001, TC-002)
   - Description: Brief description of what is being tested
   - Steps: Detailed step-by-step instructions (use numbered steps, separate with newlines)
   - Expected Result: What should happen when test is executed
   - Priority: High, Medium, or Low

2. Generate a complete Cypress test script that automates the test cases.

Respond with valid JSON in this exact format:
{
  "manualTestCases": [
    {
      "id": "TC-001",
      "description": "...",
      "steps": "1. Step one\n2. Step two\n3. Step three",
      "expectedResult": "...",
      "priority": "High"
    }
  ],
  "cypressScript": "describe('Test Suite', () => {\n  it('test case 1', () => {\n    // test code\n  });\n});"
}

Generate 3-5 comprehensive test cases that cover positive, negative, and edge cases.
Make the Cypress script production-ready with proper selectors, assertions, and error handling.`

// BuildPrompt frames the requirement as the user turn.
func BuildPrompt(requirement string) string {
	return "Software Requirement/Test Scenario:\n\n" + requirement
}

var testCaseFields = []string{"id", "description", "steps", "expectedResult", "priority"}

// ResponseSchema is the JSON Schema handed to Genkit as the output
// constraint. Priority carries no enum so unknown values reach the local
// validator and are coerced there.
func ResponseSchema() map[string]any {
	caseProps := make(map[string]any, len(testCaseFields))
	for _, f := range testCaseFields {
		caseProps[f] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"manualTestCases": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":             "object",
					"properties":       caseProps,
					"required":         testCaseFields,
					"propertyOrdering": testCaseFields,
				},
			},
			"cypressScript": map[string]any{"type": "string"},
		},
		"required":         []string{"manualTestCases", "cypressScript"},
		"propertyOrdering": []string{"manualTestCases", "cypressScript"},
	}
}
