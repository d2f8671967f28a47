package predict

import (
	"strings"
	"text/template"

	"fintrack/internal/core"
)

var promptTemplate = template.Must(template.New("predict").Parse(`You are a personal finance advisor. Analyze the historical expense data provided and predict upcoming expenses for the specified period.
Your response must be purely data-driven based on the input and the requested output schema. Do not attempt to invoke external system calls or assume environment-specific functionalities beyond generating the structured data.

Historical Data: {{.History}}
Period: {{.Period}}

Allowed Expense Categories: {{.Categories}}

Provide the predicted expenses as a JSON array of objects, where each object has "category" (string from the allowed list), "predictedAmount" (number), and "period" (string) fields.
Also, provide a summary of the predicted expenses.

Ensure the predicted expenses include all known recurring payments such as rent, mortgage, subscriptions, etc., based on the historical data.
If the historical data is insufficient to make specific predictions for itemized expenses, return an empty array for "predictedExpenses" and explain this in the "summary".

Respond with a single JSON object of the form {"predictedExpenses": [...], "summary": "..."}.
`))

func categoryList() string {
	cats := core.ExpenseCategories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// RenderPrompt fills the fixed template with serialized history and period.
func RenderPrompt(historyJSON, period string) (string, error) {
	var b strings.Builder
	err := promptTemplate.Execute(&b, struct {
		History    string
		Period     string
		Categories string
	}{historyJSON, period, categoryList()})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
