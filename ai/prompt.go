package ai

import (
	"strings"
)

const extractionPrompt = `You extract data from receipts, invoices and payslips.

Analyse the following OCR text of a financial document and return ONLY a valid JSON object.

STRICT RULES:
- Return ONLY the JSON, no text before or after
- NO comments (// or /* */) inside the JSON
- Use null for any information you cannot find
- Amounts are the final amount including taxes
- Use 1 for unspecified quantities
- The default currency is EUR
- A receipt or an invoice is usually an expense (is_income: false)
- A payslip is income (is_income: true)
- Include EVERY item found in the document
- confidence is your confidence in the extraction, from 0 to 100

Expected JSON format:
{
    "doc_type": "receipt|invoice|payslip|other",
    "date": "YYYY-MM-DD",
    "time": "HH:MM",
    "merchant": "merchant or company name",
    "location": "full address if available",
    "items": [
        {
            "name": "item name",
            "quantity": 1,
            "unit": "piece|kg|L",
            "unit_price": 0.00,
            "total_price": 0.00,
            "category": "item category"
        }
    ],
    "total_amount": 0.00,
    "currency": "EUR",
    "is_income": false,
    "confidence": 0,
    "suggested_tags": ["tag1", "tag2"]
}
`

// BuildPrompt renders the extraction prompt for text. When tags is empty the
// model is told to leave suggested_tags empty.
func BuildPrompt(text string, tags []string) string {
	var b strings.Builder
	b.WriteString(extractionPrompt)
	if len(tags) > 0 {
		b.WriteString("\nAvailable tags (pick only from these): ")
		b.WriteString(strings.Join(tags, ", "))
		b.WriteString("\n")
	} else {
		b.WriteString("\nNo tags available, leave suggested_tags as [].\n")
	}
	b.WriteString("\nOCR text to analyse:\n")
	b.WriteString(text)
	return b.String()
}
