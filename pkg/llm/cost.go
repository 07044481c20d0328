package llm

import "strings"

// modelRate holds per-million-token USD prices.
type modelRate struct {
	inPerM  float64
	outPerM float64
}

// costTable is keyed by model-name substring; first match wins. Prices are
// approximate and only used for operator-facing cost accounting.
var costTable = []struct {
	substr string
	rate   modelRate
}{
	{"opus", modelRate{inPerM: 15.0, outPerM: 75.0}},
	{"sonnet", modelRate{inPerM: 3.0, outPerM: 15.0}},
	{"haiku", modelRate{inPerM: 1.0, outPerM: 5.0}},
	{"gemini-2.5-pro", modelRate{inPerM: 1.25, outPerM: 10.0}},
	{"gpt-4o-mini", modelRate{inPerM: 0.15, outPerM: 0.60}},
	{"gpt-4o", modelRate{inPerM: 2.50, outPerM: 10.0}},
}

// EstimateCostUSD maps token counts and a model identifier to an approximate
// USD figure. Unknown models cost zero, which covers local inference.
func EstimateCostUSD(tokensIn, tokensOut int, model string) float64 {
	lower := strings.ToLower(model)
	for _, entry := range costTable {
		if strings.Contains(lower, entry.substr) {
			return float64(tokensIn)/1e6*entry.rate.inPerM +
				float64(tokensOut)/1e6*entry.rate.outPerM
		}
	}
	return 0
}
