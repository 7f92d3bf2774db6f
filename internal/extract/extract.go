// Package extract turns a raw webhook request into a working payload mapping.
//
// Alert senders are not controllable: bodies arrive as JSON, double-encoded
// JSON strings, form fields, key=value text, or free text with the fields
// buried inside. Extraction is a priority chain of strategies tried in order;
// the first one that yields a non-empty mapping wins. Extraction never fails:
// total defeat yields an empty mapping, which callers treat as "no data".
package extract

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// Strategy names reported alongside the extracted mapping. The extractor
// itself never logs; callers use the name for diagnostics and metrics.
const (
	StrategyJSONBody   = "json_body"
	StrategyForm       = "form"
	StrategyRawJSON    = "raw_json"
	StrategyQuotedJSON = "quoted_json"
	StrategyBraceScan  = "brace_scan"
	StrategyKeyValue   = "key_value"
	StrategyRegex      = "regex"
	StrategyWrapped    = "wrapped_text"
	StrategyQuery      = "query"
	StrategyNone       = ""
)

// formFields are the field names lifted from form-encoded requests.
var formFields = []string{"symbol", "ticker", "signal", "action", "order", "alert_type", "price", "close", "value", "strength", "timeframe"}

var (
	symbolRe = regexp.MustCompile(`(?i)\b(?:symbol|ticker)\b\s*[:=]\s*"?([A-Za-z0-9:._/-]+)"?`)
	signalRe = regexp.MustCompile(`(?i)\b(?:signal|action|order)\b\s*[:=]\s*"?([A-Za-z_-]+)"?`)
	priceRe  = regexp.MustCompile(`(?i)\bprice\b\s*[:=]\s*"?([0-9]+(?:\.[0-9]+)?)"?`)
)

// Extract resolves the working mapping for one request. It returns the
// mapping (possibly empty) and the name of the strategy that produced it.
// The chain is a strict priority order, not a merge: a JSON body shadows
// form fields, which shadow the raw-text fallbacks, which shadow query
// parameters.
func Extract(body []byte, contentType string, form url.Values, query url.Values) (map[string]any, string) {
	if isJSONContentType(contentType) {
		if m := parseJSONObject(body); len(m) > 0 {
			return m, StrategyJSONBody
		}
	}

	if m := fromForm(form); len(m) > 0 {
		return m, StrategyForm
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return fromRawText(text)
	}

	if m := fromQuery(query); len(m) > 0 {
		return m, StrategyQuery
	}

	return map[string]any{}, StrategyNone
}

// fromRawText walks the raw-text fallback ladder. text is non-blank.
func fromRawText(text string) (map[string]any, string) {
	if m := parseJSONObject([]byte(text)); len(m) > 0 {
		return m, StrategyRawJSON
	}

	if m := parseQuotedJSON(text); len(m) > 0 {
		return m, StrategyQuotedJSON
	}

	if m := parseBraceSubstring(text); len(m) > 0 {
		return m, StrategyBraceScan
	}

	if m := parseKeyValue(text); len(m) > 0 {
		return m, StrategyKeyValue
	}

	if m := parseLooseFields(text); len(m) > 0 {
		return m, StrategyRegex
	}

	return map[string]any{"message": text}, StrategyWrapped
}

// parseJSONObject parses data as a JSON object. Arrays, scalars and invalid
// JSON all yield nil.
func parseJSONObject(data []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// parseQuotedJSON recovers JSON that was serialized twice, arriving as a
// quoted string with escaped inner quotes.
func parseQuotedJSON(text string) map[string]any {
	// A well-formed double encoding is a JSON string literal; unmarshal it
	// to undo one layer of escaping.
	var inner string
	if err := json.Unmarshal([]byte(text), &inner); err == nil {
		if m := parseJSONObject([]byte(inner)); len(m) > 0 {
			return m
		}
	}

	// Sloppy senders wrap JSON in quotes without escaping. Strip one layer
	// of enclosing single or double quotes and retry.
	if len(text) >= 2 {
		first, last := text[0], text[len(text)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return parseJSONObject([]byte(text[1 : len(text)-1]))
		}
	}

	return nil
}

// parseBraceSubstring finds the outermost brace-delimited span in free text
// and parses it as JSON. Handles alerts that prepend commentary before the
// payload proper.
func parseBraceSubstring(text string) map[string]any {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil
	}
	return parseJSONObject([]byte(text[start : end+1]))
}

// parseKeyValue parses key=value&key=value text, accepting newlines as
// separators too.
func parseKeyValue(text string) map[string]any {
	if !strings.Contains(text, "=") {
		return nil
	}

	normalized := strings.NewReplacer("\r\n", "&", "\n", "&", "\r", "&").Replace(text)
	values, err := url.ParseQuery(normalized)
	if err != nil {
		return nil
	}

	m := make(map[string]any, len(values))
	for key, vals := range values {
		key = strings.TrimSpace(key)
		if key == "" || len(vals) == 0 {
			continue
		}
		m[key] = strings.TrimSpace(vals[0])
	}
	return m
}

// parseLooseFields scrapes symbol/signal/price occurrences out of free text.
// Last resort before giving up on structure entirely.
func parseLooseFields(text string) map[string]any {
	m := make(map[string]any, 3)
	if match := symbolRe.FindStringSubmatch(text); match != nil {
		m["symbol"] = match[1]
	}
	if match := signalRe.FindStringSubmatch(text); match != nil {
		m["signal"] = match[1]
	}
	if match := priceRe.FindStringSubmatch(text); match != nil {
		m["price"] = match[1]
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// fromForm lifts the known field names out of form-encoded values.
func fromForm(form url.Values) map[string]any {
	if len(form) == 0 {
		return nil
	}
	m := make(map[string]any)
	for _, field := range formFields {
		if v := form.Get(field); v != "" {
			m[field] = v
		}
	}
	return m
}

// fromQuery uses query parameters verbatim (GET-style test invocations).
func fromQuery(query url.Values) map[string]any {
	if len(query) == 0 {
		return nil
	}
	m := make(map[string]any, len(query))
	for key, vals := range query {
		if key == "" || len(vals) == 0 {
			continue
		}
		m[key] = vals[0]
	}
	return m
}

func isJSONContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}
