package extract

import (
	"net/url"
	"reflect"
	"testing"
)

func TestExtractJSONBody(t *testing.T) {
	body := []byte(`{"symbol":"btcusdt","signal":"long","price":"50000.5"}`)
	m, strategy := Extract(body, "application/json", nil, nil)

	if strategy != StrategyJSONBody {
		t.Fatalf("Expected strategy %q, got %q", StrategyJSONBody, strategy)
	}
	if m["symbol"] != "btcusdt" || m["signal"] != "long" || m["price"] != "50000.5" {
		t.Errorf("Unexpected mapping: %v", m)
	}
}

func TestExtractJSONBodyWithoutContentType(t *testing.T) {
	body := []byte(`{"symbol":"ETH","signal":"short","price":2800}`)
	m, strategy := Extract(body, "", nil, nil)

	if strategy != StrategyRawJSON {
		t.Fatalf("Expected strategy %q, got %q", StrategyRawJSON, strategy)
	}
	if m["symbol"] != "ETH" {
		t.Errorf("Unexpected mapping: %v", m)
	}
	if price, ok := m["price"].(float64); !ok || price != 2800 {
		t.Errorf("Expected numeric price 2800, got %v", m["price"])
	}
}

func TestExtractForm(t *testing.T) {
	form := url.Values{}
	form.Set("symbol", "AAPL")
	form.Set("action", "buy")
	form.Set("price", "180.5")
	form.Set("unrelated", "ignored")

	m, strategy := Extract(nil, "application/x-www-form-urlencoded", form, nil)

	if strategy != StrategyForm {
		t.Fatalf("Expected strategy %q, got %q", StrategyForm, strategy)
	}
	want := map[string]any{"symbol": "AAPL", "action": "buy", "price": "180.5"}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("Expected %v, got %v", want, m)
	}
}

func TestExtractDoubleEncodedJSON(t *testing.T) {
	// JSON serialized twice arrives as a quoted string with escaped quotes.
	body := []byte(`"{\"symbol\":\"BTC\",\"signal\":\"long\",\"price\":50000}"`)
	m, strategy := Extract(body, "text/plain", nil, nil)

	if strategy != StrategyQuotedJSON {
		t.Fatalf("Expected strategy %q, got %q", StrategyQuotedJSON, strategy)
	}
	if m["symbol"] != "BTC" || m["signal"] != "long" {
		t.Errorf("Unexpected mapping: %v", m)
	}
}

func TestExtractNaivelyQuotedJSON(t *testing.T) {
	body := []byte(`'{"symbol":"SOL","signal":"buy","price":150}'`)
	m, strategy := Extract(body, "", nil, nil)

	if strategy != StrategyQuotedJSON {
		t.Fatalf("Expected strategy %q, got %q", StrategyQuotedJSON, strategy)
	}
	if m["symbol"] != "SOL" {
		t.Errorf("Unexpected mapping: %v", m)
	}
}

func TestExtractBraceSubstring(t *testing.T) {
	body := []byte(`Alert fired! {"symbol":"DOGE","signal":"sell","price":0.12} sent by bot`)
	m, strategy := Extract(body, "text/plain", nil, nil)

	if strategy != StrategyBraceScan {
		t.Fatalf("Expected strategy %q, got %q", StrategyBraceScan, strategy)
	}
	if m["symbol"] != "DOGE" {
		t.Errorf("Unexpected mapping: %v", m)
	}
}

func TestExtractKeyValue(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"ampersand separated", "symbol=ETH&signal=SHORT&price=2800"},
		{"newline separated", "symbol=ETH\nsignal=SHORT\nprice=2800"},
		{"crlf separated", "symbol=ETH\r\nsignal=SHORT\r\nprice=2800"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, strategy := Extract([]byte(tt.body), "", nil, nil)
			if strategy != StrategyKeyValue {
				t.Fatalf("Expected strategy %q, got %q", StrategyKeyValue, strategy)
			}
			if m["symbol"] != "ETH" || m["signal"] != "SHORT" || m["price"] != "2800" {
				t.Errorf("Unexpected mapping: %v", m)
			}
		})
	}
}

func TestExtractRegexFallback(t *testing.T) {
	body := []byte(`New alert: symbol: BTCUSDT signal: long price: 50000.5 enjoy`)
	m, strategy := Extract(body, "text/plain", nil, nil)

	if strategy != StrategyRegex {
		t.Fatalf("Expected strategy %q, got %q", StrategyRegex, strategy)
	}
	if m["symbol"] != "BTCUSDT" || m["signal"] != "long" || m["price"] != "50000.5" {
		t.Errorf("Unexpected mapping: %v", m)
	}
}

func TestExtractWrapsUnstructuredText(t *testing.T) {
	body := []byte("something happened on the chart")
	m, strategy := Extract(body, "text/plain", nil, nil)

	if strategy != StrategyWrapped {
		t.Fatalf("Expected strategy %q, got %q", StrategyWrapped, strategy)
	}
	if m["message"] != "something happened on the chart" {
		t.Errorf("Unexpected mapping: %v", m)
	}
}

func TestExtractQueryParams(t *testing.T) {
	query := url.Values{}
	query.Set("symbol", "TSLA")
	query.Set("signal", "buy")
	query.Set("price", "250")

	m, strategy := Extract(nil, "", nil, query)

	if strategy != StrategyQuery {
		t.Fatalf("Expected strategy %q, got %q", StrategyQuery, strategy)
	}
	if m["symbol"] != "TSLA" || m["signal"] != "buy" {
		t.Errorf("Unexpected mapping: %v", m)
	}
}

func TestExtractEmptyRequest(t *testing.T) {
	m, strategy := Extract(nil, "", nil, nil)

	if strategy != StrategyNone {
		t.Fatalf("Expected no strategy, got %q", strategy)
	}
	if len(m) != 0 {
		t.Errorf("Expected empty mapping, got %v", m)
	}
}

func TestExtractPriorityJSONOverQuery(t *testing.T) {
	// A parsable body shadows query parameters: priority chain, not merge.
	query := url.Values{}
	query.Set("symbol", "FROMQUERY")

	body := []byte(`{"symbol":"FROMBODY","signal":"long","price":1}`)
	m, strategy := Extract(body, "application/json", nil, query)

	if strategy != StrategyJSONBody {
		t.Fatalf("Expected strategy %q, got %q", StrategyJSONBody, strategy)
	}
	if m["symbol"] != "FROMBODY" {
		t.Errorf("Expected body to win over query, got %v", m)
	}
}

func TestExtractInvalidJSONContentType(t *testing.T) {
	// Declared JSON that does not parse falls through to the raw-text chain.
	body := []byte("symbol=LINK&signal=long&price=14")
	m, strategy := Extract(body, "application/json", nil, nil)

	if strategy != StrategyKeyValue {
		t.Fatalf("Expected strategy %q, got %q", StrategyKeyValue, strategy)
	}
	if m["symbol"] != "LINK" {
		t.Errorf("Unexpected mapping: %v", m)
	}
}

func TestExtractNeverPanics(t *testing.T) {
	bodies := [][]byte{
		[]byte("{"),
		[]byte("}"),
		[]byte(`"`),
		[]byte("''"),
		[]byte("=&=&="),
		[]byte("\x00\x01\x02"),
		[]byte(`{"nested":{"deep":{"broken":`),
	}
	for _, body := range bodies {
		m, _ := Extract(body, "application/json", nil, nil)
		if m == nil {
			t.Errorf("Extract returned nil mapping for %q", body)
		}
	}
}
