package mcp

import (
	"encoding/json"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"get_weather","arguments":{"city":"Boston"}}}`)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Method() != "tools/call" {
		t.Errorf("Method() = %q, want tools/call", msg.Method())
	}
	if msg.IsNotification() {
		t.Error("IsNotification() = true for request with id")
	}
	if string(msg.RawID()) != "7" {
		t.Errorf("RawID() = %s, want 7", msg.RawID())
	}

	params := msg.ParseParams()
	if params["name"] != "get_weather" {
		t.Errorf("params.name = %v, want get_weather", params["name"])
	}
	args, ok := params["arguments"].(map[string]interface{})
	if !ok || args["city"] != "Boston" {
		t.Errorf("params.arguments = %v", params["arguments"])
	}
}

func TestDecodeNotification(t *testing.T) {
	for _, raw := range []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":null,"method":"notifications/initialized"}`,
	} {
		msg, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%s): %v", raw, err)
		}
		if !msg.IsNotification() {
			t.Errorf("IsNotification() = false for %s", raw)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"jsonrpc":"2.0",`)); err == nil {
		t.Error("Decode accepted truncated JSON")
	}
	if _, err := Decode(nil); err == nil {
		t.Error("Decode accepted empty input")
	}
}

func TestEncodeResult(t *testing.T) {
	out, err := EncodeResult(json.RawMessage(`"abc"`), map[string]string{"ok": "yes"})
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}

	var envelope struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      json.RawMessage   `json:"id"`
		Result  map[string]string `json:"result"`
	}
	if err := json.Unmarshal(out, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q", envelope.JSONRPC)
	}
	if string(envelope.ID) != `"abc"` {
		t.Errorf("id = %s, want \"abc\"", envelope.ID)
	}
	if envelope.Result["ok"] != "yes" {
		t.Errorf("result = %v", envelope.Result)
	}
}

func TestEncodeErrorPlaceholderID(t *testing.T) {
	out, err := EncodeError(nil, ErrCodeParse, "parse error", nil)
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}

	var envelope struct {
		ID    json.RawMessage `json:"id"`
		Error ErrorDetail     `json:"error"`
	}
	if err := json.Unmarshal(out, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(envelope.ID) != "0" {
		t.Errorf("id = %s, want placeholder 0", envelope.ID)
	}
	if envelope.Error.Code != ErrCodeParse {
		t.Errorf("code = %d, want %d", envelope.Error.Code, ErrCodeParse)
	}
}

func TestEncodeErrorWithData(t *testing.T) {
	out, err := EncodeError(json.RawMessage("3"), ErrCodeInvalidParams, "unknown argument", map[string][]string{"unknown": {"citty"}})
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}

	var envelope struct {
		Error struct {
			Data map[string][]string `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(out, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := envelope.Error.Data["unknown"]; len(got) != 1 || got[0] != "citty" {
		t.Errorf("error.data.unknown = %v", got)
	}
}
