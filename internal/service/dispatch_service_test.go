package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/toolbridge/toolbridge/internal/adapter/outbound/cel"
	"github.com/toolbridge/toolbridge/internal/adapter/outbound/store"
	"github.com/toolbridge/toolbridge/internal/adapter/outbound/upstream"
	"github.com/toolbridge/toolbridge/internal/domain/catalog"
)

type dispatchFixture struct {
	store  *store.Elevated
	svc    *DispatchService
	server *catalog.ToolServer
}

// rpcEnvelope is the decoded half of a JSON-RPC response used in assertions.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int64           `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func newDispatchFixture(t *testing.T, upstreamURL string) *dispatchFixture {
	t.Helper()
	st, err := store.New(":memory:", discardLogger())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	e := st.Elevated()
	ctx := context.Background()

	srv := &catalog.ToolServer{Slug: "weather", Name: "Weather Tools", Visibility: catalog.VisibilityPublic, Enabled: true, OwnerID: "owner-1"}
	if err := e.CreateServer(ctx, srv); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	tool := &catalog.Tool{
		ServerID:    srv.ID,
		Name:        "get_weather",
		Description: "Current conditions for a city",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"},"units":{"type":"string"}},"required":["city"]}`),
		ResourceURI: "tool://get_weather",
		Enabled:     true,
	}
	if err := e.CreateTool(ctx, tool); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}

	api := &catalog.UpstreamAPI{
		Name:    "weatherapi",
		Method:  "GET",
		URL:     upstreamURL + "/weather",
		Enabled: true,
		QueryParams: []catalog.TemplateParam{
			{Name: "location", Value: "{location}"},
		},
	}
	if err := e.CreateAPI(ctx, api); err != nil {
		t.Fatalf("CreateAPI: %v", err)
	}
	if err := e.UpsertMapping(ctx, &catalog.Mapping{
		ToolID: tool.ID,
		APIID:  api.ID,
		Fields: []catalog.FieldMapping{
			{ToolField: "city", APIField: "location", Transformation: catalog.TransformDirect},
		},
	}); err != nil {
		t.Fatalf("UpsertMapping: %v", err)
	}

	eval, err := cel.NewEvaluator()
	if err != nil {
		t.Fatalf("cel.NewEvaluator: %v", err)
	}
	invoker := upstream.NewInvoker(discardLogger())
	svc := NewDispatchService(e, eval, invoker, nil, discardLogger())
	return &dispatchFixture{store: e, svc: svc, server: srv}
}

func handle(t *testing.T, f *dispatchFixture, body string) rpcEnvelope {
	t.Helper()
	out := f.svc.Handle(context.Background(), f.server, []byte(body))
	var env rpcEnvelope
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("response not JSON: %v\n%s", err, out)
	}
	if env.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q", env.JSONRPC)
	}
	return env
}

func TestHandleInitialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	if env.Error != nil {
		t.Fatalf("error: %+v", env.Error)
	}
	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		Capabilities    struct {
			Tools     json.RawMessage `json:"tools"`
			Resources json.RawMessage `json:"resources"`
		} `json:"capabilities"`
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.ProtocolVersion == "" {
		t.Error("no protocolVersion")
	}
	if result.Capabilities.Tools == nil || result.Capabilities.Resources == nil {
		t.Error("server with enabled tools must advertise tools and resources capabilities")
	}
	if result.ServerInfo.Name != "Weather Tools" || result.ServerInfo.Version != serverVersion {
		t.Errorf("serverInfo = %+v", result.ServerInfo)
	}
}

func TestHandleToolsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if env.Error != nil {
		t.Fatalf("error: %+v", env.Error)
	}
	var result struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema struct {
				Type       string                     `json:"type"`
				Properties map[string]json.RawMessage `json:"properties"`
				Required   []string                   `json:"required"`
			} `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(result.Tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(result.Tools))
	}
	tool := result.Tools[0]
	if tool.Name != "get_weather" {
		t.Errorf("name = %q", tool.Name)
	}
	if tool.InputSchema.Type != "object" {
		t.Errorf("schema type = %q, want normalized object schema", tool.InputSchema.Type)
	}
	if _, ok := tool.InputSchema.Properties["city"]; !ok {
		t.Error("schema missing city property")
	}
	if _, ok := tool.InputSchema.Properties["units"]; !ok {
		t.Error("schema missing units property")
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "city" {
		t.Errorf("required = %v, want [city]", tool.InputSchema.Required)
	}
}

func TestHandleToolsCall(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp": 61, "conditions": "fog"}`))
	}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_weather","arguments":{"city":"Boston"}}}`)
	if env.Error != nil {
		t.Fatalf("error: %+v", env.Error)
	}
	if gotQuery != "location=Boston" {
		t.Errorf("upstream query = %q, want location=Boston", gotQuery)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.IsError {
		t.Error("2xx upstream must not set isError")
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("content = %+v", result.Content)
	}

	var wrapped struct {
		Status  int                    `json:"status"`
		Headers map[string]string      `json:"headers"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &wrapped); err != nil {
		t.Fatalf("wrapped body not JSON: %v", err)
	}
	if wrapped.Status != 200 {
		t.Errorf("status = %d", wrapped.Status)
	}
	if wrapped.Data["conditions"] != "fog" {
		t.Errorf("data = %v", wrapped.Data)
	}
}

func TestHandleToolsCallUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"get_weather","arguments":{"city":"Boston"}}}`)
	if env.Error != nil {
		t.Fatalf("upstream 5xx must not be a protocol error: %+v", env.Error)
	}
	var result struct {
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !result.IsError {
		t.Error("status >= 400 must set isError")
	}
}

func TestHandleToolsCallUnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	f := newDispatchFixture(t, url)

	env := handle(t, f, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"get_weather","arguments":{"city":"Boston"}}}`)
	if env.Error != nil {
		t.Fatalf("unreachable upstream must not be a protocol error: %+v", env.Error)
	}
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !result.IsError {
		t.Error("unreachable upstream must set isError")
	}
	if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, "upstream error") {
		t.Errorf("content = %+v", result.Content)
	}
}

func TestHandleToolsCallRejectsBadArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for rejected arguments")
	}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"get_weather","arguments":{"citty":"Boston"}}}`)
	if env.Error == nil {
		t.Fatal("expected invalid params error")
	}
	if env.Error.Code != -32602 {
		t.Errorf("code = %d, want -32602", env.Error.Code)
	}
	var data struct {
		Unknown  []string `json:"unknown"`
		Missing  []string `json:"missing"`
		Accepted []string `json:"accepted"`
	}
	if err := json.Unmarshal(env.Error.Data, &data); err != nil {
		t.Fatalf("decoding error data: %v", err)
	}
	if len(data.Unknown) != 1 || data.Unknown[0] != "citty" {
		t.Errorf("unknown = %v", data.Unknown)
	}
	if len(data.Missing) != 1 || data.Missing[0] != "city" {
		t.Errorf("missing = %v", data.Missing)
	}
	if len(data.Accepted) == 0 {
		t.Error("accepted argument names must be listed")
	}
}

func TestHandleToolsCallUnknownTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)
	if env.Error == nil || env.Error.Code != -32602 {
		t.Fatalf("error = %+v, want -32602", env.Error)
	}
}

func TestHandleToolsCallMissingMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)
	ctx := context.Background()

	unmapped := &catalog.Tool{
		ServerID:    f.server.ID,
		Name:        "orphan",
		InputSchema: json.RawMessage(`{}`),
		Enabled:     true,
	}
	if err := f.store.CreateTool(ctx, unmapped); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}

	env := handle(t, f, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"orphan"}}`)
	if env.Error == nil || env.Error.Code != -32000 {
		t.Fatalf("error = %+v, want -32000", env.Error)
	}
	if !strings.Contains(env.Error.Message, "mapping") {
		t.Errorf("message %q should point at the missing mapping", env.Error.Message)
	}
}

func TestHandleNotification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if env.Error != nil {
		t.Errorf("notification must not produce an error: %+v", env.Error)
	}
}

func TestHandleMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{not json`)
	if env.Error == nil || env.Error.Code != -32700 {
		t.Fatalf("error = %+v, want -32700", env.Error)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{"jsonrpc":"2.0","id":9,"method":"prompts/list"}`)
	if env.Error == nil || env.Error.Code != -32601 {
		t.Fatalf("error = %+v, want -32601", env.Error)
	}
	if !strings.Contains(env.Error.Message, "prompts/list") {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestHandleResourcesListAndRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp": 55}`))
	}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)

	env := handle(t, f, `{"jsonrpc":"2.0","id":10,"method":"resources/list"}`)
	if env.Error != nil {
		t.Fatalf("error: %+v", env.Error)
	}
	var listResult struct {
		Resources []struct {
			URI      string `json:"uri"`
			Name     string `json:"name"`
			MimeType string `json:"mimeType"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(env.Result, &listResult); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(listResult.Resources) != 1 {
		t.Fatalf("resources = %d, want 1", len(listResult.Resources))
	}
	if listResult.Resources[0].URI != "tool://get_weather" {
		t.Errorf("uri = %q", listResult.Resources[0].URI)
	}

	// Read without params returns the static description.
	env = handle(t, f, `{"jsonrpc":"2.0","id":11,"method":"resources/read","params":{"uri":"tool://get_weather"}}`)
	if env.Error != nil {
		t.Fatalf("error: %+v", env.Error)
	}
	var readResult struct {
		Contents []struct {
			URI      string `json:"uri"`
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(env.Result, &readResult); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(readResult.Contents) != 1 || readResult.Contents[0].MimeType != "text/plain" {
		t.Fatalf("contents = %+v", readResult.Contents)
	}
	if readResult.Contents[0].Text != "Current conditions for a city" {
		t.Errorf("text = %q", readResult.Contents[0].Text)
	}

	// Read with params invokes the upstream.
	env = handle(t, f, `{"jsonrpc":"2.0","id":12,"method":"resources/read","params":{"uri":"tool://get_weather","params":{"city":"Seattle"}}}`)
	if env.Error != nil {
		t.Fatalf("error: %+v", env.Error)
	}
	if err := json.Unmarshal(env.Result, &readResult); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(readResult.Contents) != 1 || readResult.Contents[0].MimeType != "application/json" {
		t.Fatalf("contents = %+v", readResult.Contents)
	}
	if !strings.Contains(readResult.Contents[0].Text, `"temp":55`) {
		t.Errorf("text = %q", readResult.Contents[0].Text)
	}

	// Unknown URI.
	env = handle(t, f, `{"jsonrpc":"2.0","id":13,"method":"resources/read","params":{"uri":"tool://nope"}}`)
	if env.Error == nil || env.Error.Code != -32602 {
		t.Fatalf("error = %+v, want -32602", env.Error)
	}
}

func TestHandleDisabledToolHidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newDispatchFixture(t, srv.URL)
	ctx := context.Background()

	disabled := &catalog.Tool{
		ServerID:    f.server.ID,
		Name:        "hidden",
		InputSchema: json.RawMessage(`{}`),
		ResourceURI: "tool://hidden",
		Enabled:     false,
	}
	if err := f.store.CreateTool(ctx, disabled); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}

	env := handle(t, f, `{"jsonrpc":"2.0","id":14,"method":"tools/list"}`)
	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	for _, tool := range result.Tools {
		if tool.Name == "hidden" {
			t.Error("disabled tool listed")
		}
	}

	env = handle(t, f, `{"jsonrpc":"2.0","id":15,"method":"tools/call","params":{"name":"hidden"}}`)
	if env.Error == nil || env.Error.Code != -32602 {
		t.Fatalf("error = %+v, disabled tool must be unknown", env.Error)
	}
}
