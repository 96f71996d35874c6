package kit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("resp=%v err=%v", resp, err)
	}
	want := "a_before b_before endpoint b_after a_after"
	if got := strings.Join(order, " "); got != want {
		t.Fatalf("order: got %q, want %q", got, want)
	}
}

func TestLogging_PassesThroughErrors(t *testing.T) {
	errFail := errors.New("fail")
	ep := Logging(nil, "test")(func(context.Context, any) (any, error) { return nil, errFail })
	if _, err := ep(WithTraceID(context.Background(), "abc"), nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v", err)
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" || GetTraceID(ctx) != "" {
		t.Fatal("defaults")
	}
	ctx = WithTraceID(WithTransport(ctx, "mcp"), "t1")
	if GetTransport(ctx) != "mcp" || GetTraceID(ctx) != "t1" {
		t.Fatal("values not carried")
	}
	if c := CallFrom(WithTransport(ctx, "http")); c.TraceID != "t1" || c.Transport != "http" {
		t.Fatalf("overwriting transport dropped trace: %+v", c)
	}
}

func TestRegisterTool(t *testing.T) {
	// WHAT: Arguments decode into the typed request; endpoint errors come
	// back as tool errors; the endpoint sees the mcp transport.
	type echoReq struct {
		Name string `json:"name"`
	}
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	RegisterTool[echoReq](srv, &mcp.Tool{
		Name:        "echo",
		Description: "echo a name",
		InputSchema: InputSchema(map[string]any{"name": map[string]any{"type": "string"}}, "name"),
	}, func(ctx context.Context, r any) (any, error) {
		p := r.(*echoReq)
		if p.Name == "" {
			return nil, errors.New("name required")
		}
		c := CallFrom(ctx)
		return map[string]string{"name": p.Name, "transport": c.Transport, "trace": c.TraceID}, nil
	})

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { session.Close() })

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"name": "va"}})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &got); err != nil {
		t.Fatal(err)
	}
	if got["name"] != "va" || got["transport"] != "mcp" || got["trace"] == "" {
		t.Fatalf("got %v", got)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"name": ""}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("empty name should be a tool error")
	}
}
