package kit

import "context"

// Call describes how a request reached an Endpoint.
type Call struct {
	Transport string // "http" or "mcp"
	TraceID   string
}

type callKey struct{}

// WithCall attaches c to ctx, replacing any previous Call.
func WithCall(ctx context.Context, c Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFrom returns the Call carried by ctx. Transport defaults to "http".
func CallFrom(ctx context.Context) Call {
	c, _ := ctx.Value(callKey{}).(Call)
	if c.Transport == "" {
		c.Transport = "http"
	}
	return c
}

func WithTransport(ctx context.Context, t string) context.Context {
	c := CallFrom(ctx)
	c.Transport = t
	return WithCall(ctx, c)
}

func GetTransport(ctx context.Context) string { return CallFrom(ctx).Transport }

func WithTraceID(ctx context.Context, id string) context.Context {
	c := CallFrom(ctx)
	c.TraceID = id
	return WithCall(ctx, c)
}

func GetTraceID(ctx context.Context) string { return CallFrom(ctx).TraceID }
