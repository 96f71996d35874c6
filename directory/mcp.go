package directory

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/GGPrompts/vibe4vets-sub003/kit"
)

// RegisterMCP registers the directory tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerStatus(srv)
	svc.registerScheduledJobs(srv)
	svc.registerJobHistory(srv)
	svc.registerRunJob(srv)
	svc.registerListResources(srv)
	svc.registerGetResource(srv)
	svc.registerMarkVerified(srv)
	svc.registerListReviews(srv)
	svc.registerResolveReview(srv)
	svc.registerAuditLog(srv)
}

func (svc *Service) tool(name string) kit.Middleware {
	return kit.Logging(svc.logger, name)
}

// --- Jobs ---

func (svc *Service) registerStatus(srv *mcp.Server) {
	type req struct{}
	kit.RegisterTool[req](srv, &mcp.Tool{
		Name:        "directory_status",
		Description: "Scheduler state, directory counters and registered connectors",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, svc.tool("directory_status")(func(ctx context.Context, _ any) (any, error) {
		return svc.Status(ctx)
	}))
}

func (svc *Service) registerScheduledJobs(srv *mcp.Server) {
	type req struct{}
	kit.RegisterTool[req](srv, &mcp.Tool{
		Name:        "directory_scheduled_jobs",
		Description: "List jobs with their cron schedules and next run time",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, svc.tool("directory_scheduled_jobs")(func(context.Context, any) (any, error) {
		return svc.ScheduledJobs(), nil
	}))
}

func (svc *Service) registerJobHistory(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}
	kit.RegisterTool[req](srv, &mcp.Tool{
		Name:        "directory_job_history",
		Description: "Recent job results, newest first",
		InputSchema: kit.InputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max results (default 20)"},
		}),
	}, svc.tool("directory_job_history")(func(_ context.Context, r any) (any, error) {
		p := r.(*req)
		if p.Limit <= 0 {
			p.Limit = 20
		}
		return nonNil(svc.History(p.Limit)), nil
	}))
}

func (svc *Service) registerRunJob(srv *mcp.Server) {
	type req struct {
		Name       string   `json:"name"`
		DryRun     bool     `json:"dry_run"`
		Connectors []string `json:"connectors"`
	}
	kit.RegisterTool[req](srv, &mcp.Tool{
		Name:        "directory_run_job",
		Description: "Run a job now and wait for its result: refresh, freshness, link_checker or cleanup",
		InputSchema: kit.InputSchema(map[string]any{
			"name":       map[string]any{"type": "string", "description": "Job name"},
			"dry_run":    map[string]any{"type": "boolean", "description": "refresh only: extract and plan without writing"},
			"connectors": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "refresh only: connector subset"},
		}, "name"),
	}, func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		params := JobParams{}
		if p.DryRun {
			params["dry_run"] = true
		}
		if len(p.Connectors) > 0 {
			params["connectors"] = p.Connectors
		}
		return svc.endpoints.runJob(ctx, &runJobRequest{Name: p.Name, Params: params, Wait: true})
	})
}

// --- Resources ---

func (svc *Service) registerListResources(srv *mcp.Server) {
	type req struct {
		Status   string `json:"status"`
		Category string `json:"category"`
		State    string `json:"state"`
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
	}
	kit.RegisterTool[req](srv, &mcp.Tool{
		Name:        "directory_list_resources",
		Description: "List resources ordered by trust score",
		InputSchema: kit.InputSchema(map[string]any{
			"status":   map[string]any{"type": "string", "description": "active, needs_review or inactive"},
			"category": map[string]any{"type": "string", "description": "Category filter"},
			"state":    map[string]any{"type": "string", "description": "Two-letter state filter"},
			"limit":    map[string]any{"type": "integer", "description": "Max results (default 50, max 500)"},
			"offset":   map[string]any{"type": "integer", "description": "Offset for pagination"},
		}),
	}, svc.tool("directory_list_resources")(func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.Limit <= 0 {
			p.Limit = 50
		}
		list, err := svc.ListResources(ctx, ResourceFilter{
			Status: p.Status, Category: p.Category, State: p.State,
			Limit: p.Limit, Offset: p.Offset,
		})
		return nonNil(list), err
	}))
}

func (svc *Service) registerGetResource(srv *mcp.Server) {
	type req struct {
		ID string `json:"id"`
	}
	kit.RegisterTool[req](srv, &mcp.Tool{
		Name:        "directory_get_resource",
		Description: "Get one resource with its scores",
		InputSchema: kit.InputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Resource ID"},
		}, "id"),
	}, svc.tool("directory_get_resource")(func(ctx context.Context, r any) (any, error) {
		return svc.GetResource(ctx, r.(*req).ID)
	}))
}

func (svc *Service) registerMarkVerified(srv *mcp.Server) {
	kit.RegisterTool[idRequest](srv, &mcp.Tool{
		Name:        "directory_mark_verified",
		Description: "Record a manual verification of a resource",
		InputSchema: kit.InputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Resource ID"},
		}, "id"),
	}, svc.endpoints.verify)
}

// --- Reviews ---

func (svc *Service) registerListReviews(srv *mcp.Server) {
	type req struct {
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}
	kit.RegisterTool[req](srv, &mcp.Tool{
		Name:        "directory_list_reviews",
		Description: "List queued risky-field changes",
		InputSchema: kit.InputSchema(map[string]any{
			"status": map[string]any{"type": "string", "description": "pending (default), approved or rejected"},
			"limit":  map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}),
	}, svc.tool("directory_list_reviews")(func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		list, err := svc.ListReviews(ctx, p.Status, p.Limit)
		return nonNil(list), err
	}))
}

func (svc *Service) registerResolveReview(srv *mcp.Server) {
	kit.RegisterTool[resolveRequest](srv, &mcp.Tool{
		Name:        "directory_resolve_review",
		Description: "Approve (apply) or reject a queued change",
		InputSchema: kit.InputSchema(map[string]any{
			"id":      map[string]any{"type": "string", "description": "Review ID"},
			"approve": map[string]any{"type": "boolean", "description": "true applies the change, false rejects it"},
		}, "id", "approve"),
	}, svc.endpoints.resolve)
}

func (svc *Service) registerAuditLog(srv *mcp.Server) {
	type req struct {
		Action string `json:"action"`
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}
	kit.RegisterTool[req](srv, &mcp.Tool{
		Name:        "directory_audit_log",
		Description: "Recorded admin actions (job runs, verifications, review decisions), newest first",
		InputSchema: kit.InputSchema(map[string]any{
			"action": map[string]any{"type": "string", "description": "run_job, mark_verified or resolve_review"},
			"status": map[string]any{"type": "string", "description": "success or error"},
			"limit":  map[string]any{"type": "integer", "description": "Max results (default 100)"},
		}),
	}, svc.tool("directory_audit_log")(func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		list, err := svc.AuditLog(ctx, AuditFilter{Action: p.Action, Status: p.Status, Limit: p.Limit})
		return nonNil(list), err
	}))
}
