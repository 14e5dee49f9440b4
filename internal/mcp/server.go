package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"plangate/internal/gate"
	"plangate/internal/registry"
	"plangate/pkg/models"
)

// GateService is what the MCP tools call into.
type GateService interface {
	Validate(ctx context.Context, plan *models.ExecutionPlan) (*models.ValidationResult, error)
	Statistics() gate.StatisticsReport
	Health() gate.Health
	SearchRegistry(query string, kind registry.Kind, limit int) []registry.Match
}

type Server struct {
	mcpServer *server.MCPServer
	gate      GateService
}

func NewServer(svc GateService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Plan Gate",
			gate.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		gate: svc,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_plan",
			mcp.WithDescription("Validate an execution plan against the registry before running it. Misspelled node, workflow and tool names are corrected when a close registry name exists."),
			mcp.WithObject("plan", mcp.Required(), mcp.Description("The execution plan: nodes_to_invoke, workflows_to_execute, tools_to_use and services_required, each a list of names or {\"name\": ...} objects")),
		),
		s.handleValidatePlan,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"gate_statistics",
			mcp.WithDescription("Report validation counters, error patterns and recent corrections"),
		),
		s.handleStatistics,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"gate_health",
			mcp.WithDescription("Report the health of the plan gate"),
		),
		s.handleHealth,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"search_registry",
			mcp.WithDescription("Find registry names matching a query"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Characters to look for, in order")),
			mcp.WithString("kind", mcp.Description("Restrict the search to node, workflow, tool or service")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of matches, 20 when omitted")),
		),
		s.handleSearchRegistry,
	)
}

func (s *Server) handleValidatePlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	rawPlan, ok := args["plan"]
	if !ok || rawPlan == nil {
		return mcp.NewToolResultError("Missing required parameter: plan"), nil
	}
	// Clients sometimes send the plan as a JSON string rather than an object.
	var data []byte
	if text, isText := rawPlan.(string); isText {
		data = []byte(text)
	} else {
		var err error
		if data, err = json.Marshal(rawPlan); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid plan: %v", err)), nil
		}
	}

	plan, err := models.DecodePlan(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid plan: %v", err)), nil
	}

	result, err := s.gate.Validate(ctx, plan)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to validate: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, _ := json.Marshal(s.gate.Statistics())
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, _ := json.Marshal(s.gate.Health())
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleSearchRegistry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}

	kindArg, _ := args["kind"].(string)
	kind, err := registry.ParseKind(kindArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	limit := 20
	if raw, present := args["limit"]; present {
		n, isNumber := raw.(float64)
		if !isNumber || n < 0 {
			return mcp.NewToolResultError("Parameter limit must be a non-negative number"), nil
		}
		limit = int(n)
	}

	jsonBytes, _ := json.Marshal(s.gate.SearchRegistry(query, kind, limit))
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
