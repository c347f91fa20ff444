// Package mcptools exposes the engine as MCP tools over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/elliotchance/pie/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agenthands/medrag/internal/core"
	"github.com/agenthands/medrag/internal/core/model"
)

const serverName = "medrag"

type Tools struct {
	engine *core.Engine
	logger *slog.Logger
}

func New(engine *core.Engine, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{engine: engine, logger: logger.With("component", "mcp")}
}

// NewServer builds an MCP server with every tool registered.
func NewServer(engine *core.Engine, version string, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer(serverName, version, server.WithToolCapabilities(false), server.WithRecovery())
	New(engine, logger).Register(s)
	return s
}

func kindNames() []string {
	return pie.Map(model.Kinds, func(k model.Kind) string { return string(k) })
}

func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Answer a medical question grounded in the knowledge graph. Returns the answer with cited entities and confidence."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question, in Chinese or pinyin")),
		mcp.WithNumber("max_hops", mcp.Description("Expansion depth from the linked entities (1-3)")),
		mcp.WithNumber("max_context_bytes", mcp.Description("Context budget in bytes")),
		mcp.WithArray("kind_hints", mcp.Description("Restrict linking to these entity kinds"),
			mcp.Items(map[string]any{"type": "string", "enum": kindNames()})),
	), t.Ask)

	s.AddTool(mcp.NewTool("link_entities",
		mcp.WithDescription("Find the graph entities mentioned in a piece of text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to scan for entity names")),
		mcp.WithArray("kind_hints", mcp.Description("Restrict linking to these entity kinds"),
			mcp.Items(map[string]any{"type": "string", "enum": kindNames()})),
	), t.LinkEntities)

	s.AddTool(mcp.NewTool("diagnose_by_symptoms",
		mcp.WithDescription("Rank diseases by how strongly they are associated with the given symptoms"),
		mcp.WithArray("symptoms", mcp.Required(), mcp.Description("Symptom names"), mcp.WithStringItems()),
		mcp.WithNumber("limit", mcp.Description("Maximum number of diseases, default 10")),
	), t.DiagnoseBySymptoms)

	s.AddTool(mcp.NewTool("disease_context",
		mcp.WithDescription("Symptoms, drugs, checks, departments, diet and prevention for one disease"),
		mcp.WithString("disease", mcp.Required(), mcp.Description("Disease name")),
	), t.DiseaseContext)

	s.AddTool(mcp.NewTool("drug_info",
		mcp.WithDescription("Description of a drug and the diseases it is recommended for"),
		mcp.WithString("drug", mcp.Required(), mcp.Description("Drug name")),
	), t.DrugInfo)

	s.AddTool(mcp.NewTool("disease_drugs",
		mcp.WithDescription("Drugs recommended for a disease, with usage and frequency where recorded"),
		mcp.WithString("disease", mcp.Required(), mcp.Description("Disease name")),
	), t.DiseaseDrugs)
}

type askResult struct {
	QueryID         string               `json:"query_id"`
	Answer          string               `json:"answer"`
	Confidence      float64              `json:"confidence"`
	Partial         bool                 `json:"partial"`
	RelatedEntities []model.LinkedEntity `json:"related_entities"`
	Citations       []model.Citation     `json:"citations"`
	Diagnostics     []model.Diagnostic   `json:"diagnostics,omitempty"`
}

func (t *Tools) Ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hints, err := kindHints(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := core.Options{
		MaxHops:         req.GetInt("max_hops", 0),
		MaxContextBytes: req.GetInt("max_context_bytes", 0),
		KindHints:       hints,
	}

	ans, err := t.engine.RetrieveAndAnswer(ctx, question, opts)
	if err != nil {
		t.logger.Error("ask tool failed", "query_id", ans.QueryID, "error", err)
		return mcp.NewToolResultError(model.Code(err) + ": " + err.Error()), nil
	}
	return jsonResult(askResult{
		QueryID:         ans.QueryID,
		Answer:          ans.Answer,
		Confidence:      ans.Confidence,
		Partial:         ans.Partial,
		RelatedEntities: ans.RelatedEntities,
		Citations:       ans.Citations,
		Diagnostics:     ans.Diagnostics,
	})
}

func (t *Tools) LinkEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hints, err := kindHints(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.engine.Link(ctx, text, core.Options{KindHints: hints})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Entities == nil {
		res.Entities = []model.LinkedEntity{}
	}
	return jsonResult(res.Entities)
}

func (t *Tools) DiagnoseBySymptoms(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symptoms, err := req.RequireStringSlice("symptoms")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	symptoms = pie.Filter(symptoms, func(s string) bool { return s != "" })
	if len(symptoms) == 0 {
		return mcp.NewToolResultError("at least one symptom is required"), nil
	}
	limit := req.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}
	matches, err := t.engine.DiagnoseBySymptoms(ctx, symptoms, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	type disease struct {
		Name        string  `json:"name"`
		TotalWeight float64 `json:"total_weight"`
		Matched     int     `json:"matched"`
	}
	out := make([]disease, 0, len(matches))
	for _, m := range matches {
		out = append(out, disease{Name: m.Node.Name, TotalWeight: m.TotalWeight, Matched: m.Matched})
	}
	return jsonResult(out)
}

func (t *Tools) DiseaseContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("disease")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rc, err := t.engine.DiseaseContext(ctx, name, core.Options{})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rc)
}

func (t *Tools) DrugInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("drug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := t.engine.LookupDrug(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (t *Tools) DiseaseDrugs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("disease")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	drugs, err := t.engine.DrugsForDisease(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(struct {
		Disease string         `json:"disease"`
		Drugs   []core.DrugUse `json:"drugs"`
		Count   int            `json:"count"`
	}{Disease: name, Drugs: drugs, Count: len(drugs)})
}

func kindHints(req mcp.CallToolRequest) ([]model.Kind, error) {
	raw := req.GetStringSlice("kind_hints", nil)
	out := make([]model.Kind, 0, len(raw))
	for _, s := range raw {
		k, err := model.ParseKind(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
