package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"dealflow/internal/analytics"
	"dealflow/internal/domain"
)

// PipelineURI names the resource carrying the live board for the runtime.
const PipelineURI = "dealflow://pipeline"

type PipelineState struct {
	Summary analytics.Summary `json:"summary"`
	Deals   []DealView        `json:"deals"`
}

// DealView is one deal as the runtime sees it; the name is what the tools take.
type DealView struct {
	Name         string       `json:"name"`
	Company      string       `json:"company"`
	Value        float64      `json:"value"`
	Stage        domain.Stage `json:"stage"`
	StageLabel   string       `json:"stageLabel"`
	ContactName  string       `json:"contact,omitempty"`
	ContactEmail string       `json:"email,omitempty"`
}

func NewPipelineState(deals []domain.Deal) PipelineState {
	views := make([]DealView, 0, len(deals))
	for _, d := range deals {
		views = append(views, DealView{
			Name:         d.Name,
			Company:      d.Company,
			Value:        d.Value,
			Stage:        d.Stage,
			StageLabel:   d.Stage.Label(),
			ContactName:  d.ContactName,
			ContactEmail: d.ContactEmail,
		})
	}
	return PipelineState{Summary: analytics.Summarize(deals), Deals: views}
}

func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         PipelineURI,
		Name:        "pipeline",
		Title:       "Sales pipeline",
		Description: "Current sales pipeline state with all deals and analytics. Read it to learn deal names before moving, closing or deleting.",
		MIMEType:    "application/json",
	}, s.handlePipeline)
}

func (s *Server) handlePipeline(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req != nil && req.Params != nil && req.Params.URI != PipelineURI {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	data, err := json.Marshal(NewPipelineState(s.engine.Store.All()))
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      PipelineURI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
