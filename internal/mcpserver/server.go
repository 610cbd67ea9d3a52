package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all StaySettle tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("staysettle", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolSearchStays, h.HandleSearchStays)
	s.AddTool(ToolBookStay, h.HandleBookStay)
	s.AddTool(ToolInitBooking, h.HandleInitBooking)
	s.AddTool(ToolConfirmBooking, h.HandleConfirmBooking)
	s.AddTool(ToolTrackBooking, h.HandleTrackBooking)
	s.AddTool(ToolCancelBooking, h.HandleCancelBooking)
	s.AddTool(ToolGetBooking, h.HandleGetBooking)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolCheckIn, h.HandleCheckIn)
	s.AddTool(ToolCheckOut, h.HandleCheckOut)
	s.AddTool(ToolOpenDispute, h.HandleOpenDispute)
	s.AddTool(ToolGetDistributionRules, h.HandleGetDistributionRules)
	s.AddTool(ToolPreviewDistribution, h.HandlePreviewDistribution)
	s.AddTool(ToolListProposals, h.HandleListProposals)
	s.AddTool(ToolVote, h.HandleVote)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)

	return s
}
