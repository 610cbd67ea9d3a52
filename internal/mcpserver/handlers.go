package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleSearchStays searches the network.
func (h *Handlers) HandleSearchStays(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	intent := map[string]any{}
	for tool, field := range map[string]string{
		"category":  "category",
		"gps":       "gps",
		"start":     "start",
		"end":       "end",
		"max_price": "maxPrice",
	} {
		if v := req.GetString(tool, ""); v != "" {
			intent[field] = v
		}
	}
	if guests := req.GetInt("guests", 0); guests > 0 {
		intent["guests"] = guests
	}

	raw, err := h.client.Search(ctx, intent)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}

	text, err := formatSearch(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse search results: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleBookStay selects items and creates an order.
func (h *Handlers) HandleBookStay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payerID := req.GetString("payer_id", "")
	providerID := req.GetString("provider_id", "")
	itemIDs := req.GetStringSlice("item_ids", nil)
	if payerID == "" || providerID == "" || len(itemIDs) == 0 {
		return mcp.NewToolResultError("payer_id, provider_id and item_ids are required"), nil
	}

	raw, err := h.client.SelectOrder(ctx, payerID, providerID, itemIDs, req.GetInt("quantity", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Booking failed: %v", err)), nil
	}
	return orderResult(raw, "Next: call init_booking with billing and stay details.")
}

// HandleInitBooking submits billing and fulfillment details.
func (h *Handlers) HandleInitBooking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}
	billing := objectArg(req, "billing")
	fulfillment := objectArg(req, "fulfillment")
	if billing == nil || fulfillment == nil {
		return mcp.NewToolResultError("billing and fulfillment are required"), nil
	}

	raw, err := h.client.InitOrder(ctx, orderID, billing, fulfillment)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Init failed: %v", err)), nil
	}
	return orderResult(raw, "Next: call confirm_booking to lock the payment in escrow.")
}

// HandleConfirmBooking confirms an order.
func (h *Handlers) HandleConfirmBooking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}
	raw, err := h.client.ConfirmOrder(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Confirm failed: %v", err)), nil
	}
	return orderResult(raw, "Payment is held in escrow until check-out.")
}

// HandleTrackBooking refreshes an order's network status.
func (h *Handlers) HandleTrackBooking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}
	raw, err := h.client.TrackOrder(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Track failed: %v", err)), nil
	}
	return orderResult(raw, "")
}

// HandleCancelBooking cancels an order.
func (h *Handlers) HandleCancelBooking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}
	raw, err := h.client.CancelOrder(ctx, orderID, req.GetString("reason", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Cancel failed: %v", err)), nil
	}
	return orderResult(raw, "")
}

// HandleGetBooking returns an order.
func (h *Handlers) HandleGetBooking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}
	raw, err := h.client.GetOrder(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get booking: %v", err)), nil
	}
	return orderResult(raw, "")
}

// HandleGetEscrow returns a booking's escrow hold.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowCall(ctx, req, "Failed to get escrow", h.client.GetEscrow)
}

// HandleCheckIn records a check-in.
func (h *Handlers) HandleCheckIn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowCall(ctx, req, "Check-in failed", h.client.ConfirmCheckIn)
}

// HandleCheckOut records a check-out.
func (h *Handlers) HandleCheckOut(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowCall(ctx, req, "Check-out failed", h.client.ConfirmCheckOut)
}

func (h *Handlers) escrowCall(ctx context.Context, req mcp.CallToolRequest, failure string,
	call func(context.Context, string) (json.RawMessage, error)) (*mcp.CallToolResult, error) {
	bookingID := req.GetString("booking_id", "")
	if bookingID == "" {
		return mcp.NewToolResultError("booking_id is required"), nil
	}
	raw, err := call(ctx, bookingID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", failure, err)), nil
	}
	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleOpenDispute disputes a booking's escrow.
func (h *Handlers) HandleOpenDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bookingID := req.GetString("booking_id", "")
	raisedBy := req.GetString("raised_by", "")
	reason := req.GetString("reason", "")
	if bookingID == "" || raisedBy == "" || reason == "" {
		return mcp.NewToolResultError("booking_id, raised_by and reason are required"), nil
	}

	raw, err := h.client.OpenDispute(ctx, bookingID, raisedBy, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Dispute failed: %v", err)), nil
	}
	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(text + "\nFunds stay locked until the community vote is finalized."), nil
}

// HandleGetDistributionRules returns the current rule set.
func (h *Handlers) HandleGetDistributionRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetRules(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get rules: %v", err)), nil
	}
	text, err := formatRules(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse rules: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandlePreviewDistribution splits an amount under the current rules.
func (h *Handlers) HandlePreviewDistribution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	raw, err := h.client.PreviewDistribution(ctx, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Preview failed: %v", err)), nil
	}
	text, err := formatPreview(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse preview: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListProposals lists governance proposals.
func (h *Handlers) HandleListProposals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListProposals(ctx, req.GetString("status", ""), req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list proposals: %v", err)), nil
	}
	text, err := formatProposals(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse proposals: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleVote casts a vote.
func (h *Handlers) HandleVote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	proposalID := req.GetString("proposal_id", "")
	voter := req.GetString("voter", "")
	if proposalID == "" || voter == "" {
		return mcp.NewToolResultError("proposal_id and voter are required"), nil
	}
	if _, ok := req.GetArguments()["support"]; !ok {
		return mcp.NewToolResultError("support is required"), nil
	}
	support := req.GetBool("support", false)
	power := req.GetInt("power", 0)
	if power <= 0 {
		return mcp.NewToolResultError("power must be positive"), nil
	}

	raw, err := h.client.CastVote(ctx, proposalID, voter, support, int64(power))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Vote failed: %v", err)), nil
	}

	var resp struct {
		Proposal map[string]any `json:"proposal"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Proposal == nil {
		return mcp.NewToolResultError("Failed to parse vote result"), nil
	}
	side := "no"
	if support {
		side = "yes"
	}
	p := resp.Proposal
	return mcp.NewToolResultText(fmt.Sprintf(
		"Voted %s with power %d on %s.\n"+
			"Tally: %s yes / %s no (quorum %s)\n"+
			"Status: %s",
		side, power, proposalID,
		getString(p, "yesVotes"), getString(p, "noVotes"), getString(p, "requiredVotes"),
		getString(p, "status"))), nil
}

// HandleCheckBalance returns an account's ledger balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID := req.GetString("account_id", "")
	if accountID == "" {
		return mcp.NewToolResultError("account_id is required"), nil
	}
	raw, err := h.client.GetBalance(ctx, accountID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}
	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func objectArg(req mcp.CallToolRequest, key string) map[string]any {
	if m, ok := req.GetArguments()[key].(map[string]any); ok {
		return m
	}
	return nil
}

func orderResult(raw json.RawMessage, next string) (*mcp.CallToolResult, error) {
	text, err := formatOrder(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse order: %v", err)), nil
	}
	if next != "" {
		text += "\n" + next
	}
	return mcp.NewToolResultText(text), nil
}

func formatSearch(raw json.RawMessage) (string, error) {
	var resp struct {
		TransactionID string           `json:"transactionId"`
		Providers     []map[string]any `json:"providers"`
		Warning       string           `json:"warning"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	if len(resp.Providers) == 0 {
		sb.WriteString("No stays found matching your criteria.\n")
	} else {
		fmt.Fprintf(&sb, "Found %d provider(s):\n", len(resp.Providers))
	}
	for i, p := range resp.Providers {
		fmt.Fprintf(&sb, "\n%d. %s (provider id: %s)\n", i+1, descriptorName(p), getString(p, "id"))
		items, _ := p["items"].([]any)
		for _, it := range items {
			item, ok := it.(map[string]any)
			if !ok {
				continue
			}
			value, currency := "", ""
			if price, ok := item["price"].(map[string]any); ok {
				value, currency = getString(price, "value"), getString(price, "currency")
			}
			fmt.Fprintf(&sb, "   - %s [%s]: %s %s\n", descriptorName(item), getString(item, "id"), value, currency)
		}
	}
	if resp.Warning != "" {
		fmt.Fprintf(&sb, "\nWarning: %s\n", resp.Warning)
	}
	return sb.String(), nil
}

func descriptorName(m map[string]any) string {
	if d, ok := m["descriptor"].(map[string]any); ok {
		if name := getString(d, "name"); name != "" {
			return name
		}
	}
	return getString(m, "id")
}

func formatOrder(raw json.RawMessage) (string, error) {
	var resp struct {
		Order map[string]any `json:"order"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Order == nil {
		return "", fmt.Errorf("no order in response")
	}
	o := resp.Order

	var sb strings.Builder
	fmt.Fprintf(&sb, "Order %s\n", getString(o, "id"))
	fmt.Fprintf(&sb, "  State:    %s\n", getString(o, "state"))
	fmt.Fprintf(&sb, "  Provider: %s\n", getString(o, "providerId"))
	if q, ok := o["quote"].(map[string]any); ok {
		if price, ok := q["price"].(map[string]any); ok {
			fmt.Fprintf(&sb, "  Total:    %s %s\n", getString(price, "value"), getString(price, "currency"))
		}
	}
	if v := getString(o, "holdId"); v != "" {
		fmt.Fprintf(&sb, "  Escrow:   %s\n", v)
	}
	if v := getString(o, "cancellationReason"); v != "" {
		fmt.Fprintf(&sb, "  Reason:   %s\n", v)
	}
	return sb.String(), nil
}

func formatEscrow(raw json.RawMessage) (string, error) {
	var resp struct {
		Escrow map[string]any `json:"escrow"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Escrow == nil {
		return "", fmt.Errorf("no escrow in response")
	}
	e := resp.Escrow

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow for booking %s\n", getString(e, "bookingId"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(e, "status"))
	fmt.Fprintf(&sb, "  Amount: %s %s\n", getString(e, "totalAmount"), getString(e, "currency"))
	if cond, ok := e["conditions"].(map[string]any); ok {
		fmt.Fprintf(&sb, "  Checked in: %s | Checked out: %s\n",
			yesNo(cond["checkInConfirmed"]), yesNo(cond["checkOutConfirmed"]))
	}
	if open, _ := e["disputeOpen"].(bool); open {
		fmt.Fprintf(&sb, "  Dispute: open (%s)\n", getString(e, "disputeReason"))
		if v := getString(e, "proposalId"); v != "" {
			fmt.Fprintf(&sb, "  Proposal: %s\n", v)
		}
	}
	if payouts, ok := e["payouts"].([]any); ok && len(payouts) > 0 {
		sb.WriteString("  Payouts:\n")
		for _, p := range payouts {
			if share, ok := p.(map[string]any); ok {
				fmt.Fprintf(&sb, "    %s (%s): %s\n", getString(share, "stakeholderId"), getString(share, "role"), getString(share, "amount"))
			}
		}
	}
	if v := getString(e, "refundAmount"); v != "" && v != "0" {
		fmt.Fprintf(&sb, "  Refunded: %s\n", v)
	}
	return sb.String(), nil
}

func yesNo(v any) string {
	if b, _ := v.(bool); b {
		return "yes"
	}
	return "no"
}

func formatRules(raw json.RawMessage) (string, error) {
	var resp struct {
		RuleSet map[string]any `json:"ruleSet"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.RuleSet == nil {
		return "", fmt.Errorf("no rule set in response")
	}
	rs := resp.RuleSet

	var sb strings.Builder
	fmt.Fprintf(&sb, "Distribution rules (version %s):\n", getString(rs, "version"))
	rules, _ := rs["rules"].([]any)
	for _, r := range rules {
		rule, ok := r.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "  %s (%s): %s%%\n", getString(rule, "stakeholderId"), getString(rule, "role"), getString(rule, "percentage"))
	}
	fmt.Fprintf(&sb, "Rounding remainder goes to %s.\n", getString(rs, "remainderStakeholder"))
	return sb.String(), nil
}

func formatPreview(raw json.RawMessage) (string, error) {
	var resp struct {
		Amount string           `json:"amount"`
		Shares []map[string]any `json:"shares"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Split of %s:\n", resp.Amount)
	for _, s := range resp.Shares {
		fmt.Fprintf(&sb, "  %s (%s): %s\n", getString(s, "stakeholderId"), getString(s, "role"), getString(s, "amount"))
	}
	return sb.String(), nil
}

func formatProposals(raw json.RawMessage) (string, error) {
	var resp struct {
		Proposals []map[string]any `json:"proposals"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Proposals) == 0 {
		return "No proposals found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d proposal(s):\n\n", len(resp.Proposals))
	for i, p := range resp.Proposals {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, getString(p, "title"), getString(p, "id"))
		fmt.Fprintf(&sb, "   Status: %s | Yes: %s | No: %s | Quorum: %s\n",
			getString(p, "status"), getString(p, "yesVotes"), getString(p, "noVotes"), getString(p, "requiredVotes"))
		if v := getString(p, "bookingId"); v != "" {
			fmt.Fprintf(&sb, "   Booking: %s\n", v)
		}
		if v := getString(p, "deadline"); v != "" {
			fmt.Fprintf(&sb, "   Deadline: %s\n", v)
		}
		if i < len(resp.Proposals)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatBalance(raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	bal := resp
	if b, ok := resp["balance"].(map[string]any); ok {
		bal = b
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Balance for %s:\n", getString(bal, "accountId"))
	fmt.Fprintf(&sb, "  Escrowed: %s\n", getString(bal, "escrowed"))
	fmt.Fprintf(&sb, "  Received: %s\n", getString(bal, "received"))
	fmt.Fprintf(&sb, "  Refunded: %s\n", getString(bal, "refunded"))
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}
