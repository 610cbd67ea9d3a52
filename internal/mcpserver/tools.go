package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the StaySettle MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolSearchStays = mcp.NewTool("search_stays",
	mcp.WithDescription(
		"Search the Beckn network for homestays and experiences. "+
			"Returns providers with their bookable items and prices. "+
			"Use this before booking to find a provider id and item ids."),
	mcp.WithString("category",
		mcp.Description("Category to search (e.g. 'homestay', 'experience')")),
	mcp.WithString("gps",
		mcp.Description("Location as 'lat,lon' to search around")),
	mcp.WithString("start",
		mcp.Description("Check-in time in RFC 3339 (e.g. '2026-06-10T14:00:00Z')")),
	mcp.WithString("end",
		mcp.Description("Check-out time in RFC 3339")),
	mcp.WithNumber("guests",
		mcp.Description("Number of guests")),
	mcp.WithString("max_price",
		mcp.Description("Maximum price per item (e.g. '5000.00')")),
)

var ToolBookStay = mcp.NewTool("book_stay",
	mcp.WithDescription(
		"Start a booking by selecting items from one provider. "+
			"Returns the order with its quote. Follow with init_booking, then confirm_booking."),
	mcp.WithString("payer_id", mcp.Required(),
		mcp.Description("Guest account that pays for the booking")),
	mcp.WithString("provider_id", mcp.Required(),
		mcp.Description("Provider id from search_stays")),
	mcp.WithArray("item_ids", mcp.Required(),
		mcp.Description("Item ids to book"),
		mcp.WithStringItems()),
	mcp.WithNumber("quantity",
		mcp.Description("Quantity per item (default 1)")),
)

var ToolInitBooking = mcp.NewTool("init_booking",
	mcp.WithDescription(
		"Submit billing and stay details for a selected order. "+
			"The provider returns the final quote and payment terms."),
	mcp.WithString("order_id", mcp.Required(),
		mcp.Description("Order id from book_stay")),
	mcp.WithObject("billing", mcp.Required(),
		mcp.Description("Billing details, e.g. {\"name\": \"Asha\", \"email\": \"asha@example.com\", \"phone\": \"+919999999999\"}")),
	mcp.WithObject("fulfillment", mcp.Required(),
		mcp.Description("Stay details with start and end times, e.g. {\"start\": {\"time\": {\"timestamp\": \"...\"}}, \"end\": {\"time\": {\"timestamp\": \"...\"}}}")),
)

var ToolConfirmBooking = mcp.NewTool("confirm_booking",
	mcp.WithDescription(
		"Confirm an initialized order. The payment is held in escrow "+
			"until check-out, then split between the host and community stakeholders."),
	mcp.WithString("order_id", mcp.Required(),
		mcp.Description("Order id to confirm")),
)

var ToolTrackBooking = mcp.NewTool("track_booking",
	mcp.WithDescription("Refresh the network status of a confirmed order."),
	mcp.WithString("order_id", mcp.Required(),
		mcp.Description("Order id to track")),
)

var ToolCancelBooking = mcp.NewTool("cancel_booking",
	mcp.WithDescription(
		"Cancel an order. Before the cancellation deadline the guest is refunded in full; "+
			"after it, the refund follows the booking's refund percentage."),
	mcp.WithString("order_id", mcp.Required(),
		mcp.Description("Order id to cancel")),
	mcp.WithString("reason",
		mcp.Description("Optional cancellation reason")),
)

var ToolGetBooking = mcp.NewTool("get_booking",
	mcp.WithDescription("Get an order and its current state."),
	mcp.WithString("order_id", mcp.Required(),
		mcp.Description("Order id")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Get the escrow hold for a booking: amount, conditions met, dispute state and payouts."),
	mcp.WithString("booking_id", mcp.Required(),
		mcp.Description("Booking id (same as the order id)")),
)

var ToolCheckIn = mcp.NewTool("check_in",
	mcp.WithDescription("Record that the guest has checked in."),
	mcp.WithString("booking_id", mcp.Required(),
		mcp.Description("Booking id")),
)

var ToolCheckOut = mcp.NewTool("check_out",
	mcp.WithDescription(
		"Record that the guest has checked out. Once check-in and check-out are both confirmed, "+
			"the escrow is released to the stakeholders."),
	mcp.WithString("booking_id", mcp.Required(),
		mcp.Description("Booking id")),
)

var ToolOpenDispute = mcp.NewTool("open_dispute",
	mcp.WithDescription(
		"Dispute a booking. Funds stay locked and a community vote decides "+
			"whether they are released to the host or refunded to the guest."),
	mcp.WithString("booking_id", mcp.Required(),
		mcp.Description("Booking id")),
	mcp.WithString("raised_by", mcp.Required(),
		mcp.Description("Who raises the dispute")),
	mcp.WithString("reason", mcp.Required(),
		mcp.Description("What went wrong")),
)

var ToolGetDistributionRules = mcp.NewTool("get_distribution_rules",
	mcp.WithDescription("Show how booking payments are split between stakeholders."),
)

var ToolPreviewDistribution = mcp.NewTool("preview_distribution",
	mcp.WithDescription("Compute each stakeholder's share of an amount under the current rules."),
	mcp.WithString("amount", mcp.Required(),
		mcp.Description("Amount to split (e.g. '10000.00')")),
)

var ToolListProposals = mcp.NewTool("list_proposals",
	mcp.WithDescription("List community governance proposals, including dispute arbitrations."),
	mcp.WithString("status",
		mcp.Description("Filter by status"),
		mcp.Enum("active", "passed", "failed")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of proposals to return (default 20)")),
)

var ToolVote = mcp.NewTool("vote",
	mcp.WithDescription(
		"Cast a vote on an active proposal. For a dispute, 'yes' releases the funds to the host "+
			"and 'no' refunds the guest."),
	mcp.WithString("proposal_id", mcp.Required(),
		mcp.Description("Proposal id")),
	mcp.WithString("voter", mcp.Required(),
		mcp.Description("Voting member id")),
	mcp.WithBoolean("support", mcp.Required(),
		mcp.Description("true to vote yes, false to vote no")),
	mcp.WithNumber("power", mcp.Required(),
		mcp.Description("Voting power to cast")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription("Check an account's ledger balance: escrowed, received and refunded amounts."),
	mcp.WithString("account_id", mcp.Required(),
		mcp.Description("Guest or stakeholder account id")),
)
