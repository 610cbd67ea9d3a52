package beckn

import (
	"encoding/json"
	"fmt"

	"github.com/mbd888/staysettle/internal/money"
)

// Request is the envelope POSTed to the gateway.
type Request struct {
	Context Context `json:"context"`
	Message any     `json:"message"`
}

// Response is the envelope returned by the gateway. Message is absent when
// the network produced no result.
type Response struct {
	Context    *Context         `json:"context,omitempty"`
	Message    *ResponseMessage `json:"message,omitempty"`
	Error      *ProtocolError   `json:"error,omitempty"`
	ProviderID string           `json:"provider_id,omitempty"`
}

type ResponseMessage struct {
	Catalog *Catalog        `json:"catalog,omitempty"`
	Order   *Order          `json:"order,omitempty"`
	Support json.RawMessage `json:"support,omitempty"`
}

// ProtocolError is an error object reported inside a response envelope.
type ProtocolError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("beckn error %s: %s", e.Code, e.Message)
}

// Providers returns the catalog providers, or nil if the response has none.
func (r *Response) Providers() []Provider {
	if r == nil || r.Message == nil || r.Message.Catalog == nil {
		return nil
	}
	return r.Message.Catalog.Providers
}

// Order returns the order, or nil if the response has none.
func (r *Response) Order() *Order {
	if r == nil || r.Message == nil {
		return nil
	}
	return r.Message.Order
}

type searchMessage struct {
	Intent wireIntent `json:"intent"`
}

type wireIntent struct {
	Category struct {
		Descriptor Descriptor `json:"descriptor"`
	} `json:"category"`
	Location *Location `json:"location,omitempty"`
	Time     *Time     `json:"time,omitempty"`
	Item     struct {
		Quantity Quantity `json:"quantity"`
	} `json:"item"`
	Payment *Payment `json:"payment,omitempty"`
}

// DefaultCategory is searched when an intent names none.
const DefaultCategory = "rural-tourism"

func newSearchMessage(in Intent) searchMessage {
	var w wireIntent
	w.Category.Descriptor.Name = in.Category
	if w.Category.Descriptor.Name == "" {
		w.Category.Descriptor.Name = DefaultCategory
	}
	if in.GPS != "" {
		w.Location = &Location{GPS: in.GPS}
	}
	if in.Start != nil && in.End != nil {
		w.Time = &Time{Range: &TimeRange{
			Start: in.Start.UTC().Format(TimestampFormat),
			End:   in.End.UTC().Format(TimestampFormat),
		}}
	}
	w.Item.Quantity.Count = max(in.Guests, 1)
	if in.MinPrice != nil && in.MaxPrice != nil {
		currency := in.Currency
		if currency == "" {
			currency = money.DefaultCurrency
		}
		w.Payment = &Payment{Params: &PaymentParams{
			Amount:   in.MinPrice.String() + "-" + in.MaxPrice.String(),
			Currency: currency,
		}}
	}
	return searchMessage{Intent: w}
}

type orderMessage struct {
	Order *Order `json:"order"`
}

type trackMessage struct {
	OrderID string `json:"order_id"`
}

type cancelMessage struct {
	OrderID              string `json:"order_id"`
	CancellationReasonID string `json:"cancellation_reason_id"`
}

type supportMessage struct {
	Support SupportRequest `json:"support"`
}

type registerMessage struct {
	Provider *Provider `json:"provider"`
}

type updateMessage struct {
	ProviderID string   `json:"provider_id"`
	Catalog    *Catalog `json:"catalog"`
}
