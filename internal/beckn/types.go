package beckn

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Descriptor struct {
	Name      string   `json:"name,omitempty"`
	Code      string   `json:"code,omitempty"`
	Symbol    string   `json:"symbol,omitempty"`
	ShortDesc string   `json:"short_desc,omitempty"`
	LongDesc  string   `json:"long_desc,omitempty"`
	Images    []string `json:"images,omitempty"`
}

// Price is a protocol price. Values travel as decimal strings.
type Price struct {
	Currency       string `json:"currency,omitempty"`
	Value          string `json:"value,omitempty"`
	EstimatedValue string `json:"estimated_value,omitempty"`
	ComputedValue  string `json:"computed_value,omitempty"`
	ListedValue    string `json:"listed_value,omitempty"`
	OfferedValue   string `json:"offered_value,omitempty"`
	MinimumValue   string `json:"minimum_value,omitempty"`
	MaximumValue   string `json:"maximum_value,omitempty"`
}

// Amount parses Value.
func (p Price) Amount() (decimal.Decimal, error) {
	if strings.TrimSpace(p.Value) == "" {
		return decimal.Zero, fmt.Errorf("price has no value")
	}
	return decimal.NewFromString(strings.TrimSpace(p.Value))
}

type TimeRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Time struct {
	Label     string     `json:"label,omitempty"`
	Range     *TimeRange `json:"range,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
}

type Address struct {
	Locality string `json:"locality,omitempty"`
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
	AreaCode string `json:"area_code,omitempty"`
	State    string `json:"state,omitempty"`
	Country  string `json:"country,omitempty"`
}

type Location struct {
	ID         string      `json:"id,omitempty"`
	Descriptor *Descriptor `json:"descriptor,omitempty"`
	GPS        string      `json:"gps,omitempty"`
	Address    *Address    `json:"address,omitempty"`
}

type Category struct {
	ID         string            `json:"id"`
	Descriptor *Descriptor       `json:"descriptor,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

type Quantity struct {
	Count int `json:"count"`
}

type ItemQuantity struct {
	Selected *Quantity `json:"selected,omitempty"`
	Count    int       `json:"count,omitempty"`
}

type Item struct {
	ID            string            `json:"id"`
	ParentItemID  string            `json:"parent_item_id,omitempty"`
	Descriptor    *Descriptor       `json:"descriptor,omitempty"`
	Price         *Price            `json:"price,omitempty"`
	Quantity      *ItemQuantity     `json:"quantity,omitempty"`
	CategoryID    string            `json:"category_id,omitempty"`
	FulfillmentID string            `json:"fulfillment_id,omitempty"`
	LocationID    string            `json:"location_id,omitempty"`
	Time          *Time             `json:"time,omitempty"`
	Matched       bool              `json:"matched,omitempty"`
	Related       bool              `json:"related,omitempty"`
	Recommended   bool              `json:"recommended,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

type Contact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type Person struct {
	Name   string            `json:"name,omitempty"`
	Image  string            `json:"image,omitempty"`
	DOB    string            `json:"dob,omitempty"`
	Gender string            `json:"gender,omitempty"`
	Cred   string            `json:"cred,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

type Customer struct {
	Person  *Person  `json:"person,omitempty"`
	Contact *Contact `json:"contact,omitempty"`
}

type FulfillmentState struct {
	Descriptor *Descriptor `json:"descriptor,omitempty"`
	UpdatedAt  string      `json:"updated_at,omitempty"`
	UpdatedBy  string      `json:"updated_by,omitempty"`
}

type Stop struct {
	Location     *Location   `json:"location,omitempty"`
	Time         *Time       `json:"time,omitempty"`
	Instructions *Descriptor `json:"instructions,omitempty"`
	Contact      *Contact    `json:"contact,omitempty"`
}

type Fulfillment struct {
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	Rating     float64           `json:"rating,omitempty"`
	State      *FulfillmentState `json:"state,omitempty"`
	Tracking   bool              `json:"tracking,omitempty"`
	Customer   *Customer         `json:"customer,omitempty"`
	Agent      *Person           `json:"agent,omitempty"`
	Start      *Stop             `json:"start,omitempty"`
	End        *Stop             `json:"end,omitempty"`
	Rateable   bool              `json:"rateable,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// StayWindow returns the stay's start and end from the fulfillment stops.
func (f *Fulfillment) StayWindow() (start, end time.Time, ok bool) {
	if f == nil || f.Start == nil || f.End == nil || f.Start.Time == nil || f.End.Time == nil {
		return time.Time{}, time.Time{}, false
	}
	start, err1 := parseStopTime(f.Start.Time)
	end, err2 := parseStopTime(f.End.Time)
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func parseStopTime(t *Time) (time.Time, error) {
	v := t.Timestamp
	if v == "" && t.Range != nil {
		v = t.Range.Start
	}
	return time.Parse(time.RFC3339, v)
}

type PaymentParams struct {
	Currency      string `json:"currency,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Amount        string `json:"amount,omitempty"`
}

type Payment struct {
	URI      string            `json:"uri,omitempty"`
	TLMethod string            `json:"tl_method,omitempty"`
	Params   *PaymentParams    `json:"params,omitempty"`
	Type     string            `json:"type,omitempty"`
	Status   string            `json:"status,omitempty"`
	Time     *Time             `json:"time,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Provider is a catalog entry offered by a provider platform.
type Provider struct {
	ID           string        `json:"id"`
	Descriptor   *Descriptor   `json:"descriptor,omitempty"`
	Categories   []Category    `json:"categories,omitempty"`
	Locations    []Location    `json:"locations,omitempty"`
	Items        []Item        `json:"items,omitempty"`
	Fulfillments []Fulfillment `json:"fulfillments,omitempty"`
	Payments     []Payment     `json:"payments,omitempty"`
}

// Item returns the provider's item with the given id.
func (p *Provider) Item(id string) (*Item, bool) {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i], true
		}
	}
	return nil, false
}

type Catalog struct {
	Descriptor *Descriptor `json:"descriptor,omitempty"`
	Providers  []Provider  `json:"providers,omitempty"`
}

type OrderProvider struct {
	ID        string     `json:"id"`
	Locations []Location `json:"locations,omitempty"`
}

type Billing struct {
	Name      string   `json:"name,omitempty"`
	Address   *Address `json:"address,omitempty"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Time      *Time    `json:"time,omitempty"`
	TaxNumber string   `json:"tax_number,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

type BreakupLine struct {
	Title string `json:"title"`
	Price Price  `json:"price"`
}

type Quote struct {
	Price   Price         `json:"price"`
	Breakup []BreakupLine `json:"breakup,omitempty"`
	TTL     string        `json:"ttl,omitempty"`
}

// Order is the protocol order object exchanged from select onwards.
type Order struct {
	ID          string         `json:"id,omitempty"`
	State       string         `json:"state,omitempty"`
	Provider    *OrderProvider `json:"provider,omitempty"`
	Items       []Item         `json:"items,omitempty"`
	Billing     *Billing       `json:"billing,omitempty"`
	Fulfillment *Fulfillment   `json:"fulfillment,omitempty"`
	Quote       *Quote         `json:"quote,omitempty"`
	Payment     *Payment       `json:"payment,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
	UpdatedAt   string         `json:"updated_at,omitempty"`
}

// Intent describes what a guest is looking for.
type Intent struct {
	Category string           `json:"category,omitempty"`
	GPS      string           `json:"gps,omitempty"`
	Start    *time.Time       `json:"start,omitempty"`
	End      *time.Time       `json:"end,omitempty"`
	Guests   int              `json:"guests,omitempty"`
	MinPrice *decimal.Decimal `json:"minPrice,omitempty"`
	MaxPrice *decimal.Decimal `json:"maxPrice,omitempty"`
	Currency string           `json:"currency,omitempty"`
}

// SupportRequest opens a support ticket for an order.
type SupportRequest struct {
	OrderID   string `json:"order_id"`
	IssueType string `json:"issue_type"`
	Timestamp string `json:"timestamp"`
}
