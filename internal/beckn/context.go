// Package beckn speaks the Beckn open-network protocol: correlation contexts,
// the request/response envelope, catalog and order payloads, and a resilient
// client for the network gateway.
package beckn

import (
	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/idgen"
)

// Action names a protocol operation. It is also the gateway path segment.
type Action string

const (
	ActionSearch   Action = "search"
	ActionSelect   Action = "select"
	ActionInit     Action = "init"
	ActionConfirm  Action = "confirm"
	ActionTrack    Action = "track"
	ActionCancel   Action = "cancel"
	ActionSupport  Action = "support"
	ActionRegister Action = "register"
	ActionUpdate   Action = "update"
)

// Actions returns every action name, in protocol order.
func Actions() []string {
	return []string{
		string(ActionSearch), string(ActionSelect), string(ActionInit),
		string(ActionConfirm), string(ActionTrack), string(ActionCancel),
		string(ActionSupport), string(ActionRegister), string(ActionUpdate),
	}
}

// TimestampFormat is RFC 3339 UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Context is the correlation header attached to every protocol message.
// It is a value: WithCounterparty returns a copy and nothing mutates a
// context after it has been built.
type Context struct {
	Domain        string `json:"domain"`
	Country       string `json:"country"`
	City          string `json:"city"`
	Action        Action `json:"action"`
	CoreVersion   string `json:"core_version"`
	BAPID         string `json:"bap_id"`
	BAPURI        string `json:"bap_uri"`
	BPPID         string `json:"bpp_id,omitempty"`
	BPPURI        string `json:"bpp_uri,omitempty"`
	TransactionID string `json:"transaction_id"`
	MessageID     string `json:"message_id"`
	Timestamp     string `json:"timestamp"`
}

// WithCounterparty returns a copy addressed to a specific provider platform.
func (c Context) WithCounterparty(bppID, bppURI string) Context {
	c.BPPID = bppID
	c.BPPURI = bppURI
	return c
}

// Network identifies this buyer application on the network.
type Network struct {
	Domain      string
	Country     string
	City        string
	CoreVersion string
	BAPID       string
	BAPURI      string
}

// Factory builds correlation contexts.
type Factory struct {
	network Network
	ids     idgen.Provider
	clock   clock.Clock
}

// NewFactory creates a context factory using random UUIDs and the system clock.
func NewFactory(network Network) *Factory {
	return &Factory{
		network: network,
		ids:     idgen.Default,
		clock:   clock.NewSystem(),
	}
}

func (f *Factory) WithIDs(p idgen.Provider) *Factory {
	f.ids = p
	return f
}

func (f *Factory) WithClock(c clock.Clock) *Factory {
	f.clock = c
	return f
}

// NewTransaction allocates a transaction id for a new commercial transaction.
func (f *Factory) NewTransaction() string {
	return f.ids.Allocate()
}

// New builds the context for one action. Every call gets a fresh message id;
// the transaction id is carried over from the caller.
func (f *Factory) New(action Action, transactionID string) Context {
	return Context{
		Domain:        f.network.Domain,
		Country:       f.network.Country,
		City:          f.network.City,
		Action:        action,
		CoreVersion:   f.network.CoreVersion,
		BAPID:         f.network.BAPID,
		BAPURI:        f.network.BAPURI,
		TransactionID: transactionID,
		MessageID:     f.ids.Allocate(),
		Timestamp:     f.clock.Now().UTC().Format(TimestampFormat),
	}
}
