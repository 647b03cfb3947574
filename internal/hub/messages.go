package hub

import "github.com/signalsfoundry/satellite-tracker/model"

// Server → client message types.
const (
	TypeInitialSnapshot = "initialSnapshot"
	TypePositionUpdate  = "positionUpdate"
	TypeSearchResults   = "searchResults"
	TypeQuotaStatus     = "quotaStatus"
	TypeObjectDetails   = "objectDetails"
	TypeError           = "error"
)

// Client → server message types.
const (
	TypeSelect         = "select"
	TypeUnselect       = "unselect"
	TypeSearch         = "search"
	TypeGetQuotaStatus = "getQuotaStatus"
	TypeGetDetails     = "getDetails"
)

// ClientMessage is a request sent by a connected client.
type ClientMessage struct {
	Type string `json:"type"`
	ID   int    `json:"id,omitempty"`
	Term string `json:"term,omitempty"`
}

// ServerMessage is an event pushed to a client. Only the fields relevant to
// Type are set.
type ServerMessage struct {
	Type    string               `json:"type"`
	Objects []model.ObjectView   `json:"objects,omitempty"`
	Object  *model.ObjectView    `json:"object,omitempty"`
	Term    string               `json:"term,omitempty"`
	Quota   *model.QuotaStatus   `json:"quota,omitempty"`
	Details *model.ObjectDetails `json:"details,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func errorMessage(text string) ServerMessage {
	return ServerMessage{Type: TypeError, Error: text}
}
