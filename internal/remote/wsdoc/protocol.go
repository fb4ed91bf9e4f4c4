// Package wsdoc exposes a remote.Remote over a websocket.
//
// The server authenticates the upgrade request with a bearer token and then
// serves one user's document. Each request frame carries an id that the
// matching reply echoes; subscription updates carry the id of the subscribe
// request that opened them.
package wsdoc

import (
	"encoding/json"

	"github.com/roach88/porta/internal/remote"
)

// Frame types.
const (
	TypeFetch       = "fetch"
	TypePutProfile  = "put_profile"
	TypePutSession  = "put_session"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	TypeOK     = "ok"
	TypeError  = "error"
	TypeUpdate = "update"
)

// Error codes carried by error frames.
const (
	CodeNotFound   = "not_found"
	CodeForbidden  = "forbidden"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

// frame is the single wire message shape in both directions.
type frame struct {
	Type     string           `json:"type"`
	ID       uint64           `json:"id,omitempty"`
	Ref      uint64           `json:"ref,omitempty"`
	UID      string           `json:"uid,omitempty"`
	Payload  json.RawMessage  `json:"payload,omitempty"`
	Document *remote.Document `json:"document,omitempty"`
	Code     string           `json:"code,omitempty"`
	Error    string           `json:"error,omitempty"`
}
