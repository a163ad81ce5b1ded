// Package response builds the JSON envelope every HTTP endpoint answers with.
package response

import (
	"encoding/json"
	"net/http"
)

// Fixed human readable messages, one per outcome.
const (
	MsgSuccess           = "SUCCESS"
	MsgCreated           = "CREATED"
	MsgUpdated           = "DATA UPDATED"
	MsgAuthError         = "AUTH FAIL"
	MsgNoPermission      = "NO PERMISSION"
	MsgMissing           = "REQUIRED ARGUMENT MISSING"
	MsgConflict          = "CONFLICT"
	MsgNoData            = "NO DATA FOUND"
	MsgRequirementNotMet = "REQUIREMENT NOT MET"
	MsgFailed            = "FAILED"
	MsgNoRoute           = "NO SUCH ROUTE FOUND"
	MsgInvalid           = "INVALID DATA IN REQUEST"
)

type Envelope struct {
	Status  bool    `json:"status"`
	Payload Payload `json:"payload"`
}

type Payload struct {
	Message string `json:"message"`
	Data    Data   `json:"data"`
}

type Data struct {
	Data        any    `json:"data"`
	AccessToken string `json:"accessToken,omitempty"`
}

func New(status bool, message string, data any, accessToken string) Envelope {
	if data == nil {
		data = struct{}{}
	}
	return Envelope{
		Status: status,
		Payload: Payload{
			Message: message,
			Data:    Data{Data: data, AccessToken: accessToken},
		},
	}
}

// Write encodes the envelope with the given status code.
func Write(w http.ResponseWriter, code int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(env)
}
