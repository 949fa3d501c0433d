// Package action interprets model output as an optional structured action
// and executes the one trust-sensitive action, the account merge.
package action

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the action variants.
type Kind string

const (
	// KindNull does nothing; the reply is regular conversation.
	KindNull Kind = "Null"
	// KindTransferPlus merges the billing entitlement of one account
	// into another.
	KindTransferPlus Kind = "TransferPlus"
	// KindAbort suppresses the reply entirely: nothing is sent and
	// nothing is persisted.
	KindAbort Kind = "Abort"
)

// Action is the tagged variant embedded in a model reply. It is produced per
// response cycle and never persisted.
type Action struct {
	Kind     Kind
	OldUname string
	NewUname string
}

// Response is the structured record the model is instructed to emit:
//
//	{"action": "Null" | "Abort" | {"TransferPlus": {"old_uname": ..., "new_uname": ...}}, "text": ...}
type Response struct {
	Action Action `json:"action"`
	Text   string `json:"text"`
}

type transferPlusArgs struct {
	OldUname string `json:"old_uname"`
	NewUname string `json:"new_uname"`
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		switch Kind(tag) {
		case KindNull, KindAbort:
			*a = Action{Kind: Kind(tag)}
			return nil
		default:
			return fmt.Errorf("unknown action tag %q", tag)
		}
	}

	var obj map[string]transferPlusArgs
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("action is neither tag nor object: %w", err)
	}
	args, ok := obj[string(KindTransferPlus)]
	if !ok || len(obj) != 1 {
		return fmt.Errorf("unknown action object")
	}
	*a = Action{Kind: KindTransferPlus, OldUname: args.OldUname, NewUname: args.NewUname}
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case KindTransferPlus:
		return json.Marshal(map[string]transferPlusArgs{
			string(KindTransferPlus): {OldUname: a.OldUname, NewUname: a.NewUname},
		})
	default:
		return json.Marshal(string(a.Kind))
	}
}

// Parse interprets raw model output. When the output is not a well-formed
// structured record, the whole raw text becomes a plain Null reply; a parse
// error never reaches the end user.
func Parse(raw string) Response {
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil || resp.Action.Kind == "" {
		return Response{Action: Action{Kind: KindNull}, Text: raw}
	}
	return resp
}
