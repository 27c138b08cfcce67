package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// visitWire is the queue payload layout. Field names are part of the wire format.
type visitWire struct {
	Code         string `json:"Code"`
	TimestampUtc string `json:"TimestampUtc"`
	IpHash       string `json:"IpHash"`
	Country      string `json:"Country"`
	UaClass      string `json:"UaClass"`
}

// EncodeVisit renders an event as base64(JSON) for queue transport
func EncodeVisit(ev VisitEvent) ([]byte, error) {
	if ev.Code == "" {
		return nil, E(KindValidation, "encode visit", errors.New("empty code"))
	}
	raw, err := json.Marshal(visitWire{
		Code:         ev.Code,
		TimestampUtc: ev.TimestampUTC.UTC().Format(time.RFC3339Nano),
		IpHash:       orUnknown(ev.ClientIDHash),
		Country:      orUnknown(ev.Country),
		UaClass:      string(ev.UAClass),
	})
	if err != nil {
		return nil, fmt.Errorf("encode visit: %w", err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// DecodeVisit parses a queue body. Plain JSON bodies are accepted as well as base64.
// Every failure is returned as a KindDecode error.
func DecodeVisit(body []byte) (VisitEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return VisitEvent{}, decodeErr(errors.New("empty body"))
	}

	raw := body
	if body[0] != '{' {
		buf := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
		n, err := base64.StdEncoding.Decode(buf, body)
		if err != nil {
			return VisitEvent{}, decodeErr(fmt.Errorf("base64: %w", err))
		}
		raw = bytes.TrimSpace(buf[:n])
	}

	var w visitWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return VisitEvent{}, decodeErr(fmt.Errorf("json: %w", err))
	}
	if w.Code == "" {
		return VisitEvent{}, decodeErr(errors.New("missing Code"))
	}

	ts, err := time.Parse(time.RFC3339Nano, w.TimestampUtc)
	if err != nil {
		return VisitEvent{}, decodeErr(fmt.Errorf("TimestampUtc: %w", err))
	}

	class := UAClass(w.UaClass)
	switch class {
	case UABotLike, UAHumanLike:
	default:
		return VisitEvent{}, decodeErr(fmt.Errorf("unknown UaClass %q", w.UaClass))
	}

	return VisitEvent{
		Code:         w.Code,
		TimestampUTC: ts.UTC(),
		ClientIDHash: orUnknown(w.IpHash),
		Country:      orUnknown(w.Country),
		UAClass:      class,
	}, nil
}

func decodeErr(err error) error {
	return E(KindDecode, "decode visit", err)
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
