/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Descriptor kinds.
const (
	KindOffer  = "offer"
	KindAnswer = "answer"
)

// Descriptor is a transport negotiation payload. The JSON shape matches a
// browser RTCSessionDescription so tokens can be exchanged with one.
type Descriptor struct {
	Kind string `json:"type"`
	Body string `json:"sdp"`
}

// Encode renders d as a single-line base64 token for manual copy/paste.
func Encode(d Descriptor) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode. Whitespace introduced by copy/paste is ignored.
func Decode(token string) (Descriptor, error) {
	var d Descriptor

	token = strings.Join(strings.Fields(token), "")
	if token == "" {
		return d, &DecodeError{Reason: "empty code"}
	}

	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return d, &DecodeError{Reason: "not base64", Err: err}
	}

	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, &DecodeError{Reason: "not a descriptor", Err: err}
	}

	switch {
	case d.Kind != KindOffer && d.Kind != KindAnswer:
		return Descriptor{}, &DecodeError{Reason: "unknown descriptor kind " + strconv.Quote(d.Kind)}
	case d.Body == "":
		return Descriptor{}, &DecodeError{Reason: "descriptor has no body"}
	}

	return d, nil
}
