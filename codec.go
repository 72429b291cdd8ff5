package relay

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// Codec is a pair of pure functions bound to a handler's input and output
// types. Decode errors map to requestDecoding, encode errors
// to responseEncoding.
type Codec[In, Out any] interface {
	Decode(payload []byte) (In, error)
	Encode(value Out) ([]byte, error)
}

// rawCodec is the identity codec on []byte. It accepts empty payloads and
// never fails.
type rawCodec struct{}

func (rawCodec) Decode(payload []byte) ([]byte, error) { return payload, nil }
func (rawCodec) Encode(value []byte) ([]byte, error)   { return value, nil }

// RawCodec returns the built-in raw-bytes codec.
func RawCodec() Codec[[]byte, []byte] { return rawCodec{} }

// stringCodec decodes UTF-8 bytes to a string and encodes a string back to
// UTF-8 bytes. Invalid UTF-8 is a decode error.
type stringCodec struct{}

func (stringCodec) Decode(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", errors.New("payload is not valid UTF-8")
	}
	return string(payload), nil
}

func (stringCodec) Encode(value string) ([]byte, error) {
	return []byte(value), nil
}

// StringCodec returns the built-in UTF-8 string codec.
func StringCodec() Codec[string, string] { return stringCodec{} }

// jsonCodec decodes/encodes arbitrary JSON-serializable types.
type jsonCodec[In, Out any] struct{}

// JSONCodec returns the default codec used for typed handlers: JSON in,
// JSON out.
func JSONCodec[In, Out any]() Codec[In, Out] { return jsonCodec[In, Out]{} }

func (jsonCodec[In, Out]) Decode(payload []byte) (In, error) {
	var value In
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, errors.Wrap(err, jsonDecodeDiagnostic(payload))
	}
	return value, nil
}

func (jsonCodec[In, Out]) Encode(value Out) ([]byte, error) {
	if _, isVoid := any(value).(Void); isVoid {
		return nil, nil
	}

	buf, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling response")
	}
	return buf, nil
}

// jsonDecodeDiagnostic distinguishes "this isn't JSON at all" from "valid
// JSON, wrong shape" using gjson's lightweight validity scan, so a
// requestDecoding error gives operators a sharper first clue than
// encoding/json's own message alone.
func jsonDecodeDiagnostic(payload []byte) string {
	if !gjson.ValidBytes(payload) {
		return "payload is not valid JSON"
	}
	return "payload is valid JSON but does not match the handler's input type"
}

// decodePayload runs decode and wraps any failure as a requestDecoding
// Error.
func decodePayload[In, Out any](codec Codec[In, Out], payload []byte) (In, error) {
	value, err := codec.Decode(payload)
	if err != nil {
		return value, newRequestDecodingError(err)
	}
	return value, nil
}

// encodeResult runs encode and wraps any failure as a responseEncoding
// Error.
func encodeResult[In, Out any](codec Codec[In, Out], value Out) ([]byte, error) {
	buf, err := codec.Encode(value)
	if err != nil {
		return nil, newResponseEncodingError(err)
	}
	return buf, nil
}
