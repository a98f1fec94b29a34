package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// payloadField is the single stream entry field carrying the encoded value.
const payloadField = "data"

var (
	ErrPointerType    = errors.New("pointer type is not allowed")
	ErrMissingPayload = errors.New("payload field not found or invalid type")
)

// EncodeMessage packs data into a stream entry: msgpack, base64, under payloadField.
func EncodeMessage[T any](data T) (map[string]any, error) {
	if t := reflect.TypeOf(data); t != nil && t.Kind() == reflect.Ptr {
		return nil, ErrPointerType
	}

	raw, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal: %w", err)
	}
	return map[string]any{
		payloadField: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// EncodePayload returns only the encoded string, for callers that hand it to a script.
func EncodePayload[T any](data T) (string, error) {
	message, err := EncodeMessage(data)
	if err != nil {
		return "", err
	}
	return message[payloadField].(string), nil
}

// DecodeMessage reverses EncodeMessage. An empty entry decodes to the zero value.
func DecodeMessage[T any](message map[string]any) (T, error) {
	var result T

	if t := reflect.TypeOf(result); t != nil && t.Kind() == reflect.Ptr {
		return result, ErrPointerType
	}
	if len(message) == 0 {
		return result, nil
	}

	encoded, ok := message[payloadField].(string)
	if !ok {
		return result, ErrMissingPayload
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("base64 decode: %w", err)
	}
	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal: %w", err)
	}
	return result, nil
}
