package cmd

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/telekom/signature-relay/pkg/signature"
)

// readPayloadFile reads a submission body from path, "-" meaning stdin.
func readPayloadFile(path string, stdin io.Reader) (json.RawMessage, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// buildPayload assembles a submission from its parts and a PNG file.
func buildPayload(name, idNumber, imagePath string) (json.RawMessage, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	body := map[string]any{
		"name":      name,
		"signature": signature.DataURIPrefix + base64.StdEncoding.EncodeToString(img),
	}
	if idNumber != "" {
		body["idNumber"] = idNumber
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// toRequest decodes a payload the way the relay does: a JSON value other
// than an object yields an empty request.
func toRequest(raw json.RawMessage) (signature.Request, error) {
	var req signature.Request
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return req, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if obj, ok := decoded.(map[string]any); ok {
		req.Name = obj["name"]
		req.IDNumber = obj["idNumber"]
		req.Signature = obj["signature"]
	}
	return req, nil
}
