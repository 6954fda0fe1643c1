// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicekeys

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// canonicalJSON returns the signing form of value: keys sorted at
// every level, compact, without HTML escaping, and with top-level
// "signatures" and "unsigned" removed.
func canonicalJSON(value any) ([]byte, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("devicekeys: encoding for signature: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("devicekeys: decoding for signature: %w", err)
	}
	if object, ok := generic.(map[string]any); ok {
		delete(object, "signatures")
		delete(object, "unsigned")
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(generic); err != nil {
		return nil, fmt.Errorf("devicekeys: canonical encoding: %w", err)
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}
