package policy

import (
	"encoding/json"
	"fmt"
)

// currentVersion is the document schema version written by this release.
const currentVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// encode wraps v in a versioned envelope.
func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(envelope{Version: currentVersion, Data: data}, "", "  ")
}

// unwrap splits a stored document into its schema version and payload.
// Documents without an envelope are version 0.
func unwrap(raw []byte) (int, json.RawMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		_, hasVersion := probe["version"]
		data, hasData := probe["data"]
		if hasVersion && hasData && len(probe) == 2 {
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return 0, nil, fmt.Errorf("decoding envelope: %w", err)
			}
			if env.Version > currentVersion {
				return 0, nil, fmt.Errorf("document version %d is newer than supported version %d", env.Version, currentVersion)
			}

			return env.Version, data, nil
		}
	}

	return 0, raw, nil
}
