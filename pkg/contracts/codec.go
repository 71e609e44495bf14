package contracts

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeSessionRecord parses a SessionRecord from a token string (plain
// JSON or Base64-wrapped JSON). Ingest endpoints see both.
func DecodeSessionRecord(token string) (*SessionRecord, error) {
	raw, err := decodeToken(token)
	if err != nil {
		return nil, err
	}
	var s SessionRecord
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &s, nil
}

// DecodeWitnessAttestation parses a WitnessAttestation from a token
// string (plain JSON or Base64-wrapped JSON).
func DecodeWitnessAttestation(token string) (*WitnessAttestation, error) {
	raw, err := decodeToken(token)
	if err != nil {
		return nil, err
	}
	var a WitnessAttestation
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode witness attestation: %w", err)
	}
	return &a, nil
}

// DecodeForkEvent parses a ForkEvent from a token string.
func DecodeForkEvent(token string) (*ForkEvent, error) {
	raw, err := decodeToken(token)
	if err != nil {
		return nil, err
	}
	var f ForkEvent
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode fork event: %w", err)
	}
	return &f, nil
}

func decodeToken(token string) ([]byte, error) {
	trimmed := strings.TrimSpace(token)
	if strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("token is neither JSON nor base64: %w", err)
	}
	return raw, nil
}
