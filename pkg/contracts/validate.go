package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSON Schemas for the ingest boundary. Structural shape is enforced
// here; semantic rules (known fork types, signature checks, quorum)
// stay with the packages that own them, so each failure keeps its own
// fault code.
const (
	sessionRecordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "participants", "task", "outcome", "weight", "witnesses", "timestamp", "signatures"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "participants": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
    "task": {"type": "string"},
    "outcome": {"type": "number", "minimum": 0, "maximum": 1},
    "weight": {"type": "number", "exclusiveMinimum": 0, "maximum": 10},
    "witnesses": {"type": "array", "items": {"type": "string"}},
    "bond": {},
    "timestamp": {"type": "string"},
    "signatures": {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`

	forkEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["fork_id", "parent_id", "child_id", "fork_type", "claimed_weight", "timestamp", "signature"],
  "properties": {
    "fork_id": {"type": "string", "minLength": 1},
    "parent_id": {"type": "string", "minLength": 1},
    "child_id": {"type": "string", "minLength": 1},
    "fork_type": {"type": "string", "minLength": 1},
    "claimed_weight": {"type": "number", "minimum": 0, "maximum": 1},
    "enforced_weight": {"type": "number"},
    "probation_period": {"type": "integer", "minimum": 0},
    "probation_expires": {"type": "string"},
    "timestamp": {"type": "string"},
    "signature": {"type": "string"}
  }
}`

	witnessAttestationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["witness_id", "session_id", "witness_did", "witness_dex", "attestation", "timestamp", "signature"],
  "properties": {
    "witness_id": {"type": "string", "minLength": 1},
    "session_id": {"type": "string", "minLength": 1},
    "witness_did": {"type": "string", "minLength": 1},
    "witness_dex": {
      "type": "object",
      "required": ["score", "confidence", "as_of"],
      "properties": {
        "score": {"type": "number", "minimum": 0, "maximum": 1},
        "confidence": {"type": "number", "minimum": 0},
        "as_of": {"type": "string"}
      }
    },
    "attestation": {
      "type": "object",
      "required": ["outcome", "weight"],
      "properties": {
        "outcome": {"type": "number", "minimum": 0, "maximum": 1},
        "weight": {"type": "number", "minimum": 0},
        "notes": {"type": "string"},
        "evidence_hash": {"type": "string"}
      }
    },
    "timestamp": {"type": "string"},
    "signature": {"type": "string"}
  }
}`

	reputationRecordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["agent_id", "alpha", "beta", "last_updated", "fork_lineage", "probation", "signature"],
  "properties": {
    "agent_id": {"type": "string", "minLength": 1},
    "alpha": {"type": "number", "exclusiveMinimum": 0},
    "beta": {"type": "number", "exclusiveMinimum": 0},
    "last_updated": {"type": "string"},
    "fork_lineage": {"type": "array", "items": {"type": "string"}},
    "probation": {
      "oneOf": [
        {"type": "null"},
        {
          "type": "object",
          "required": ["active", "expires_at", "successes_count"],
          "properties": {
            "active": {"type": "boolean"},
            "expires_at": {"type": "string"},
            "successes_count": {"type": "integer", "minimum": 0}
          }
        }
      ]
    },
    "signature": {"type": "string"}
  }
}`
)

var (
	schemaOnce sync.Once
	schemaErr  error
	compiled   map[string]*jsonschema.Schema
)

func compileSchemas() {
	sources := map[string]string{
		"session_record":      sessionRecordSchema,
		"fork_event":          forkEventSchema,
		"witness_attestation": witnessAttestationSchema,
		"reputation_record":   reputationRecordSchema,
	}
	compiled = make(map[string]*jsonschema.Schema, len(sources))
	for name, src := range sources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://keel.schemas.local/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			schemaErr = fmt.Errorf("schema load failed for %s: %w", name, err)
			return
		}
		s, err := c.Compile(url)
		if err != nil {
			schemaErr = fmt.Errorf("schema compile failed for %s: %w", name, err)
			return
		}
		compiled[name] = s
	}
}

func validateAgainst(name string, raw []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %s is not valid JSON: %v", ErrValidation, name, err)
	}
	if err := compiled[name].Validate(doc); err != nil {
		return fmt.Errorf("%w: %s schema: %v", ErrValidation, name, err)
	}
	return nil
}

// ValidateSessionRecordBytes checks raw JSON against the session record
// schema before decoding.
func ValidateSessionRecordBytes(raw []byte) error {
	return validateAgainst("session_record", raw)
}

// ValidateForkEventBytes checks raw JSON against the fork event schema.
func ValidateForkEventBytes(raw []byte) error {
	return validateAgainst("fork_event", raw)
}

// ValidateWitnessAttestationBytes checks raw JSON against the witness
// attestation schema.
func ValidateWitnessAttestationBytes(raw []byte) error {
	return validateAgainst("witness_attestation", raw)
}

// ValidateReputationRecordBytes checks raw JSON against the reputation
// record schema. Used when importing records from external stores.
func ValidateReputationRecordBytes(raw []byte) error {
	return validateAgainst("reputation_record", raw)
}
