package discussion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Snapshot is the portable export form of a completed or in-flight
// session, including derived statistics.
type Snapshot struct {
	SessionID    string               `json:"sessionId"`
	Question     string               `json:"question"`
	Participants []ParticipantProfile `json:"participants"`
	Responses    []ResponseRecord     `json:"responses"`
	Statistics   SessionStats         `json:"statistics"`
	ExportedAt   time.Time            `json:"exportedAt"`
}

// snapshotSchema is validated against every export before it leaves
// the process, so downstream consumers can rely on the shape.
const snapshotSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["sessionId", "question", "participants", "responses", "statistics", "exportedAt"],
  "properties": {
    "sessionId": {"type": "string", "minLength": 1},
    "question": {"type": "string", "minLength": 1},
    "participants": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["backendId", "displayName"],
        "properties": {
          "backendId": {"type": "string", "minLength": 1},
          "displayName": {"type": "string", "minLength": 1},
          "role": {"type": "string"},
          "style": {"type": "string"}
        }
      }
    },
    "responses": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "backendId", "participant", "round", "cleanedText", "quality", "failed"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "backendId": {"type": "string", "minLength": 1},
          "participant": {"type": "string"},
          "round": {"type": "integer", "minimum": 0},
          "rawText": {"type": "string"},
          "cleanedText": {"type": "string"},
          "quality": {
            "type": "object",
            "required": ["isValid", "score"],
            "properties": {
              "isValid": {"type": "boolean"},
              "score": {"type": "integer", "minimum": 0, "maximum": 100}
            }
          },
          "failed": {"type": "boolean"},
          "errorClass": {"type": "string"},
          "processingTimeMs": {"type": "integer", "minimum": 0}
        }
      }
    },
    "statistics": {
      "type": "object",
      "required": ["totalTurns", "validTurns", "failedTurns", "meanQuality"],
      "properties": {
        "totalTurns": {"type": "integer", "minimum": 0},
        "validTurns": {"type": "integer", "minimum": 0},
        "failedTurns": {"type": "integer", "minimum": 0},
        "meanQuality": {"type": "number", "minimum": 0, "maximum": 100}
      }
    },
    "exportedAt": {"type": "string"}
  }
}`

// Export builds a schema-validated snapshot of the session. The
// session is copied first so callers may pass the live pointer.
func Export(s *Session) (*Snapshot, error) {
	if s == nil {
		return nil, fmt.Errorf("export: nil session")
	}
	copied := s.Copy()

	snap := &Snapshot{
		SessionID:    copied.ID,
		Question:     copied.Question,
		Participants: copied.Participants,
		Responses:    copied.Responses,
		Statistics:   Aggregate(copied),
		ExportedAt:   time.Now().UTC(),
	}
	if snap.Responses == nil {
		snap.Responses = []ResponseRecord{}
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("export: marshal snapshot: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(snapshotSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("export: validate snapshot: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("export: snapshot failed schema validation: %s", strings.Join(msgs, "; "))
	}

	return snap, nil
}
