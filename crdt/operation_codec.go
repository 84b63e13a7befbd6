package crdt

import (
	"encoding/json"
	"fmt"
)

// opEnvelope is the tagged-union-on-the-wire encoding for a CrdtOp:
// a type discriminator plus the variant's own JSON payload. OpLog
// serialization and the session server's wire protocol both use it.
type opEnvelope struct {
	Type    OpType          `json:"op_type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeOp renders op as its wire envelope.
func EncodeOp(op CrdtOp) (opEnvelope, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return opEnvelope{}, fmt.Errorf("crdt: encode %s: %w", op.OpType(), err)
	}
	return opEnvelope{Type: op.OpType(), Payload: payload}, nil
}

// DecodeOp parses env back into the concrete CrdtOp variant named by
// its Type tag.
func DecodeOp(env opEnvelope) (CrdtOp, error) {
	switch env.Type {
	case OpTextInsert:
		var v TextInsert
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("crdt: decode text_insert: %w", err)
		}
		return v, nil
	case OpTextDelete:
		var v TextDelete
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("crdt: decode text_delete: %w", err)
		}
		return v, nil
	case OpFormatSet:
		var v FormatSet
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("crdt: decode format_set: %w", err)
		}
		return v, nil
	case OpBlockInsert:
		var v BlockInsert
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("crdt: decode block_insert: %w", err)
		}
		return v, nil
	case OpBlockDelete:
		var v BlockDelete
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("crdt: decode block_delete: %w", err)
		}
		return v, nil
	case OpBlockMove:
		var v BlockMove
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("crdt: decode block_move: %w", err)
		}
		return v, nil
	case OpBlockUpdate:
		var v BlockUpdate
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("crdt: decode block_update: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("crdt: unknown op_type %q", env.Type)
	}
}

// MarshalOpJSON renders op as its tagged envelope.
func MarshalOpJSON(op CrdtOp) ([]byte, error) {
	env, err := EncodeOp(op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalOpJSON parses a tagged envelope back into a CrdtOp.
func UnmarshalOpJSON(data []byte) (CrdtOp, error) {
	var env opEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("crdt: unmarshal envelope: %w", err)
	}
	return DecodeOp(env)
}
