package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Blob is an opaque serialized payload. The worker stores and forwards
// blobs without inspecting them; only the compiler engine knows their format.
type Blob []byte

// Equal reports whether two blobs hold the same bytes. A nil blob and an
// empty blob are equal.
func (b Blob) Equal(other Blob) bool {
	return bytes.Equal(b, other)
}

// Clone returns a copy of b that shares no memory with it.
func (b Blob) Clone() Blob {
	if b == nil {
		return nil
	}
	return append(Blob{}, b...)
}

// String renders the blob for logs and traces. Printable payloads are shown
// verbatim, anything else as a byte count.
func (b Blob) String() string {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("<%d bytes>", len(b))
		}
	}
	return string(b)
}

// ClientID identifies one orchestrator client whose schema the worker mirrors.
type ClientID int64

// DBUpdate is the per-database part of a sync message. Each payload field is
// an independent tri-state instruction.
type DBUpdate struct {
	UserSchema      Update[Blob] `json:"user_schema,omitzero"`
	ReflectionCache Update[Blob] `json:"reflection_cache,omitzero"`
	DatabaseConfig  Update[Blob] `json:"database_config,omitzero"`
}

// IsEmpty reports whether the update leaves every field unchanged.
func (u DBUpdate) IsEmpty() bool {
	return u.UserSchema.Kind() == Unchanged &&
		u.ReflectionCache.Kind() == Unchanged &&
		u.DatabaseConfig.Kind() == Unchanged
}

// SyncMessage carries the state delta the orchestrator computed for one
// client on one call.
//
// A nil DBs map means the field was absent. A non-nil empty map is present
// but names no databases, which is a valid full snapshot for a client with
// no databases.
type SyncMessage struct {
	DBs            map[string]DBUpdate `json:"dbs,omitempty"`
	DroppedDBs     []string            `json:"dropped_dbs,omitempty"`
	GlobalSchema   Update[Blob]        `json:"global_schema,omitzero"`
	InstanceConfig Update[Blob]        `json:"instance_config,omitzero"`
}

// UnmarshalJSON keeps "dbs": {} distinct from an absent dbs key.
func (m *SyncMessage) UnmarshalJSON(data []byte) error {
	type plain SyncMessage
	var raw struct {
		plain
		DBs *map[string]DBUpdate `json:"dbs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = SyncMessage(raw.plain)
	m.DBs = nil
	if raw.DBs != nil {
		m.DBs = *raw.DBs
		if m.DBs == nil {
			m.DBs = map[string]DBUpdate{}
		}
	}
	return nil
}

// StateRef is where a state-bound call takes its transaction state from:
// either an explicit serialized blob or the continuation marker, which
// substitutes the worker's last produced state.
type StateRef struct {
	Blob      Blob `json:"blob,omitempty"`
	ReuseLast bool `json:"reuse_last_state,omitempty"`
}

// StateBlob returns a reference to an explicit serialized state.
func StateBlob(b Blob) StateRef {
	return StateRef{Blob: b}
}

// ReuseLastState returns the continuation marker.
func ReuseLastState() StateRef {
	return StateRef{ReuseLast: true}
}

// IsZero reports whether the reference names no state at all.
func (r StateRef) IsZero() bool {
	return !r.ReuseLast && r.Blob == nil
}

// IsMarker reports whether the reference is the continuation marker.
func (r StateRef) IsMarker() bool {
	return r.ReuseLast
}

// ClientContext is the schema-binding part of an inbound call: which client
// and database it is for, the sync delta to apply first, and the clients to
// evict before that.
type ClientContext struct {
	ID         ClientID     `json:"client_id"`
	DB         string       `json:"dbname,omitempty"`
	Sync       *SyncMessage `json:"sync,omitempty"`
	Invalidate []ClientID   `json:"invalidate,omitempty"`
}

// Call is one inbound request to the worker.
//
// Client is set for client calls (schema-bound operations and passthrough
// operations that need a synced client). State is used by state-bound
// operations only. Args is the remaining, opaque operation payload.
type Call struct {
	Op     string         `json:"op"`
	Client *ClientContext `json:"client,omitempty"`
	State  StateRef       `json:"state,omitzero"`
	Args   Blob           `json:"args,omitempty"`
}

// Reply is the outbound result of a call. State is nil when the operation
// produced no new transaction state.
type Reply struct {
	Result Blob `json:"result"`
	State  Blob `json:"state"`
}

// RuntimeParams describes the backend the compiler targets. It is
// delivered once per worker through the init bundle.
type RuntimeParams struct {
	TenantID              string   `json:"tenant_id"`
	ServerVersion         string   `json:"server_version"`
	MaxBackendConnections int      `json:"max_backend_connections"`
	Capabilities          []string `json:"capabilities,omitempty"`
}

// InitBundle is the single payload of the __init_worker__ operation.
type InitBundle struct {
	RuntimeParams    RuntimeParams `json:"runtime_params"`
	StdSchema        Blob          `json:"std_schema"`
	ReflectionSchema Blob          `json:"reflection_schema"`
	ClassLayout      Blob          `json:"class_layout"`
}

// EncodeInitBundle serializes an init bundle for the __init_worker__ call.
func EncodeInitBundle(b InitBundle) (Blob, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode init bundle: %w", err)
	}
	return data, nil
}

// DecodeInitBundle parses the payload of an __init_worker__ call.
// The standard schema is required; the compiler cannot start without it.
func DecodeInitBundle(data Blob) (InitBundle, error) {
	var b InitBundle
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return InitBundle{}, fmt.Errorf("decode init bundle: %w", err)
	}
	if len(b.StdSchema) == 0 {
		return InitBundle{}, fmt.Errorf("decode init bundle: std_schema is required")
	}
	return b, nil
}
