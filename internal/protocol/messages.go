package protocol

import (
	"encoding/json"
	"time"

	"itemmanager.ai/internal/inventory"
)

// HELLO (client -> server) binds the connection to one container owner.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	OwnerKind       string `json:"owner_kind"`
	OwnerKey        string `json:"owner_key"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	SessionID       string            `json:"session_id"`
	Owner           string            `json:"owner"`
	Items           []inventory.Stack `json:"items"`
	CatalogDigest   string            `json:"catalog_digest"`
	Limits          Limits            `json:"limits"`
}

type Limits struct {
	MaxSlots  int     `json:"max_slots,omitempty"`
	MaxWeight float64 `json:"max_weight,omitempty"`
}

// Operations accepted in ACT.op.
const (
	OpGet            = "GET"
	OpHas            = "HAS"
	OpAdd            = "ADD"
	OpRemove         = "REMOVE"
	OpRemoveAt       = "REMOVE_AT"
	OpRemoveQuantity = "REMOVE_QUANTITY"
	OpSplit          = "SPLIT"
	OpStack          = "STACK"
	OpUpdate         = "UPDATE"
	OpUse            = "USE"
	OpUseOne         = "USE_ONE"
	OpClear          = "CLEAR"
)

// ACT (client -> server). Which fields are read depends on Op.
type ActMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ReqID           string         `json:"req_id"`
	Op              string         `json:"op"`
	ItemID          string         `json:"item_id,omitempty"`
	UID             string         `json:"uid,omitempty"`
	FromUID         string         `json:"from_uid,omitempty"`
	Quantity        int            `json:"quantity,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	Patch           *PatchMsg      `json:"patch,omitempty"`
}

type PatchMsg struct {
	Quantity   *int           `json:"quantity,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Decay      *int           `json:"decay,omitempty"`
	Durability *int           `json:"durability,omitempty"`
}

func (p PatchMsg) Patch() inventory.Patch {
	return inventory.Patch{Quantity: p.Quantity, Data: p.Data, Decay: p.Decay, Durability: p.Durability}
}

// RESULT (server -> client) answers one ACT.
type ResultMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ReqID           string            `json:"req_id"`
	OK              bool              `json:"ok"`
	Code            string            `json:"code,omitempty"`
	Message         string            `json:"message,omitempty"`
	Items           []inventory.Stack `json:"items,omitempty"`
	Stack           *inventory.Stack  `json:"stack,omitempty"`
	Has             *bool             `json:"has,omitempty"`
}

// EVENT (server -> client) relays one bus notification about the bound owner.
type EventMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Kind            string          `json:"kind"`
	Owner           string          `json:"owner"`
	Time            time.Time       `json:"time"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}
