package persistence

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/asaidimu/go-pocketdb/utils"
	"github.com/fxamacker/cbor/v2"
)

// Codec encodes collection state for a FileBackend.
type Codec interface {
	// Extension is the file extension, without the dot.
	Extension() string
	Marshal(state *State) ([]byte, error)
	Unmarshal(data []byte) (*State, error)
}

// JSONCodec writes compact JSON objects with sorted keys. Integers are read
// back as int64 without passing through float64.
//
//
//	{"items":[...],"name":"users","nextID":3,"path":"/data/users.db"}
type JSONCodec struct{}

func (JSONCodec) Extension() string { return "db" }

func (JSONCodec) Marshal(state *State) ([]byte, error) {
	return json.Marshal(state)
}

func (JSONCodec) Unmarshal(data []byte) (*State, error) {
	var state State
	if err := utils.DecodeJSON(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode collection state: %w", err)
	}
	state.normalize()
	return &state, nil
}

// CBORCodec writes the same state as RFC 8949 CBOR.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec creates a CBOR codec using sorted map keys so that equal
// states encode to equal bytes.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("could not initialize cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("could not initialize cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Extension() string { return "cbor" }

func (c *CBORCodec) Marshal(state *State) ([]byte, error) {
	return c.enc.Marshal(state)
}

func (c *CBORCodec) Unmarshal(data []byte) (*State, error) {
	var state State
	if err := c.dec.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode collection state: %w", err)
	}
	state.normalize()
	return &state, nil
}
