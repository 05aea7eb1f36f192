package checkpoint

import (
	"bytes"
	"encoding/json"
	"math"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes checkpoint containers.
type Codec interface {
	Name() string
	// Binary reports whether tensor payloads are stored as raw byte strings.
	Binary() bool
	Decode(data []byte) (any, error)
	Encode(v map[string]any) ([]byte, error)
}

var (
	CBOR Codec = newCBORCodec()
	JSON Codec = jsonCodec{}
)

// CodecFor picks the codec from the file extension. JSON checkpoints use the
// .json extension; everything else is CBOR.
func CodecFor(path string) Codec {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSON
	}

	return CBOR
}

type cborCodec struct {
	dec cbor.DecMode
	enc cbor.EncMode
}

func newCBORCodec() cborCodec {
	dec, err := cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxArrayElements: math.MaxInt32,
		MaxMapPairs:      math.MaxInt32,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	// Core deterministic encoding sorts map keys so identical containers
	// always serialize to identical bytes.
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	return cborCodec{dec: dec, enc: enc}
}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Binary() bool { return true }

func (c cborCodec) Decode(data []byte) (any, error) {
	var v any
	if err := c.dec.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	return v, nil
}

func (c cborCodec) Encode(v map[string]any) ([]byte, error) {
	return c.enc.Marshal(v)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	return v, nil
}

func (jsonCodec) Encode(v map[string]any) ([]byte, error) {
	return json.Marshal(v)
}
