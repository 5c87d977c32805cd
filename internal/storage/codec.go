package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/maruel/persiston/internal/docdb"
	"gopkg.in/yaml.v3"
)

// Codec serializes a whole dataset.
type Codec interface {
	Marshal(data docdb.Dataset) ([]byte, error)
	Unmarshal(b []byte) (docdb.Dataset, error)
}

// CodecForPath picks a codec from the file extension: YAML for .yaml and
// .yml, TOML for .toml, JSON otherwise.
func CodecForPath(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLCodec{}
	case ".toml":
		return TOMLCodec{}
	default:
		return JSONCodec{}
	}
}

// CodecForFormat returns the codec named by format: json, yaml or toml.
func CodecForFormat(format string, indent bool) (Codec, error) {
	switch format {
	case "", "json":
		return JSONCodec{Indent: indent}, nil
	case "yaml", "yml":
		return YAMLCodec{}, nil
	case "toml":
		return TOMLCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// JSONCodec is the default codec.
type JSONCodec struct {
	// Indent pretty prints with two spaces.
	Indent bool
}

// Marshal implements Codec.
func (c JSONCodec) Marshal(data docdb.Dataset) ([]byte, error) {
	if c.Indent {
		return json.MarshalIndent(data, "", "  ")
	}
	return json.Marshal(data)
}

// Unmarshal implements Codec. Numbers decode as float64.
func (JSONCodec) Unmarshal(b []byte) (docdb.Dataset, error) {
	var d docdb.Dataset
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// YAMLCodec stores the dataset as a YAML document.
type YAMLCodec struct{}

// Marshal implements Codec.
func (YAMLCodec) Marshal(data docdb.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(data)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal implements Codec.
func (YAMLCodec) Unmarshal(b []byte) (docdb.Dataset, error) {
	var d map[string]any
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return docdb.Dataset(d), nil
}

// TOMLCodec stores each collection as an array of tables.
//
// TOML has no null, so nil values are dropped on write.
type TOMLCodec struct{}

// Marshal implements Codec.
func (TOMLCodec) Marshal(data docdb.Dataset) ([]byte, error) {
	clean, _ := dropNil(map[string]any(data.Clone()))
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(clean); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal implements Codec. Integers decode as int64.
func (TOMLCodec) Unmarshal(b []byte) (docdb.Dataset, error) {
	var d map[string]any
	if _, err := toml.Decode(string(b), &d); err != nil {
		return nil, err
	}
	return docdb.Dataset(d), nil
}

// CodecFuncs adapts a pair of functions to Codec.
type CodecFuncs struct {
	Serialize   func(docdb.Dataset) ([]byte, error)
	Deserialize func([]byte) (docdb.Dataset, error)
}

// Marshal implements Codec.
func (c CodecFuncs) Marshal(data docdb.Dataset) ([]byte, error) {
	return c.Serialize(data)
}

// Unmarshal implements Codec.
func (c CodecFuncs) Unmarshal(b []byte) (docdb.Dataset, error) {
	return c.Deserialize(b)
}

// dropNil removes nil values from objects, recursively. Nil elements of
// sequences are removed too. It reports false when v itself is nil.
func dropNil(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		for k, e := range x {
			if c, ok := dropNil(e); ok {
				x[k] = c
			} else {
				delete(x, k)
			}
		}
		return x, true
	case []any:
		out := x[:0]
		for _, e := range x {
			if c, ok := dropNil(e); ok {
				out = append(out, c)
			}
		}
		return out, true
	}
	return v, true
}
