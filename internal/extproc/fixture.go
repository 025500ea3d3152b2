package extproc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/protobuf/encoding/protojson"
	"gopkg.in/yaml.v3"
)

var (
	ErrOpenFixture    = errors.New("failed to open request fixture file")
	ErrParseFixture   = errors.New("failed to parse request fixture")
	ErrFixtureHeaders = errors.New("exactly one of request headers or response headers must be present in the request fixture")
)

var (
	requestHeaderKeys  = []string{"request_headers", "requestHeaders"}
	responseHeaderKeys = []string{"response_headers", "responseHeaders"}
)

// LoadFixture reads a ProcessingRequest from a JSON or YAML file. Files ending in
// .yaml or .yml are parsed as YAML, anything else as protobuf JSON.
func LoadFixture(path string) (*extprocv3.ProcessingRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFixture, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseFixture, err)
		}
	}
	return ParseFixture(data)
}

// ParseFixture decodes protobuf JSON. Unknown fields are rejected and exactly one of
// request_headers or response_headers must be set.
func ParseFixture(data []byte) (*extprocv3.ProcessingRequest, error) {
	var top map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFixture, err)
	}
	if hasAny(top, requestHeaderKeys) == hasAny(top, responseHeaderKeys) {
		return nil, ErrFixtureHeaders
	}

	req := &extprocv3.ProcessingRequest{}
	if err := protojson.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFixture, err)
	}
	return req, nil
}

func hasAny(m map[string]json.RawMessage, keys []string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok && string(bytes.TrimSpace(v)) != "null" {
			return true
		}
	}
	return false
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return json.Marshal(doc)
}
