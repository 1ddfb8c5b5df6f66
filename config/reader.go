package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/stableseg/stableseg/logging"
)

// AttributeMap is a decoded but untyped configuration document.
type AttributeMap map[string]interface{}

// FromAttributes applies attrs over Default and validates the result. Keys no option consumes are
// returned so callers can report them.
func FromAttributes(attrs AttributeMap) (*Config, []string, error) {
	conf := Default()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return nil, nil, errors.Wrap(err, "error decoding config")
	}
	if err := conf.CheckValid(); err != nil {
		return nil, md.Unused, err
	}
	return &conf, md.Unused, nil
}

// FromReader decodes a JSON or YAML document. YAML is a superset of JSON, but JSON is decoded with
// encoding/json so numbers and errors read the way JSON users expect.
func FromReader(data []byte, isYAML bool) (AttributeMap, error) {
	attrs := AttributeMap{}
	if isYAML {
		if err := yaml.Unmarshal(data, &attrs); err != nil {
			return nil, errors.Wrap(err, "cannot parse yaml config")
		}
		return attrs, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&attrs); err != nil {
		return nil, errors.Wrap(err, "cannot parse json config")
	}
	return attrs, nil
}

// Read loads the configuration at path. Files ending in .yaml or .yml are YAML, anything else is
// JSON. Unknown keys are logged and otherwise ignored.
func Read(path string, logger logging.Logger) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %q", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	attrs, err := FromReader(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, err
	}
	conf, unused, err := FromAttributes(attrs)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid config file %q", path)
	}
	if len(unused) > 0 {
		logger.Warnw("config has unknown keys", "path", path, "keys", unused)
	}
	return conf, nil
}
