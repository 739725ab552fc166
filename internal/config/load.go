// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/sentinel/internal/errors"
)

// EnvPrefix selects the environment variables visible to HCL as env.<NAME>.
const EnvPrefix = "SENTINEL_"

// LoadResult carries the loaded config and anything worth telling the operator.
type LoadResult struct {
	Config   *Config
	Path     string
	Warnings []string
}

// LoadFile loads a config file (HCL or JSON) and validates it.
func LoadFile(path string) (*Config, error) {
	result, err := LoadFileWithResult(path)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadFileWithResult loads a config file, choosing the format by extension.
// Files with neither extension are tried as HCL first, then JSON.
func LoadFileWithResult(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "failed to read config file %s", path)
	}
	baseDir := filepath.Dir(path)

	var result *LoadResult
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		result, err = loadHCL(data, path, baseDir)
	case ".json":
		result, err = loadJSON(data, baseDir)
	default:
		var hclErr, jsonErr error
		result, hclErr = loadHCL(data, path, baseDir)
		if hclErr != nil {
			result, jsonErr = loadJSON(data, baseDir)
			if jsonErr != nil {
				err = errors.Wrapf(hclErr, errors.KindValidation, "failed to parse config as HCL or JSON (JSON error: %v)", jsonErr)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	result.Path = path
	return result, nil
}

// LoadHCL loads and validates config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	result, err := loadHCL(data, filename, filepath.Dir(filename))
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadJSON loads and validates config from JSON bytes.
func LoadJSON(data []byte) (*Config, error) {
	result, err := loadJSON(data, "")
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

func loadHCL(data []byte, filename, baseDir string) (*LoadResult, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Wrap(diags, errors.KindValidation, "failed to parse HCL")
	}

	var f File
	diags = gohcl.DecodeBody(file.Body, evalContext(), &f)
	if diags.HasErrors() {
		return nil, errors.Wrap(diags, errors.KindValidation, "failed to decode HCL")
	}
	return finish(&f, baseDir)
}

func loadJSON(data []byte, baseDir string) (*LoadResult, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to parse JSON config")
	}
	return finish(&f, baseDir)
}

func finish(f *File, baseDir string) (*LoadResult, error) {
	cfg := DefaultConfig()
	if err := f.apply(cfg, baseDir); err != nil {
		return nil, err
	}

	result := &LoadResult{Config: cfg}
	if cfg.SchemaVersion != CurrentSchemaVersion {
		result.Warnings = append(result.Warnings,
			"schema_version "+cfg.SchemaVersion+" differs from "+CurrentSchemaVersion)
	}
	if cfg.Cache.NATSURL == "" && f.Cache != nil && f.Cache.Subject != nil {
		result.Warnings = append(result.Warnings, "cache.subject is set but nats_url is empty; verdicts will not be published")
	}

	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Wrap(errs, errors.KindValidation, "invalid configuration")
	}
	return result, nil
}

// evalContext exposes SENTINEL_* environment variables as env.NAME.
func evalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": env}}
}
