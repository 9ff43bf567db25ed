package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dontdude/codebox/internal/sandbox"
)

type profilesFile struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// LoadProfiles returns the built-in profiles with the overrides from path applied.
// An empty path returns the built-in profiles unchanged.
//
// Each entry in the file only needs the fields it changes:
//
//	profiles:
//	  python:
//	    image: python:3.12-alpine
//	    timeout: 5s
//	    limits:
//	      memory: 256m
//	  go:
//	    disabled: true
func LoadProfiles(path string) (map[string]sandbox.Profile, error) {
	profiles := sandbox.DefaultProfiles()
	if path == "" {
		return profiles, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profiles file: %w", err)
	}
	defer f.Close()

	var file profilesFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}

	if err := overlay(profiles, file.Profiles); err != nil {
		return nil, fmt.Errorf("profiles file %s: %w", path, err)
	}
	return profiles, nil
}

func overlay(profiles map[string]sandbox.Profile, overrides map[string]yaml.Node) error {
	var errs []error
	for key, node := range overrides {
		lang := strings.ToLower(strings.TrimSpace(key))
		if lang == sandbox.TypeScript {
			errs = append(errs, fmt.Errorf("%s has no profile of its own, it runs on the %s profile", lang, sandbox.JavaScript))
			continue
		}
		p, ok := profiles[lang]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown language %q", key))
			continue
		}

		// Decoding into the default keeps every field the override leaves out.
		if err := decodeStrict(&node, &p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", lang, err))
			continue
		}
		if !p.Disabled {
			if err := p.Validate(); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		profiles[lang] = p
	}
	return errors.Join(errs...)
}

// decodeStrict decodes node into out, rejecting fields out does not have.
// Node.Decode does not honour KnownFields, so the node goes back through a decoder.
func decodeStrict(node *yaml.Node, out any) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(out)
}
