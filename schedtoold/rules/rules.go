//  Copyright 2026 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package rules loads the process matching rules and decides which of them
// apply to a process.
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/GoogleCloudPlatform/guest-logging-go/logger"
	"gopkg.in/yaml.v3"
)

const (
	// SupportedVersion is the rules file schema version this daemon understands.
	SupportedVersion = 1

	// DefaultPath is where the rules file is read from if not configured otherwise.
	DefaultPath = "/etc/schedtoold.yaml"
)

var (
	// ErrVersionMismatch is returned when the rules file declares a schema
	// version other than SupportedVersion.
	ErrVersionMismatch = errors.New("rules file version mismatch")

	// errBadItem is returned for items that are neither a [pattern, flags]
	// pair nor a pattern/flags mapping.
	errBadItem = errors.New("item must be a [pattern, flags] pair or a mapping with pattern and flags keys")
)

// Rule associates a process name pattern with the flags handed to the
// scheduling utility.
type Rule struct {
	// Pattern is matched as a suffix of the executable path and of the
	// command name.
	Pattern string `yaml:"pattern"`

	// Flags is a whitespace separated list of arguments passed verbatim to the
	// scheduling utility.
	Flags string `yaml:"flags"`
}

// RuleSet is the ordered collection of rules, loaded once at startup.
type RuleSet struct {
	Version int    `yaml:"version"`
	Items   []Rule `yaml:"items"`
}

// UnmarshalYAML accepts either the [pattern, flags] pair form or the mapping
// form of a rule.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		if len(value.Content) != 2 {
			return fmt.Errorf("line %d: %w, got %d elements", value.Line, errBadItem, len(value.Content))
		}
		for _, curr := range value.Content {
			if !isString(curr) {
				return fmt.Errorf("line %d: %w, got non string element", curr.Line, errBadItem)
			}
		}
		r.Pattern = value.Content[0].Value
		r.Flags = value.Content[1].Value
		return nil
	case yaml.MappingNode:
		var hasPattern, hasFlags bool
		for i := 0; i+1 < len(value.Content); i += 2 {
			key, val := value.Content[i], value.Content[i+1]
			if !isString(val) {
				return fmt.Errorf("line %d: %w, got non string %q", val.Line, errBadItem, key.Value)
			}
			switch key.Value {
			case "pattern":
				r.Pattern, hasPattern = val.Value, true
			case "flags":
				r.Flags, hasFlags = val.Value, true
			default:
				return fmt.Errorf("line %d: field %s not found in type rules.Rule", key.Line, key.Value)
			}
		}
		if !hasPattern || !hasFlags {
			return fmt.Errorf("line %d: %w, missing pattern or flags", value.Line, errBadItem)
		}
		return nil
	default:
		return fmt.Errorf("line %d: %w", value.Line, errBadItem)
	}
}

func isString(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.ShortTag() == "!!str"
}

// Matches reports whether exe or commandName ends with the rule's pattern.
// The comparison is an exact byte suffix test.
func (r Rule) Matches(exe, commandName string) bool {
	return strings.HasSuffix(exe, r.Pattern) || strings.HasSuffix(commandName, r.Pattern)
}

// Args splits the rule's flags into discrete arguments.
func (r Rule) Args() []string {
	return strings.Fields(r.Flags)
}

func (r Rule) String() string {
	return fmt.Sprintf("%q -> %q", r.Pattern, r.Flags)
}

// Match returns every rule matching exe or commandName, in declaration order.
func (rs *RuleSet) Match(exe, commandName string) []Rule {
	var res []Rule
	for _, curr := range rs.Items {
		if curr.Matches(exe, commandName) {
			res = append(res, curr)
		}
	}
	return res
}

// Parse decodes and validates a rules document.
func Parse(data []byte) (*RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	res := new(RuleSet)
	if err := dec.Decode(res); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty rules document")
		}
		return nil, err
	}

	if res.Version != SupportedVersion {
		return nil, fmt.Errorf("%w: current is %d, rules file is %d", ErrVersionMismatch, SupportedVersion, res.Version)
	}

	for i, curr := range res.Items {
		if curr.Pattern == "" {
			logger.Warningf("Rule #%d has an empty pattern, it matches every process.", i)
		}
	}

	return res, nil
}

// Load reads and parses the rules file at path.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read rules file %q: %w", path, err)
	}

	res, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}

	logger.Debugf("Loaded %d rule(s) from %q", len(res.Items), path)
	return res, nil
}
