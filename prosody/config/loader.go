package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default],
// resolves interpolation and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			cfg := Default()
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if err := Interpolate(&doc); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	resolved, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("config: re-encode yaml: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(resolved))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var referencePattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// interpolator resolves references between scalar values of one document
type interpolator struct {
	scalars map[string]*yaml.Node
	state   map[string]int // 1 resolving, 2 done
}

// Interpolate rewrites every scalar of a YAML document in place:
//
//   - ${section.key} is replaced by the (resolved) value of that key; a bare
//     ${key} refers to a key of the same section.
//   - An unquoted scalar that is an arithmetic expression over numbers
//     (+ - * / and parentheses), after substitution, is replaced by its value.
//
// Unknown references and reference cycles are errors.
func Interpolate(doc *yaml.Node) error {
	in := &interpolator{
		scalars: make(map[string]*yaml.Node),
		state:   make(map[string]int),
	}
	in.index(doc, "")

	for path := range in.scalars {
		if err := in.resolve(path); err != nil {
			return err
		}
	}
	return nil
}

// index records the dotted path of every scalar reachable through mappings
func (in *interpolator) index(node *yaml.Node, path string) {
	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			in.index(child, path)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if path != "" {
				key = path + "." + key
			}
			in.index(node.Content[i+1], key)
		}
	case yaml.SequenceNode:
		for i, child := range node.Content {
			in.index(child, path+"["+strconv.Itoa(i)+"]")
		}
	case yaml.ScalarNode:
		in.scalars[path] = node
	}
}

func (in *interpolator) resolve(path string) error {
	switch in.state[path] {
	case 2:
		return nil
	case 1:
		return fmt.Errorf("interpolation cycle through %s", path)
	}
	in.state[path] = 1

	node := in.scalars[path]
	value := node.Value
	refs := referencePattern.FindAllStringSubmatchIndex(value, -1)
	if len(refs) > 0 {
		var b strings.Builder
		last := 0
		for _, ref := range refs {
			b.WriteString(value[last:ref[0]])
			target := in.qualify(path, value[ref[2]:ref[3]])
			targetNode, ok := in.scalars[target]
			if !ok {
				return fmt.Errorf("%s: unknown reference ${%s}", path, value[ref[2]:ref[3]])
			}
			if err := in.resolve(target); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			b.WriteString(targetNode.Value)
			last = ref[1]
		}
		b.WriteString(value[last:])
		value = b.String()
	}

	quoted := node.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) != 0
	if !quoted {
		if result, ok, err := evaluateIfExpression(value); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		} else if ok {
			value = strconv.FormatFloat(result, 'g', -1, 64)
		}
	}

	if value != node.Value {
		node.Value = value
		if !quoted {
			// Let the decoder resolve the type of the new plain value
			node.Tag = ""
		}
	}
	in.state[path] = 2
	return nil
}

// qualify turns a bare key into a sibling path of from
func (in *interpolator) qualify(from, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, ".") {
		return ref
	}
	if i := strings.LastIndex(from, "."); i >= 0 {
		return from[:i+1] + ref
	}
	return ref
}

// evaluateIfExpression evaluates s when it is an arithmetic expression that
// is not already a plain number
func evaluateIfExpression(s string) (float64, bool, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !strings.ContainsAny(trimmed, "+-*/()") {
		return 0, false, nil
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return 0, false, nil
	}
	if !looksArithmetic(trimmed) {
		return 0, false, nil
	}
	v, err := Evaluate(trimmed)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// looksArithmetic reports whether s only contains expression characters
func looksArithmetic(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case strings.ContainsRune("+-*/(). \teE", r):
		default:
			return false
		}
	}
	return true
}
