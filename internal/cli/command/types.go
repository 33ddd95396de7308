package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const maxSourceFileBytes = 1 << 20

type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldBool
	// FieldFile names a local file whose contents are sent instead.
	FieldFile
)

// Field is one key=value argument a command accepts.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
	Query    bool
}

// Command maps "<service> <action>" to an HTTP endpoint.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	RequiresAuth bool
	Fields       []Field
	// Watch follows the submission after the request.
	Watch bool
}

type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params are case-insensitive user arguments.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[normalize(key)]
}

func (p Params) Set(key, value string) {
	p[normalize(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[normalize(key)]
	return ok
}

// Canonicalize folds keys to their normalized form, then renames aliased
// keys to their field name. An explicit field name wins over its alias.
func (p Params) Canonicalize(fields []Field) {
	for key, value := range p {
		norm := normalize(key)
		if norm == key {
			continue
		}
		delete(p, key)
		if _, set := p[norm]; !set {
			p[norm] = value
		}
	}
	for _, field := range fields {
		name := normalize(field.Name)
		for _, alias := range field.Aliases {
			key := normalize(alias)
			value, ok := p[key]
			if !ok {
				continue
			}
			delete(p, key)
			if _, set := p[name]; !set {
				p[name] = value
			}
		}
	}
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func ParseInt(value string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(value))
}

func ParseBool(value string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(value))
}

// ReadFile loads a source file, refusing anything over 1 MiB.
func ReadFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if info.Size() > maxSourceFileBytes {
		return "", fmt.Errorf("read %s: file is %d bytes, limit is %d", path, info.Size(), maxSourceFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
