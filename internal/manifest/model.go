package manifest

import (
	"errors"
	"fmt"
)

// Reserved built-in command names. A Manifest declaring any of these fails to
// load; servers always provide them.
var ReservedCommands = []string{"ping", "echo", "get_info", "spec", "validate", "slow_process"}

// IsReservedCommand reports whether name is a built-in command name.
func IsReservedCommand(name string) bool {
	for _, reserved := range ReservedCommands {
		if name == reserved {
			return true
		}
	}
	return false
}

// Argument types accepted by the validator.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

var validTypes = map[string]struct{}{
	TypeString:  {},
	TypeNumber:  {},
	TypeInteger: {},
	TypeBoolean: {},
	TypeArray:   {},
	TypeObject:  {},
}

var (
	ErrNotFound        = errors.New("manifest: channel or command not found")
	ErrInvalidManifest = errors.New("manifest: invalid manifest")
)

// Manifest describes the channels and commands a server exposes.
type Manifest struct {
	Name        string                  `json:"name" yaml:"name"`
	Version     string                  `json:"version" yaml:"version"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Channels    map[string]*ChannelSpec `json:"channels" yaml:"channels"`
}

// ChannelSpec groups the commands of one logical namespace.
type ChannelSpec struct {
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Commands    map[string]*CommandSpec `json:"commands" yaml:"commands"`
}

// CommandSpec declares one operation, its arguments, and the shape of a
// successful result.
type CommandSpec struct {
	Description string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Arguments   map[string]*ArgumentSpec `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Response    *ArgumentSpec            `json:"response,omitempty" yaml:"response,omitempty"`
}

// ArgumentSpec is the JSON-Schema subset used for one argument or one nested
// value.
type ArgumentSpec struct {
	Type        string                   `json:"type" yaml:"type"`
	Required    bool                     `json:"required,omitempty" yaml:"required,omitempty"`
	Description string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Pattern     string                   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	MinLength   *int                     `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength   *int                     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Minimum     *float64                 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum     *float64                 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Enum        []any                    `json:"enum,omitempty" yaml:"enum,omitempty"`
	Items       *ArgumentSpec            `json:"items,omitempty" yaml:"items,omitempty"`
	Properties  map[string]*ArgumentSpec `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Lookup resolves a command spec by channel and command name.
func (m *Manifest) Lookup(channel, command string) (*CommandSpec, error) {
	ch, ok := m.Channels[channel]
	if !ok {
		return nil, fmt.Errorf("%w: channel %q", ErrNotFound, channel)
	}
	spec, ok := ch.Commands[command]
	if !ok {
		return nil, fmt.Errorf("%w: command %q in channel %q", ErrNotFound, command, channel)
	}
	return spec, nil
}

// HasChannel reports whether channel is declared.
func (m *Manifest) HasChannel(channel string) bool {
	_, ok := m.Channels[channel]
	return ok
}

// Merge folds extra into base. Duplicate channel names conflict.
func Merge(base, extra *Manifest) error {
	if base.Channels == nil {
		base.Channels = make(map[string]*ChannelSpec)
	}
	for name, ch := range extra.Channels {
		if _, exists := base.Channels[name]; exists {
			return fmt.Errorf("%w: duplicate channel %q", ErrInvalidManifest, name)
		}
		base.Channels[name] = ch
	}
	return nil
}
