// Package configmap provides an abstraction for reading and writing
// the per account config
package configmap

import (
	"sort"
	"strconv"
	"strings"
)

// Getter provides an interface to get config items
type Getter interface {
	// Get should get an item with the key passed in and return
	// the value. If the item is found then it should return true,
	// otherwise false.
	Get(key string) (value string, ok bool)
}

// Setter provides an interface to set config items
type Setter interface {
	// Set should set an item into persistent config store.
	Set(key, value string) error
}

// Mapper provides an interface to read and write config
type Mapper interface {
	Getter
	Setter
}

// Map provides a wrapper around multiple Setter and
// Getter interfaces.
type Map struct {
	setters []Setter
	getters []Getter
}

// New returns an empty Map
func New() *Map {
	return &Map{}
}

// AddGetter appends a getter onto the end of the getters
//
// Earlier getters take priority over later ones.
func (c *Map) AddGetter(getter Getter) *Map {
	c.getters = append(c.getters, getter)
	return c
}

// AddSetter appends a setter onto the end of the setters
func (c *Map) AddSetter(setter Setter) *Map {
	c.setters = append(c.setters, setter)
	return c
}

// Get gets an item with the key passed in and return the value from
// the first getter. If the item is found then it returns true,
// otherwise false.
func (c *Map) Get(key string) (value string, ok bool) {
	for _, do := range c.getters {
		value, ok = do.Get(key)
		if ok {
			return value, ok
		}
	}
	return "", false
}

// Set sets an item into all the stored setters, returning the first
// error.
func (c *Map) Set(key, value string) (err error) {
	for _, do := range c.setters {
		if setErr := do.Set(key, value); setErr != nil && err == nil {
			err = setErr
		}
	}
	return err
}

// GetDefault returns the value of key in m or def if not found
func GetDefault(m Getter, key, def string) string {
	value, ok := m.Get(key)
	if !ok || value == "" {
		return def
	}
	return value
}

// GetBool returns key in m parsed as a bool, false if absent or invalid
func GetBool(m Getter, key string) bool {
	value, ok := m.Get(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(value)
	return err == nil && b
}

// Simple is a simple Mapper for testing
type Simple map[string]string

// Get the value
func (c Simple) Get(key string) (value string, ok bool) {
	value, ok = c[key]
	return value, ok
}

// Set the value
func (c Simple) Set(key, value string) error {
	c[key] = value
	return nil
}

// String the map value the same way the config parser does, but with
// sorted keys for reproducability.
func (c Simple) String() string {
	var ks = make([]string, 0, len(c))
	for k := range c {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	var out strings.Builder
	for _, k := range ks {
		if out.Len() > 0 {
			out.WriteRune(',')
		}
		out.WriteString(k)
		out.WriteRune('=')
		out.WriteString(strconv.Quote(c[k]))
	}
	return out.String()
}
