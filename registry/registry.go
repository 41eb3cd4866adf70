// Package registry implements an in-memory Windows registry tree: the
// hive/path/value shape consulted by the advapi32 stubs and seeded from
// either a .REG file or a YAML tree.
package registry

import (
	"fmt"
	"strings"
	"sync"
)

// Hive identifies a top-level registry hive.
type Hive int

const (
	ClassesRoot Hive = iota
	CurrentUser
	LocalMachine
	Users
	CurrentConfig
)

var hiveNames = map[string]Hive{
	"HKCR":                ClassesRoot,
	"HKEY_CLASSES_ROOT":   ClassesRoot,
	"HKCU":                CurrentUser,
	"HKEY_CURRENT_USER":   CurrentUser,
	"HKLM":                LocalMachine,
	"HKEY_LOCAL_MACHINE":  LocalMachine,
	"HKU":                 Users,
	"HKEY_USERS":          Users,
	"HKCC":                CurrentConfig,
	"HKEY_CURRENT_CONFIG": CurrentConfig,
}

// ParseHive resolves a hive abbreviation or full name, case-insensitively.
func ParseHive(name string) (Hive, bool) {
	h, ok := hiveNames[strings.ToUpper(strings.TrimSpace(name))]
	return h, ok
}

func (h Hive) String() string {
	switch h {
	case ClassesRoot:
		return "HKCR"
	case CurrentUser:
		return "HKCU"
	case LocalMachine:
		return "HKLM"
	case Users:
		return "HKU"
	case CurrentConfig:
		return "HKCC"
	default:
		return "HK?"
	}
}

// ValueKind tags the type carried by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindDword
	KindBinary
	KindMultiString
)

// Value is the tagged union of data a registry value can hold.
type Value struct {
	Kind   ValueKind
	String string
	Dword  uint32
	Binary []byte
	Multi  []string
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.String == o.String
	case KindDword:
		return v.Dword == o.Dword
	case KindBinary:
		if len(v.Binary) != len(o.Binary) {
			return false
		}
		for i := range v.Binary {
			if v.Binary[i] != o.Binary[i] {
				return false
			}
		}
		return true
	case KindMultiString:
		if len(v.Multi) != len(o.Multi) {
			return false
		}
		for i := range v.Multi {
			if v.Multi[i] != o.Multi[i] {
				return false
			}
		}
		return true
	}
	return false
}

func StringValue(s string) Value       { return Value{Kind: KindString, String: s} }
func DwordValue(d uint32) Value        { return Value{Kind: KindDword, Dword: d} }
func BinaryValue(b []byte) Value       { return Value{Kind: KindBinary, Binary: b} }
func MultiStringValue(m []string) Value { return Value{Kind: KindMultiString, Multi: m} }

// Key is one node in the registry tree: an optional default value plus a
// set of named values. Children are addressed by path segment under the
// owning Registry's per-hive map, not stored inline, so renames/queries stay
// simple map operations.
type Key struct {
	Default *Value
	Values  map[string]Value
}

func newKey() *Key {
	return &Key{Values: map[string]Value{}}
}

// MergeMode controls whether ApplyValue overwrites or preserves an existing
// value, mirroring RegistryMergeMode::{Overwrite,KeepExisting}.
type MergeMode int

const (
	Overwrite MergeMode = iota
	KeepExisting
)

// Registry is the per-VM in-memory tree. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	keys map[Hive]map[string]*Key
}

// New returns an empty registry with no seeded keys.
func New() *Registry {
	return &Registry{keys: map[Hive]map[string]*Key{}}
}

// WithDefaults returns a registry with an empty key map for each of the five
// hives. It seeds no keys or values (mirrors Registry::with_defaults).
func WithDefaults() *Registry {
	r := New()
	for _, hive := range []Hive{ClassesRoot, CurrentUser, LocalMachine, Users, CurrentConfig} {
		r.keys[hive] = map[string]*Key{}
	}
	return r
}

func joinPath(path []string) string {
	return strings.ToLower(strings.Join(path, "\\"))
}

func (r *Registry) keyLocked(hive Hive, path []string, create bool) *Key {
	hiveMap, ok := r.keys[hive]
	if !ok {
		if !create {
			return nil
		}
		hiveMap = map[string]*Key{}
		r.keys[hive] = hiveMap
	}
	p := joinPath(path)
	k, ok := hiveMap[p]
	if !ok {
		if !create {
			return nil
		}
		k = newKey()
		hiveMap[p] = k
	}
	return k
}

// ParsedKey is a fully decomposed registry reference: HIVE\path\to\key
// optionally followed by @ValueName, or @ / (Default) for the default
// value.
type ParsedKey struct {
	Hive      Hive
	Path      []string
	ValueName *string
}

// ParseKey parses "HKCR\CLSID\{GUID}\InprocServer32@ThreadingModel"-style
// references. A bare reference with no "@" addresses the key's default
// value.
func ParseKey(ref string) (ParsedKey, error) {
	normalized := strings.ReplaceAll(ref, "/", "\\")

	keyPart := normalized
	var valueName *string
	if idx := strings.Index(normalized, "@"); idx >= 0 {
		keyPart = normalized[:idx]
		name := normalized[idx+1:]
		if name != "" && !strings.EqualFold(name, "(default)") {
			valueName = &name
		}
	}

	segments := strings.Split(keyPart, "\\")
	if len(segments) == 0 || segments[0] == "" {
		return ParsedKey{}, fmt.Errorf("registry: missing hive in %q", ref)
	}
	hive, ok := ParseHive(segments[0])
	if !ok {
		return ParsedKey{}, fmt.Errorf("registry: unknown hive %q", segments[0])
	}

	var path []string
	for _, seg := range segments[1:] {
		if seg != "" {
			path = append(path, seg)
		}
	}

	return ParsedKey{Hive: hive, Path: path, ValueName: valueName}, nil
}

// wow6432Redirect rewrites HKLM\SOFTWARE\... / HKCU\SOFTWARE\... references
// (other than ones already under WOW6432Node) to their WOW6432Node
// equivalent, matching 32-bit process registry redirection.
func wow6432Redirect(hive Hive, path []string) []string {
	if (hive != LocalMachine && hive != CurrentUser) || len(path) == 0 {
		return path
	}
	if !strings.EqualFold(path[0], "SOFTWARE") {
		return path
	}
	if len(path) > 1 && strings.EqualFold(path[1], "WOW6432Node") {
		return path
	}
	redirected := make([]string, 0, len(path)+1)
	redirected = append(redirected, path[0], "WOW6432Node")
	redirected = append(redirected, path[1:]...)
	return redirected
}

// Set writes a value, always overwriting any existing one, applying
// WOW6432Node redirection for 32-bit SOFTWARE subtree access.
func (r *Registry) Set(ref string, value Value) error {
	return r.apply(ref, value, Overwrite, true)
}

// Append writes a value only if none exists yet for that reference. It
// returns whether a write happened.
func (r *Registry) Append(ref string, value Value) (bool, error) {
	existing, err := r.Get(ref)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if err := r.apply(ref, value, KeepExisting, true); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) apply(ref string, value Value, mode MergeMode, redirect bool) error {
	parsed, err := ParseKey(ref)
	if err != nil {
		return err
	}
	path := parsed.Path
	if redirect {
		path = wow6432Redirect(parsed.Hive, path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.keyLocked(parsed.Hive, path, true)

	if parsed.ValueName == nil {
		if mode == KeepExisting && k.Default != nil {
			return nil
		}
		v := value
		k.Default = &v
		return nil
	}
	if mode == KeepExisting {
		if _, ok := k.Values[*parsed.ValueName]; ok {
			return nil
		}
	}
	k.Values[*parsed.ValueName] = value
	return nil
}

// Get reads a value. Reads under HKLM\SOFTWARE or HKCU\SOFTWARE (outside
// WOW6432Node) fall back to the WOW6432Node entry when the direct one is
// absent; reads under other subtrees (e.g. SYSTEM) are never redirected.
func (r *Registry) Get(ref string) (*Value, error) {
	parsed, err := ParseKey(ref)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if v := r.lookup(parsed.Hive, parsed.Path, parsed.ValueName); v != nil {
		return v, nil
	}

	redirected := wow6432Redirect(parsed.Hive, parsed.Path)
	if len(redirected) != len(parsed.Path) {
		return r.lookup(parsed.Hive, redirected, parsed.ValueName), nil
	}
	return nil, nil
}

func (r *Registry) lookup(hive Hive, path []string, valueName *string) *Value {
	k := r.keyLocked(hive, path, false)
	if k == nil {
		return nil
	}
	if valueName == nil {
		return k.Default
	}
	if v, ok := k.Values[*valueName]; ok {
		return &v
	}
	return nil
}

// Key returns the key node at hive/path, or nil if it does not exist.
func (r *Registry) Key(hive Hive, path []string) *Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keyLocked(hive, path, false)
}
