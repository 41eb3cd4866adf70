package registry

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// LoadFile reads a Windows .REG file (UTF-16 with BOM, or ANSI/UTF-8) and
// returns a registry pre-populated with its contents, overwriting any
// default seeded keys.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := decodeRegistryText(raw)
	r := WithDefaults()
	if err := MergeRegString(r, text, Overwrite); err != nil {
		return nil, err
	}
	return r, nil
}

// decodeRegistryText honors a UTF-16 BOM (LE or BE) and otherwise falls
// back to a heuristic sniff (many zero bytes on alternating offsets) before
// treating the content as UTF-8/ASCII, matching exported .REG files which
// are UTF-16LE without always round-tripping cleanly through other tools.
func decodeRegistryText(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xFE {
		return decodeUTF16(raw[2:], true)
	}
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		return decodeUTF16(raw[2:], false)
	}
	if looksLikeUTF16LE(raw) {
		return decodeUTF16(raw, true)
	}
	return string(raw)
}

func looksLikeUTF16LE(b []byte) bool {
	n := len(b)
	if n > 64 {
		n = 64
	}
	var zeros, total int
	for i := 1; i < n; i += 2 {
		total++
		if b[i] == 0 {
			zeros++
		}
	}
	return total > 0 && zeros*3 >= total*2
}

func decodeUTF16(b []byte, littleEndian bool) string {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	if !littleEndian {
		enc = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	}
	decoded, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}

type pendingValue struct {
	hive      Hive
	path      []string
	valueName *string
	value     strings.Builder
}

// MergeRegString parses the textual contents of a .REG file and applies its
// key/value entries onto registry using mode.
func MergeRegString(registry *Registry, contents string, mode MergeMode) error {
	var currentHive Hive
	haveHive := false
	var currentPath []string
	var continuation strings.Builder
	var pending *pendingValue

	lines := strings.Split(strings.ReplaceAll(contents, "\r\n", "\n"), "\n")

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if pending != nil {
			if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
				pending = nil
			} else {
				pending.value.WriteByte('\n')
				pending.value.WriteString(line)
				if isCompleteQuotedValue(pending.value.String()) {
					value, err := parseRegistryValue(pending.value.String())
					if err != nil {
						return err
					}
					if err := registry.apply(refFor(pending.hive, pending.path, pending.valueName), value, mode, true); err != nil {
						return err
					}
					pending = nil
				}
				continue
			}
		}

		if strings.HasPrefix(line, "Windows Registry Editor") {
			continue
		}
		if strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "\\") {
			continuation.WriteString(strings.TrimSuffix(line, "\\"))
			continue
		}
		if continuation.Len() > 0 {
			continuation.WriteString(line)
			line = continuation.String()
			continuation.Reset()
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			key := line[1 : len(line)-1]
			hive, path, err := parseKeyPath(key)
			if err != nil {
				return err
			}
			currentHive = hive
			currentPath = path
			haveHive = true
			continue
		}

		if !haveHive {
			continue
		}

		nameRaw, valueRaw, ok := splitValueLine(line)
		if !ok {
			continue
		}
		valueName, err := parseValueName(nameRaw)
		if err != nil {
			continue
		}

		if strings.HasPrefix(valueRaw, `"`) && !isCompleteQuotedValue(valueRaw) {
			p := &pendingValue{hive: currentHive, path: currentPath, valueName: valueName}
			p.value.WriteString(valueRaw)
			pending = p
			continue
		}

		value, err := parseRegistryValue(valueRaw)
		if err != nil {
			return err
		}
		if err := registry.apply(refFor(currentHive, currentPath, valueName), value, mode, true); err != nil {
			return err
		}
	}
	return nil
}

func refFor(hive Hive, path []string, valueName *string) string {
	ref := hive.String()
	if len(path) > 0 {
		ref += "\\" + strings.Join(path, "\\")
	}
	if valueName != nil {
		ref += "@" + *valueName
	}
	return ref
}

func parseKeyPath(line string) (Hive, []string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(line), "/", "\\")
	parts := strings.Split(normalized, "\\")
	if len(parts) == 0 || parts[0] == "" {
		return 0, nil, fmt.Errorf("registry: missing hive in key %q", line)
	}
	hive, ok := ParseHive(parts[0])
	if !ok {
		return 0, nil, fmt.Errorf("registry: unknown hive %q", parts[0])
	}
	var path []string
	for _, p := range parts[1:] {
		if p != "" {
			path = append(path, p)
		}
	}
	return hive, path, nil
}

func parseValueName(nameRaw string) (*string, error) {
	nameRaw = strings.TrimSpace(nameRaw)
	if nameRaw == "@" || strings.EqualFold(nameRaw, "(default)") {
		return nil, nil
	}
	s, err := parseStringLiteral(nameRaw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// splitValueLine splits "name"="value" on the first unquoted '='.
func splitValueLine(line string) (string, string, bool) {
	inQuotes := false
	escaped := false
	for i, ch := range line {
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inQuotes = !inQuotes
			continue
		}
		if ch == '=' && !inQuotes {
			return line[:i], line[i+len("="):], true
		}
	}
	return "", "", false
}

func isCompleteQuotedValue(valueRaw string) bool {
	trimmed := strings.TrimRight(valueRaw, " \t")
	if !strings.HasPrefix(trimmed, `"`) || !strings.HasSuffix(trimmed, `"`) || len(trimmed) < 2 {
		return false
	}
	body := trimmed[:len(trimmed)-1]
	backslashes := 0
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] == '\\' {
			backslashes++
		} else {
			break
		}
	}
	return backslashes%2 == 0
}

func parseStringLiteral(valueRaw string) (string, error) {
	trimmed := strings.TrimSpace(valueRaw)
	if !strings.HasPrefix(trimmed, `"`) || !strings.HasSuffix(trimmed, `"`) || len(trimmed) < 2 {
		return "", fmt.Errorf("registry: expected quoted string, got %q", valueRaw)
	}
	inner := trimmed[1 : len(trimmed)-1]
	return unescapeRegString(inner), nil
}

func unescapeRegString(input string) string {
	var out strings.Builder
	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if ch == '\\' && i+1 < len(runes) {
			i++
			switch runes[i] {
			case '\\':
				out.WriteRune('\\')
			case '"':
				out.WriteRune('"')
			case 'n':
				out.WriteRune('\n')
			case 'r':
				out.WriteRune('\r')
			default:
				out.WriteRune('\\')
				out.WriteRune(runes[i])
			}
			continue
		}
		out.WriteRune(ch)
	}
	return out.String()
}

func parseRegistryValue(valueRaw string) (Value, error) {
	lowered := strings.ToLower(valueRaw)
	switch {
	case strings.HasPrefix(lowered, `"`):
		s, err := parseStringLiteral(valueRaw)
		if err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case strings.HasPrefix(lowered, "dword:"):
		hex := strings.TrimSpace(valueRaw[len("dword:"):])
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return Value{}, fmt.Errorf("registry: invalid dword value %q", hex)
		}
		return DwordValue(uint32(n)), nil
	case strings.HasPrefix(lowered, "hex"):
		kind, data, err := splitHexValue(valueRaw)
		if err != nil {
			return Value{}, err
		}
		raw, err := parseHexBytes(data)
		if err != nil {
			return Value{}, err
		}
		switch kind {
		case "2":
			return StringValue(decodeUTF16NullTerminated(raw)), nil
		case "7":
			return MultiStringValue(decodeMultiSZ(raw)), nil
		default:
			return BinaryValue(raw), nil
		}
	default:
		return Value{}, fmt.Errorf("registry: unsupported value %q", valueRaw)
	}
}

func splitHexValue(valueRaw string) (kind string, data string, err error) {
	idx := strings.Index(valueRaw, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("registry: missing hex data in %q", valueRaw)
	}
	prefix := valueRaw[:idx]
	data = valueRaw[idx+1:]
	if strings.HasPrefix(prefix, "hex(") {
		end := strings.Index(prefix, ")")
		if end < 0 {
			return "", "", fmt.Errorf("registry: invalid hex type in %q", prefix)
		}
		kind = prefix[len("hex(") : end]
	}
	return kind, data, nil
}

func parseHexBytes(data string) ([]byte, error) {
	var out []byte
	for _, token := range strings.Split(data, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		token = strings.TrimPrefix(token, "﻿")
		n, err := strconv.ParseUint(token, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("registry: invalid hex byte %q", token)
		}
		out = append(out, byte(n))
	}
	return out, nil
}

func decodeUTF16NullTerminated(raw []byte) string {
	s := decodeUTF16(raw, true)
	return strings.TrimRight(s, "\x00")
}

func decodeMultiSZ(raw []byte) []string {
	s := decodeUTF16(raw, true)
	parts := strings.Split(s, "\x00")
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
