package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// iniEntry is one key = value line together with its section.
type iniEntry struct {
	section string
	key     string
	value   string
	line    int
}

// IniFile is a parsed ini file. Sections keep their first-seen order and
// entries keep file order, so later duplicates can be reported.
type IniFile struct {
	Sections map[string]map[string]string
	Order    []string
	entries  []iniEntry
}

func NewIniFile() *IniFile {
	return &IniFile{Sections: make(map[string]map[string]string)}
}

// ParseIni reads ini text. Keys before the first section are dropped.
// A line that is neither a section, a comment, nor key = value is an error.
func ParseIni(r io.Reader) (*IniFile, error) {
	ini := NewIniFile()
	scanner := bufio.NewScanner(r)
	section := ""
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\uFEFF"))
		if idx := strings.IndexAny(line, ";#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := ini.Sections[section]; !ok {
				ini.Sections[section] = make(map[string]string)
				ini.Order = append(ini.Order, section)
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value, got %q", lineNo, line)
		}
		if section == "" {
			continue
		}
		key, value = strings.TrimSpace(key), trimQuotes(strings.TrimSpace(value))
		ini.Sections[section][key] = value
		ini.entries = append(ini.entries, iniEntry{section: section, key: key, value: value, line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ini, nil
}

// GetSection returns the key-value map for a given section, or nil if not found
func (ini *IniFile) GetSection(name string) map[string]string {
	return ini.Sections[name]
}

// SectionsWithPrefix returns the names of sections starting with prefix in file order.
func (ini *IniFile) SectionsWithPrefix(prefix string) []string {
	var out []string
	for _, s := range ini.Order {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// duplicate returns the first key repeated within a section, if any.
func (ini *IniFile) duplicate(section string) (iniEntry, bool) {
	seen := make(map[string]bool)
	for _, e := range ini.entries {
		if e.section != section {
			continue
		}
		if seen[e.key] {
			return e, true
		}
		seen[e.key] = true
	}
	return iniEntry{}, false
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
