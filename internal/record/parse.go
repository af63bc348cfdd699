package record

import (
	"regexp"
	"strconv"
	"strings"
)

// Item is one parsed food line. Quantity is nil when the analysis named
// the food without a count.
type Item struct {
	Name     string
	Quantity *float64
}

var (
	// itemPattern matches "name[ ]count[unit]" lines such as 蘋果 2個.
	itemPattern = regexp.MustCompile(`([^\d\s]+?)\s*(\d+(?:\.\d+)?)\s*(個|件|包|盒|瓶|罐|條|根|片|塊|斤|公斤|克|kg|g)?`)
	// bareNamePattern strips punctuation from lines that carry no count.
	bareNamePattern = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

const maxNameLength = 255

// ParseItems extracts food items from the analysis text, one per line.
// Lines without a count keep a nil quantity. When nothing parses, the
// whole text becomes a single unquantified item so the record is never
// silently dropped.
func ParseItems(text string) []Item {
	var items []Item
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := itemPattern.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			if qty, err := strconv.ParseFloat(m[2], 64); err == nil {
				items = append(items, Item{Name: name, Quantity: &qty})
			} else {
				items = append(items, Item{Name: name})
			}
			continue
		}

		name := strings.TrimSpace(bareNamePattern.ReplaceAllString(line, ""))
		if name != "" {
			items = append(items, Item{Name: name})
		}
	}

	if len(items) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			items = append(items, Item{Name: truncate(trimmed, maxNameLength)})
		}
	}
	return items
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
