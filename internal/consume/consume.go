// Package consume parses free-text consumption input typed while delete
// mode is active.
package consume

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparsable indicates the text produced no request at all; the caller
// answers with a usage hint.
var ErrUnparsable = errors.New("consume: no parsable consumption input")

// Kind discriminates the request variants.
type Kind int

const (
	// KindOrdinal targets a displayed listing number.
	KindOrdinal Kind = iota
	// KindName deducts from matching records oldest first.
	KindName
)

// Request is one parsed consumption line. Ordinal/Amount are set for
// KindOrdinal (Amount nil means delete the whole record); Name/Quantity
// for KindName.
type Request struct {
	Kind     Kind
	Ordinal  int
	Amount   *float64
	Name     string
	Quantity float64
}

var (
	// A bare integer, optionally followed by an amount, always refers to
	// a listing ordinal. A food whose name is purely digits is therefore
	// unreachable by name-based deletion; known input-format limitation.
	ordinalPattern = regexp.MustCompile(`^(\d+)(?:\s+(\d+(?:\.\d+)?))?$`)

	namePattern = regexp.MustCompile(`([^\d\s]+?)\s*(\d+(?:\.\d+)?)\s*(個|件|包|盒|瓶|罐|條|根|片|塊|斤|公斤|克|kg|g)?`)
)

// Parse extracts consumption requests from text. Ordinal input yields one
// request; anything else is split by line, each line matched as "name
// quantity [unit]". Lines that match nothing are returned in skipped and
// the rest still go through. ErrUnparsable is returned when nothing
// parses.
func Parse(text string) (requests []Request, skipped []string, err error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil, ErrUnparsable
	}

	if m := ordinalPattern.FindStringSubmatch(trimmed); m != nil {
		ordinal, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			req := Request{Kind: KindOrdinal, Ordinal: ordinal}
			if m[2] != "" {
				if amount, aErr := strconv.ParseFloat(m[2], 64); aErr == nil {
					req.Amount = &amount
				}
			}
			return []Request{req}, nil, nil
		}
	}

	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := namePattern.FindStringSubmatch(line)
		if m == nil {
			skipped = append(skipped, line)
			continue
		}
		quantity, convErr := strconv.ParseFloat(m[2], 64)
		if convErr != nil {
			skipped = append(skipped, line)
			continue
		}
		requests = append(requests, Request{
			Kind:     KindName,
			Name:     strings.TrimSpace(m[1]),
			Quantity: quantity,
		})
	}

	if len(requests) == 0 {
		return nil, skipped, ErrUnparsable
	}
	return requests, skipped, nil
}
