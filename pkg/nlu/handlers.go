package nlu

import (
	"fmt"
	"strings"
)

// EntityHandler post-processes raw entity results for one query. Handlers
// are selected per slot by name; the zero name selects PassthroughHandler.
type EntityHandler interface {
	Process(query string, entities []EntityResult) []EntityResult
}

// HandlerFor resolves an entity handler name. Unknown names are a broken
// bot configuration and fail with an error.
func HandlerFor(name string) (EntityHandler, error) {
	switch name {
	case "", "default":
		return PassthroughHandler{}, nil
	case "query":
		return QueryHandler{}, nil
	case "address":
		return AddressHandler{}, nil
	}
	return nil, fmt.Errorf("entity handler %q not registered", name)
}

// PassthroughHandler returns entity results unchanged, filling in the
// slot-name alias where the provider left it empty.
type PassthroughHandler struct{}

func (PassthroughHandler) Process(query string, entities []EntityResult) []EntityResult {
	out := make([]EntityResult, 0, len(entities))
	for _, e := range entities {
		if e.SlotName == "" {
			e.SlotName = e.Type
		}
		if e.Value == nil {
			e.Value = e.Name
		}
		out = append(out, e)
	}
	return out
}

// QueryHandler prepends the raw query itself as a "query" entity, so slots
// that accept free text can be filled without provider support.
type QueryHandler struct{}

func (QueryHandler) Process(query string, entities []EntityResult) []EntityResult {
	out := PassthroughHandler{}.Process(query, entities)
	return append([]EntityResult{{
		Name:     "query",
		Type:     "query",
		SlotName: "query",
		Value:    query,
	}}, out...)
}

// AddressHandler decomposes a recognized street address into named
// sub-entities (street_number, street_name, street_type, unit_number,
// city, state) alongside a combined "address" entity. It uses a lexical
// splitter; ambiguous tokens are left in the street name.
type AddressHandler struct{}

var streetTypes = map[string]bool{
	"st": true, "street": true, "ave": true, "avenue": true, "rd": true,
	"road": true, "blvd": true, "boulevard": true, "dr": true, "drive": true,
	"ln": true, "lane": true, "ct": true, "court": true, "way": true,
	"pl": true, "place": true, "ter": true, "terrace": true,
}

var stateNames = map[string]bool{
	"al": true, "ak": true, "az": true, "ar": true, "ca": true, "co": true,
	"ct": true, "de": true, "fl": true, "ga": true, "hi": true, "id": true,
	"il": true, "in": true, "ia": true, "ks": true, "ky": true, "la": true,
	"me": true, "md": true, "ma": true, "mi": true, "mn": true, "ms": true,
	"mo": true, "mt": true, "ne": true, "nv": true, "nh": true, "nj": true,
	"nm": true, "ny": true, "nc": true, "nd": true, "oh": true, "ok": true,
	"or": true, "pa": true, "ri": true, "sc": true, "sd": true, "tn": true,
	"tx": true, "ut": true, "vt": true, "va": true, "wa": true, "wv": true,
	"wi": true, "wy": true,
}

func (AddressHandler) Process(query string, entities []EntityResult) []EntityResult {
	out := PassthroughHandler{}.Process(query, entities)

	parts := parseAddress(query)
	if len(parts) == 0 {
		return out
	}

	var extra []EntityResult
	var all, street []string
	for _, p := range parts {
		all = append(all, p.value)
		switch p.label {
		case "street_number", "street_name", "street_type":
			street = append(street, p.value)
		}
		extra = append(extra, EntityResult{
			Name:     p.label,
			Type:     p.label,
			SlotName: p.label,
			Value:    p.value,
		})
	}

	head := []EntityResult{{
		Name:     "address",
		Type:     "address",
		SlotName: "address",
		Value:    strings.Join(all, " "),
	}}
	if len(street) > 0 {
		head = append(head, EntityResult{
			Name:     "street_address",
			Type:     "street_address",
			SlotName: "street_address",
			Value:    strings.Join(street, " "),
		})
	}
	head = append(head, extra...)
	return append(head, out...)
}

type addressPart struct {
	label string
	value string
}

// parseAddress labels the tokens of a "123 Main St Apt 4 Springfield IL"
// style address. Returns nil when the query does not look like an address.
func parseAddress(query string) []addressPart {
	tokens := strings.Fields(strings.Trim(query, " .,"))
	if len(tokens) < 2 {
		return nil
	}
	if !isNumeric(tokens[0]) {
		return nil
	}

	parts := []addressPart{{label: "street_number", value: tokens[0]}}
	rest := tokens[1:]

	// Street name runs up to the first recognized street type.
	var name []string
	i := 0
	for ; i < len(rest); i++ {
		tok := strings.ToLower(strings.Trim(rest[i], ",."))
		if streetTypes[tok] {
			break
		}
		name = append(name, rest[i])
	}
	if len(name) == 0 {
		return nil
	}
	parts = append(parts, addressPart{label: "street_name", value: strings.Join(name, " ")})
	if i < len(rest) {
		parts = append(parts, addressPart{label: "street_type", value: strings.Trim(rest[i], ",.")})
		i++
	}

	rest = rest[i:]
	if len(rest) >= 2 {
		lead := strings.ToLower(rest[0])
		if lead == "apt" || lead == "unit" || lead == "suite" || lead == "#" {
			parts = append(parts, addressPart{label: "unit_number", value: rest[1]})
			rest = rest[2:]
		}
	}

	// Trailing state abbreviation, preceded by the city.
	var state string
	if len(rest) > 0 {
		last := strings.ToLower(strings.Trim(rest[len(rest)-1], ",."))
		if stateNames[last] {
			state = strings.ToUpper(last)
			rest = rest[:len(rest)-1]
		}
	}
	if len(rest) > 0 {
		parts = append(parts, addressPart{label: "city", value: strings.Trim(strings.Join(rest, " "), ",.")})
	}
	if state != "" {
		parts = append(parts, addressPart{label: "state", value: state})
	}
	return parts
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
