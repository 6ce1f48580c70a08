package models

import "strings"

type Kind int

const (
	KindUnknown Kind = iota
	KindGroup
	KindCollection
	KindEvent
	KindDropoff
	KindMaterial
)

var kindNames = map[Kind]string{
	KindGroup:      "group",
	KindCollection: "collection",
	KindEvent:      "event",
	KindDropoff:    "dropoff",
	KindMaterial:   "material",
}

// Older payloads call collection points "location".
var kindAliases = map[Kind][]string{
	KindGroup:      {"group"},
	KindCollection: {"location", "collection"},
	KindEvent:      {"event"},
	KindDropoff:    {"dropoff"},
	KindMaterial:   {"material"},
}

// AllKinds returns the known kinds in declaration order.
func AllKinds() []Kind {
	return []Kind{KindGroup, KindCollection, KindEvent, KindDropoff, KindMaterial}
}

func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, aliases := range kindAliases {
		for _, a := range aliases {
			if a == s {
				return k
			}
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Aliases returns the wire values of the kind property that map to k.
func (k Kind) Aliases() []string {
	return kindAliases[k]
}

func (k Kind) Known() bool {
	return k != KindUnknown
}
