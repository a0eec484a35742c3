package sendresult

import (
	"fmt"
	"strings"
)

// Category is the semantic meaning of a store type code.
type Category int

// Type codes as written by the device message store.
const (
	CategoryAll    Category = 0
	CategoryInbox  Category = 1
	CategorySent   Category = 2
	CategoryDraft  Category = 3
	CategoryOutbox Category = 4
	CategoryFailed Category = 5 // failed outgoing message
	CategoryQueued Category = 6 // queued to send later

	CategoryUnknown Category = -1
)

var categoryNames = map[Category]string{
	CategoryAll:    "all",
	CategoryInbox:  "inbox",
	CategorySent:   "sent",
	CategoryDraft:  "draft",
	CategoryOutbox: "outbox",
	CategoryFailed: "failed",
	CategoryQueued: "queued",
}

// CategoryOf maps a store type code to its category. Unrecognised codes map
// to CategoryUnknown.
func CategoryOf(code int) Category {
	c := Category(code)
	if _, ok := categoryNames[c]; ok {
		return c
	}
	return CategoryUnknown
}

// ParseCategory resolves a configured category name.
func ParseCategory(name string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for c, n := range categoryNames {
		if n == key {
			return c, nil
		}
	}
	return CategoryUnknown, fmt.Errorf("%w: unknown message type %q", ErrConfiguration, name)
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return "unknown"
}

// IsIrrelevant reports whether a record in this category says nothing about
// the outcome of a send. A message showing up in the inbox or outbox list, or
// as a draft, must not end the watch.
func (c Category) IsIrrelevant() bool {
	switch c {
	case CategoryAll, CategoryInbox, CategoryOutbox, CategoryDraft, CategoryUnknown:
		return true
	default:
		return false
	}
}

// SuccessSet is the ordered, immutable list of categories a caller treats as
// a successful send.
type SuccessSet struct {
	names []string
	cats  []Category
}

// NewSuccessSet validates the configured names. An empty list or an unknown
// name is a configuration error.
func NewSuccessSet(names []string) (SuccessSet, error) {
	if len(names) == 0 {
		return SuccessSet{}, fmt.Errorf("%w: success types are required", ErrConfiguration)
	}
	set := SuccessSet{
		names: make([]string, 0, len(names)),
		cats:  make([]Category, 0, len(names)),
	}
	for _, name := range names {
		c, err := ParseCategory(name)
		if err != nil {
			return SuccessSet{}, err
		}
		set.names = append(set.names, c.String())
		set.cats = append(set.cats, c)
	}
	return set, nil
}

func (s SuccessSet) Contains(c Category) bool {
	for _, candidate := range s.cats {
		if candidate == c {
			return true
		}
	}
	return false
}

func (s SuccessSet) Names() []string {
	return append([]string(nil), s.names...)
}

func (s SuccessSet) Len() int {
	return len(s.cats)
}
