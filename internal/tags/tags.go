// Package tags maps remote test-case identifiers to and from scenario tags.
package tags

import "strings"

const (
	DefaultLinkPrefix = "@TestCaseId:"
	DefaultOptOut     = "@NoSync"
)

// Kind is the link state of a scenario.
type Kind int

const (
	Unlinked Kind = iota
	Linked
	OptedOut
)

func (k Kind) String() string {
	switch k {
	case Linked:
		return "linked"
	case OptedOut:
		return "opted-out"
	default:
		return "unlinked"
	}
}

// Link is the classification of one scenario's tag set. ID is set only for Linked.
type Link struct {
	Kind Kind
	ID   string
}

type Codec struct {
	LinkPrefix string
	OptOut     string
}

func Default() Codec {
	return Codec{LinkPrefix: DefaultLinkPrefix, OptOut: DefaultOptOut}
}

// LinkTag builds the tag recording id.
func (c Codec) LinkTag(id string) string {
	return c.LinkPrefix + id
}

// ParseLinkTag returns the identifier carried by tag. An empty identifier or one
// containing whitespace is not a link.
func (c Codec) ParseLinkTag(tag string) (string, bool) {
	if !strings.HasPrefix(tag, c.LinkPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(tag, c.LinkPrefix)
	if id == "" || strings.ContainsAny(id, " \t\r\n") {
		return "", false
	}
	return id, true
}

// LinkID returns the identifier of the first link tag in tags.
func (c Codec) LinkID(tags []string) (string, bool) {
	for _, t := range tags {
		if id, ok := c.ParseLinkTag(t); ok {
			return id, true
		}
	}
	return "", false
}

func (c Codec) IsOptedOut(tags []string) bool {
	for _, t := range tags {
		if t == c.OptOut {
			return true
		}
	}
	return false
}

// Classify scans tags once. The opt-out tag wins over a link tag.
func (c Codec) Classify(tags []string) Link {
	var link Link
	for _, t := range tags {
		if t == c.OptOut {
			return Link{Kind: OptedOut}
		}
		if link.Kind == Unlinked {
			if id, ok := c.ParseLinkTag(t); ok {
				link = Link{Kind: Linked, ID: id}
			}
		}
	}
	return link
}
