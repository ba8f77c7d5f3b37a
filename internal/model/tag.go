package model

import (
	"fmt"
	"strings"
)

// ModelTag identifies the processing tier of an audio file.
type ModelTag string

const (
	TagBase   ModelTag = "base"
	TagSmall  ModelTag = "small"
	TagMedium ModelTag = "medium"
	TagLarge  ModelTag = "large"
)

var allModelTags = []ModelTag{TagBase, TagSmall, TagMedium, TagLarge}

// AllModelTags returns every known tag in tier order.
func AllModelTags() []ModelTag {
	tags := make([]ModelTag, len(allModelTags))
	copy(tags, allModelTags)
	return tags
}

// IsValid reports whether t is one of the known tags.
func (t ModelTag) IsValid() bool {
	for _, known := range allModelTags {
		if t == known {
			return true
		}
	}
	return false
}

func (t ModelTag) String() string {
	return string(t)
}

// ParseModelTag parses a canonical (lowercase) tag as carried in job
// arguments and store columns. It does not normalise case.
func ParseModelTag(s string) (ModelTag, error) {
	t := ModelTag(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown model tag %q", s)
	}
	return t, nil
}

// ModelTagFromDir maps a storage directory name to its tag. This is the only
// place where directory names are case-normalised.
func ModelTagFromDir(dir string) (ModelTag, bool) {
	t := ModelTag(strings.ToLower(strings.TrimSpace(dir)))
	if !t.IsValid() {
		return "", false
	}
	return t, true
}
