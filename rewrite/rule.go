package rewrite

import (
	"regexp"
	"sort"
	"strconv"
)

// Rule turns a matching topic into a gauge observation.
type Rule struct {
	// Pattern is searched for anywhere in the topic.
	Pattern *regexp.Regexp
	Name    Template
	Labels  map[string]Template
	// Value is optional; a rule without one matches but records nothing.
	Value Template
	// Continue lets later rules run after this one matched.
	Continue bool
}

// LabelNames returns the rule's label keys in sorted order.
func (r Rule) LabelNames() []string {
	names := make([]string, 0, len(r.Labels))
	for name := range r.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Captures searches topic with re and returns the match as an object:
// "0".."n" for the groups, index, input, length and groups, plus each named
// group under its own name when that does not shadow another key.
func Captures(re *regexp.Regexp, topic string) (Value, bool) {
	loc := re.FindStringSubmatchIndex(topic)
	if loc == nil {
		return Undefined(), false
	}

	n := len(loc) / 2
	groups := make([]Value, n)
	for i := 0; i < n; i++ {
		if loc[2*i] < 0 {
			continue
		}
		groups[i] = String(topic[loc[2*i]:loc[2*i+1]])
	}

	fields := make(map[string]Value, n+4)
	for i, g := range groups {
		fields[strconv.Itoa(i)] = g
	}
	fields["index"] = Number(float64(loc[0]))
	fields["input"] = String(topic)
	fields["length"] = Number(float64(n))

	named := map[string]Value{}
	for i, name := range re.SubexpNames() {
		if name != "" {
			named[name] = groups[i]
		}
	}
	if len(named) == 0 {
		fields["groups"] = Undefined()
		return Object(fields), true
	}
	fields["groups"] = Object(named)
	for name, g := range named {
		if _, taken := fields[name]; !taken {
			fields[name] = g
		}
	}
	return Object(fields), true
}

// RenderContext builds the object templates are rendered against.
func RenderContext(payload, captures Value) Value {
	return Object(map[string]Value{"M": payload, "T": captures})
}
