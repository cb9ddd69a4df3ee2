package variant

import "strings"

// Selection is the ordered set of flavors picked for one box. It is carried
// next to the canonical name so that trimming a selection never requires
// parsing the name back.
type Selection struct {
	names []string
}

// NewSelection builds a selection from names in pick order. Blank names and
// repeats are dropped.
func NewSelection(names ...string) Selection {
	var s Selection
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add appends name unless it is blank or already selected.
func (s *Selection) Add(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || s.Has(name) {
		return false
	}
	s.names = append(s.names, name)
	return true
}

// Remove drops name, keeping the order of the others.
func (s *Selection) Remove(name string) bool {
	name = strings.TrimSpace(name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i:i], s.names[i+1:]...)
			return true
		}
	}
	return false
}

// Toggle mirrors a checkbox click. Checking a flavor when the selection
// already holds max flavors is refused. It reports whether name is selected
// afterwards.
func (s *Selection) Toggle(name string, max int) bool {
	if s.Has(name) {
		s.Remove(name)
		return false
	}
	if max >= 0 && len(s.names) >= max {
		return false
	}
	return s.Add(name)
}

// Limit keeps the first n picks. It is used when a FULL box is switched to HALF.
func (s *Selection) Limit(n int) {
	if n < 0 {
		n = 0
	}
	if len(s.names) > n {
		s.names = s.names[:n:n]
	}
}

func (s Selection) Has(name string) bool {
	name = strings.TrimSpace(name)
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

func (s Selection) Len() int { return len(s.names) }

// Names returns a copy of the picks in order.
func (s Selection) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Name is the canonical variant name of the selection.
func (s Selection) Name() string { return Pack(s.names) }
