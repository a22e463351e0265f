package util

// Set is a generic set implementation for comparable values
type Set[K comparable] map[K]struct{}

// SetOf creates a new set containing the given elements
func SetOf[K comparable](elements ...K) Set[K] {
	s := make(Set[K], len(elements))
	for _, e := range elements {
		s.Add(e)
	}
	return s
}

// Add inserts an element into the set
func (s Set[K]) Add(element K) {
	s[element] = struct{}{}
}

// Remove deletes an element from the set
func (s Set[K]) Remove(element K) {
	delete(s, element)
}

// Contains reports whether the element is in the set
func (s Set[K]) Contains(element K) bool {
	_, ok := s[element]
	return ok
}

// IsEmpty reports whether the set has no elements
func (s Set[K]) IsEmpty() bool {
	return len(s) == 0
}
