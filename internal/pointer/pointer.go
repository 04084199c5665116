// Package pointer addresses the context document with slash-delimited paths
// such as /context/site/soil/type and models its values as a closed sum type.
package pointer

import (
	"strings"

	"github.com/weflora/planning-core/internal/apperr"
)

// #region parse
// Segments splits a pointer into its literal segments. A pointer must start
// with "/" and may not contain empty segments.
func Segments(ptr string) ([]string, error) {
	if !strings.HasPrefix(ptr, "/") {
		return nil, apperr.Validation("pointer %q must start with /", ptr)
	}
	if ptr == "/" {
		return nil, apperr.Validation("pointer %q addresses the document root", ptr)
	}
	segs := strings.Split(ptr[1:], "/")
	for _, s := range segs {
		if s == "" {
			return nil, apperr.Validation("pointer %q has an empty segment", ptr)
		}
	}
	return segs, nil
}

// Valid reports whether ptr is well-formed.
func Valid(ptr string) bool {
	_, err := Segments(ptr)
	return err == nil
}

// Join builds a pointer from segments.
func Join(segs ...string) string {
	return "/" + strings.Join(segs, "/")
}

// #endregion parse

// #region get
// Get resolves ptr against doc. Missing paths and malformed pointers resolve
// to undefined.
func Get(doc Value, ptr string) Value {
	segs, err := Segments(ptr)
	if err != nil {
		return Value{}
	}
	cur := doc
	for _, s := range segs {
		if cur.kind != KindMap {
			return Value{}
		}
		next, ok := cur.obj[s]
		if !ok {
			return Value{}
		}
		cur = next
	}
	return cur
}

// Has reports whether ptr resolves to a defined value.
func Has(doc Value, ptr string) bool {
	return Get(doc, ptr).IsDefined()
}

// #endregion get

// #region set
// Set writes value at ptr, creating intermediate maps and replacing non-map
// intermediates. An undefined doc becomes an empty map first. Setting an
// undefined value removes the entry.
func Set(doc *Value, ptr string, value Value) error {
	segs, err := Segments(ptr)
	if err != nil {
		return err
	}
	if doc.kind != KindMap || doc.obj == nil {
		*doc = Map(nil)
	}
	cur := doc.obj
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s]
		if !ok || next.kind != KindMap || next.obj == nil {
			next = Map(nil)
			cur[s] = next
		}
		cur = next.obj
	}
	last := segs[len(segs)-1]
	if !value.IsDefined() {
		delete(cur, last)
		return nil
	}
	cur[last] = value
	return nil
}

// #endregion set

// #region list-missing
// ListMissing returns the pointers whose value is undefined, null or the empty
// string, in input order.
func ListMissing(doc Value, ptrs []string) []string {
	var missing []string
	for _, p := range ptrs {
		if Get(doc, p).IsEmpty() {
			missing = append(missing, p)
		}
	}
	return missing
}

// #endregion list-missing
