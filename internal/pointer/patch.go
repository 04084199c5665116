package pointer

import (
	"fmt"
	"sort"
)

// #region patch
// Patch is an atomic write of Value at Pointer.
type Patch struct {
	Pointer string `json:"pointer"`
	Value   Value  `json:"value"`
}

// NewPatch builds a patch from a plain Go value.
func NewPatch(ptr string, x any) (Patch, error) {
	v, err := FromAny(x)
	if err != nil {
		return Patch{}, fmt.Errorf("patch %s: %w", ptr, err)
	}
	return Patch{Pointer: ptr, Value: v}, nil
}

// #endregion patch

// #region apply
// Validate checks every pointer before anything is written.
func Validate(patches []Patch) error {
	for _, p := range patches {
		if _, err := Segments(p.Pointer); err != nil {
			return err
		}
	}
	return nil
}

// Apply validates patches and then applies them in order; later patches to the
// same pointer win. Nothing is written when any pointer is malformed.
func Apply(doc *Value, patches []Patch) error {
	if err := Validate(patches); err != nil {
		return err
	}
	for _, p := range patches {
		if err := Set(doc, p.Pointer, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// Touched returns the sorted distinct pointers written by patches.
func Touched(patches []Patch) []string {
	seen := make(map[string]bool, len(patches))
	var out []string
	for _, p := range patches {
		if seen[p.Pointer] {
			continue
		}
		seen[p.Pointer] = true
		out = append(out, p.Pointer)
	}
	sort.Strings(out)
	return out
}

// #endregion apply
