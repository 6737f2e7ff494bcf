package types

// CurveElement is one named curve sample as pushed by a source.
type CurveElement struct {
	Name  string
	Value float32
}

// OptionalCurve is a curve slot in a frame. Valid is false until a value
// has been observed for the slot in that frame.
type OptionalCurve struct {
	Value float32
	Valid bool
}

// SetValue stores v and marks the slot valid.
func (c *OptionalCurve) SetValue(v float32) {
	c.Value = v
	c.Valid = true
}

// BlendCurves linearly interpolates two equally sized curve arrays. A slot is
// valid in the output if it was valid in either input; an invalid input
// contributes its zero value.
func BlendCurves(a, b []OptionalCurve, weight float64) []OptionalCurve {
	out := make([]OptionalCurve, len(a))
	wa := float32(1 - weight)
	wb := float32(weight)
	for i := range a {
		var va, vb float32
		if a[i].Valid {
			va = a[i].Value
		}
		if b[i].Valid {
			vb = b[i].Value
		}
		out[i] = OptionalCurve{
			Value: va*wa + vb*wb,
			Valid: a[i].Valid || b[i].Valid,
		}
	}
	return out
}

// CurveKey is the curve key registry of a subject: an append-only list of
// curve names, each bound to a stable positional index.
//
// Not safe for concurrent use; the owning client serialises access.
type CurveKey struct {
	names []string
	index map[string]int
}

// NewCurveKey returns a registry pre-populated with names, in order.
// Duplicates are ignored.
func NewCurveKey(names ...string) *CurveKey {
	k := &CurveKey{}
	for _, n := range names {
		k.add(n)
	}
	return k
}

func (k *CurveKey) add(name string) int {
	if k.index == nil {
		k.index = make(map[string]int)
	}
	if i, ok := k.index[name]; ok {
		return i
	}
	k.names = append(k.names, name)
	k.index[name] = len(k.names) - 1
	return len(k.names) - 1
}

// Resolve merges the curve names of an incoming frame into the registry and
// returns the frame's curve values laid out by registry index, plus the
// number of slots that were created by this call. The returned slice is
// always sized to the registry after the merge; curves the frame does not
// carry are left unset.
//
// Existing names are never removed or reordered.
func (k *CurveKey) Resolve(elements []CurveElement) (values []OptionalCurve, backfill int) {
	before := len(k.names)
	for _, e := range elements {
		k.add(e.Name)
	}
	values = make([]OptionalCurve, len(k.names))
	for _, e := range elements {
		values[k.index[e.Name]].SetValue(e.Value)
	}
	return values, len(k.names) - before
}

// Len returns the number of registered curves.
func (k *CurveKey) Len() int {
	if k == nil {
		return 0
	}
	return len(k.names)
}

// Index returns the position of name.
func (k *CurveKey) Index(name string) (int, bool) {
	if k == nil {
		return 0, false
	}
	i, ok := k.index[name]
	return i, ok
}

// Names returns a copy of the registered names in index order.
func (k *CurveKey) Names() []string {
	if k == nil {
		return nil
	}
	return append([]string(nil), k.names...)
}
