package types

// RefSkeleton is the static structure of a subject: bone names and the
// index of each bone's parent (-1 for roots).
type RefSkeleton struct {
	BoneNames   []string
	BoneParents []int
}

// NewRefSkeleton builds a skeleton where every bone is a root.
func NewRefSkeleton(names ...string) RefSkeleton {
	parents := make([]int, len(names))
	for i := range parents {
		parents[i] = -1
	}
	return RefSkeleton{BoneNames: names, BoneParents: parents}
}

// NumBones is the number of transforms a frame for this skeleton carries.
func (s RefSkeleton) NumBones() int {
	return len(s.BoneNames)
}

// BoneIndex returns the index of name, or -1.
func (s RefSkeleton) BoneIndex(name string) int {
	for i, n := range s.BoneNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (s RefSkeleton) Clone() RefSkeleton {
	return RefSkeleton{
		BoneNames:   append([]string(nil), s.BoneNames...),
		BoneParents: append([]int(nil), s.BoneParents...),
	}
}
