// Package virtual composes synthetic subjects out of the resolved frames of
// other subjects.
package virtual

import (
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// RootBone is the name of the identity bone every virtual subject starts
// with.
const RootBone = "root"

// Separator joins a source subject name and one of its bone, curve or
// metadata names.
const Separator = "."

// sourceSig is what a cached structure was built from.
type sourceSig struct {
	name   string
	guid   uuid.UUID
	bones  int
	curves int
}

// Subject is a virtual subject. Its structure is rebuilt only when its
// membership, the set of present sources, or a source's skeleton or curve
// count changes.
//
// Safe for concurrent use.
type Subject struct {
	name string

	mu       sync.Mutex
	subjects []string

	built      []sourceSig
	valid      bool
	skeleton   types.RefSkeleton
	guid       uuid.UUID
	curveNames []string
}

// New creates a virtual subject composed of subjects, in order.
func New(name string, subjects []string) *Subject {
	return &Subject{name: name, subjects: slices.Clone(subjects)}
}

// Name returns the virtual subject name.
func (v *Subject) Name() string { return v.name }

// Subjects returns a copy of the configured source subject names.
func (v *Subject) Subjects() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.subjects)
}

// SetSubjects replaces the membership and invalidates the cached structure.
func (v *Subject) SetSubjects(subjects []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subjects = slices.Clone(subjects)
	v.valid = false
}

// DependsOn reports whether name is one of the source subjects.
func (v *Subject) DependsOn(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Contains(v.subjects, name)
}

// SkeletonGUID returns the GUID of the last built structure.
func (v *Subject) SkeletonGUID() uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.guid
}

// Build composes this tick's frame from resolved. Sources missing from
// resolved contribute nothing; when none is present ok is false.
func (v *Subject) Build(resolved map[string]*types.SubjectFrame) (frame *types.SubjectFrame, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	present := make([]*types.SubjectFrame, 0, len(v.subjects))
	sig := make([]sourceSig, 0, len(v.subjects))
	for _, name := range v.subjects {
		f, found := resolved[name]
		if !found || f == nil {
			continue
		}
		present = append(present, f)
		sig = append(sig, sourceSig{
			name:   name,
			guid:   f.SkeletonGUID,
			bones:  len(f.Transforms),
			curves: len(f.CurveKeys),
		})
	}
	if len(present) == 0 {
		return nil, false
	}

	if !v.valid || !slices.Equal(sig, v.built) {
		v.rebuild(sig, present)
	}

	out := &types.SubjectFrame{
		RefSkeleton:  v.skeleton,
		SkeletonGUID: v.guid,
		CurveKeys:    v.curveNames,
		Transforms:   make([]types.Transform, 0, len(v.skeleton.BoneNames)),
		Curves:       make([]types.OptionalCurve, 0, len(v.curveNames)),
		MetaData: types.MetaData{
			StringMetaData: make(map[string]string),
			SceneTime:      present[0].MetaData.SceneTime,
		},
		WorldTime: present[0].WorldTime,
	}
	out.Transforms = append(out.Transforms, types.IdentityTransform())

	for i, f := range present {
		name := sig[i].name
		out.Transforms = append(out.Transforms, f.Transforms...)
		out.Curves = append(out.Curves, f.Curves...)
		for k, val := range f.MetaData.StringMetaData {
			out.MetaData.StringMetaData[name+Separator+k] = val
		}
	}
	return out, true
}

func (v *Subject) rebuild(sig []sourceSig, present []*types.SubjectFrame) {
	names := []string{RootBone}
	parents := []int{-1}
	var curves []string

	for i, f := range present {
		prefix := sig[i].name + Separator
		offset := len(names)
		for b := 0; b < sig[i].bones; b++ {
			boneName := prefix + boneNameAt(f.RefSkeleton, b)
			parent := 0
			if b < len(f.RefSkeleton.BoneParents) && f.RefSkeleton.BoneParents[b] >= 0 {
				parent = offset + f.RefSkeleton.BoneParents[b]
			}
			names = append(names, boneName)
			parents = append(parents, parent)
		}
		for _, c := range f.CurveKeys {
			curves = append(curves, prefix+c)
		}
	}

	v.skeleton = types.RefSkeleton{BoneNames: names, BoneParents: parents}
	v.curveNames = curves
	v.guid = uuid.New()
	v.built = sig
	v.valid = true

	slog.Debug("virtual: structure rebuilt",
		"subject", v.name,
		"sources", len(present),
		"bones", len(names),
		"curves", len(curves),
	)
}

func boneNameAt(s types.RefSkeleton, i int) string {
	if i < len(s.BoneNames) {
		return s.BoneNames[i]
	}
	return "bone" + strconv.Itoa(i)
}
