// Package subjectlink buffers timestamped animation frames per subject and
// resolves one consistent frame per subject on every tick.
//
// # Overview
//
// Sources push a reference skeleton and then frames (bone transforms,
// named curves, metadata, a world time and optionally a scene timecode)
// for named subjects. Each tick the client resolves every subject at the
// current time and publishes an immutable Snapshot:
//
//	c := subjectlink.New(subjectlink.Config{})
//	defer c.Close(ctx)
//
//	c.PushSubjectSkeleton("hand", subjectlink.NewRefSkeleton("root", "index"), sourceID)
//	c.PushSubjectData("hand", data, sourceID, false)
//
//	snap := c.Tick()
//	frame, ok := snap.Subject("hand")
//
// # Resolution Modes
//
// A subject resolves according to its source settings:
//   - ModeDefault returns the newest frame at or before now
//   - ModeInterpolated blends the frames bracketing now minus an offset
//   - ModeTimeSynchronized resolves at the scene timecode, across rollover
//
// Ad-hoc queries (GetSubjectDataAtWorldTime, GetSubjectDataAtSceneTime)
// evaluate without moving the subject's read cursor.
//
// # Virtual Subjects
//
// A virtual subject concatenates the resolved bones and curves of other
// subjects into one frame under a single root:
//
//	c.AddVirtualSubject("performer")
//	c.UpdateVirtualSubject("performer", []string{"body", "face"})
//
// # Distribution
//
// Run ticks at the configured rate. Readers registered with
// SubscribeSnapshots receive the latest snapshot; a slow reader skips
// snapshots and never delays the tick.
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Snapshots and the frames
// they carry are read-only once published.
package subjectlink
