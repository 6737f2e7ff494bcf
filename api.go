package subjectlink

import (
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/notify"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/subject"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/supplier"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// Public API - re-export internal types as the stable contract.

// Client owns subjects, sources and the tick loop.
type Client = client.Client

// Config configures a Client. The zero value is usable.
type Config = client.Config

// Source delivers subjects into a Client.
type Source = client.Source

// Pusher is the ingest side of the Client handed to sources.
type Pusher = client.Pusher

// SourceInfo describes a registered source.
type SourceInfo = client.SourceInfo

// SubjectKey identifies a subject by its source and name.
type SubjectKey = client.SubjectKey

// SubjectStats are buffer and sample rate statistics of one subject.
type SubjectStats = subject.Stats

// DistributionStats describes the snapshot readers.
type DistributionStats = supplier.Stats

// Data model.
type (
	Snapshot           = types.Snapshot
	SubjectFrame       = types.SubjectFrame
	FrameData          = types.FrameData
	Frame              = types.Frame
	Transform          = types.Transform
	RefSkeleton        = types.RefSkeleton
	CurveElement       = types.CurveElement
	OptionalCurve      = types.OptionalCurve
	MetaData           = types.MetaData
	WorldTime          = types.WorldTime
	SourceSettings     = types.SourceSettings
	SourceMode         = types.SourceMode
	SyncParams         = types.SyncParams
	TimeSyncData       = types.TimeSyncData
	FrameRate          = timecode.FrameRate
	FrameTime          = timecode.FrameTime
	QualifiedFrameTime = timecode.QualifiedFrameTime
	Timecode           = timecode.Timecode
	TimecodeProvider   = timecode.Provider
)

// Source modes.
const (
	ModeDefault          = types.ModeDefault
	ModeInterpolated     = types.ModeInterpolated
	ModeTimeSynchronized = types.ModeTimeSynchronized
)

// Notifications.
type (
	Event         = notify.Event
	EventKind     = notify.Kind
	Notifications = notify.Bus
	DropPolicy    = notify.DropPolicy
	Receiver      = notify.Receiver
)

// Notification kinds and drop policies.
const (
	SourcesChanged  = notify.SourcesChanged
	SubjectsChanged = notify.SubjectsChanged
	DropNew         = notify.DropNew
	DropOld         = notify.DropOld
	Callback        = notify.Callback
)

// VirtualSourceGUID is the source of every virtual subject.
var VirtualSourceGUID = client.VirtualSourceGUID

// Public API errors - re-export internal errors as the stable contract.
var (
	ErrSubjectNotFound    = client.ErrSubjectNotFound
	ErrSubjectExists      = client.ErrSubjectExists
	ErrSourceNotFound     = client.ErrSourceNotFound
	ErrShutdownIncomplete = client.ErrShutdownIncomplete
	ErrUnknownMode        = types.ErrUnknownMode
	ErrInvalidFrameRate   = timecode.ErrInvalidFrameRate
	ErrBusClosed          = notify.ErrBusClosed
	ErrSubscriberExists   = notify.ErrSubscriberExists
	ErrSubscriberNotFound = notify.ErrSubscriberNotFound
	ErrNilChannel         = notify.ErrNilChannel
	ErrNilCallback        = notify.ErrNilCallback
)

// New creates a client with no sources. Call Run to tick it, or Tick
// directly.
func New(cfg Config) *Client {
	return client.New(cfg)
}

// Constructors.
var (
	NewRefSkeleton        = types.NewRefSkeleton
	NewTransform          = types.NewTransform
	IdentityTransform     = types.IdentityTransform
	NewWorldTime          = types.NewWorldTime
	LocalWorldTime        = types.LocalWorldTime
	DefaultSourceSettings = types.DefaultSourceSettings
	ParseSourceMode       = types.ParseSourceMode
	NewFrameRate          = timecode.NewFrameRate
)
