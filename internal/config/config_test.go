package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

const sample = `
instance_id: stage-a
tick_rate_hz: 120
validate_sources_interval: 1s
timecode:
  frame_rate: 30000/1001
mqtt:
  broker: localhost:1883
sources:
  - name: mocap
    type: mqtt
    mode: interpolated
    interpolation_offset: 0.1
  - name: demo
    type: synthetic
    mode: time_synchronized
    frame_rate: "24"
    frame_offset: -2
    subjects: [hero, prop]
    curves: 4
virtual_subjects:
  - name: scene
    subjects: [hero, prop]
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subjectlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "stage-a", cfg.InstanceID)
	assert.Equal(t, time.Second/120, cfg.TickInterval())
	assert.Equal(t, time.Second, cfg.ValidateSourcesInterval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, timecode.NewFrameRate(30000, 1001), cfg.Timecode.FrameRate)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "subjectlink/subjects/stage-a", cfg.MQTT.Topics.Subjects)
	assert.Equal(t, "subjectlink/snapshots/stage-a", cfg.MQTT.Topics.Snapshots)
	assert.Equal(t, "subjectlink/control/stage-a", cfg.MQTT.Topics.Control)
	assert.Equal(t, "subjectlink/responses/stage-a", cfg.MQTT.Topics.Responses)

	require.Len(t, cfg.Sources, 2)
	mocap := cfg.Sources[0]
	assert.Equal(t, "subjectlink/subjects/stage-a/#", mocap.Topic)
	settings := mocap.Settings()
	assert.Equal(t, types.ModeInterpolated, settings.Mode)
	assert.InDelta(t, 0.1, settings.Interpolation.InterpolationOffset, 1e-12)
	assert.Equal(t, timecode.NewFrameRate(30000, 1001), settings.TimeSynchronization.FrameRate)

	demo := cfg.Sources[1]
	assert.Equal(t, 1, demo.Bones)
	assert.Equal(t, 60.0, demo.RateHz)
	settings = demo.Settings()
	assert.Equal(t, types.ModeTimeSynchronized, settings.Mode)
	assert.Equal(t, timecode.NewFrameRate(24, 1), settings.TimeSynchronization.FrameRate)
	assert.Equal(t, int32(-2), settings.TimeSynchronization.FrameOffset)
	assert.Equal(t, types.DefaultSourceSettings().Interpolation, settings.Interpolation)

	require.Len(t, cfg.VirtualSubjects, 1)
	assert.Equal(t, []string{"hero", "prop"}, cfg.VirtualSubjects[0].Subjects)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_BadMode(t *testing.T) {
	_, err := Parse([]byte("instance_id: a\nsources:\n  - name: x\n    type: synthetic\n    mode: sideways\n"))
	assert.ErrorIs(t, err, types.ErrUnknownMode)
}

// TestValidate_ReportsEveryProblem expects all failures joined under
// ErrInvalidConfig rather than only the first.
func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		InstanceID: "Stage A",
		TickRateHz: -1,
		MQTT:       MQTTConfig{QoS: map[string]byte{"snapshots": 3}},
		Sources: []SourceConfig{
			{Name: "a", Type: SourceMQTT},
			{Name: "a", Type: SourceSynthetic, Subjects: []string{"x"}},
			{Name: "b", Type: "ndi"},
			{Name: "c", Type: SourceSynthetic},
		},
		VirtualSubjects: []VirtualSubjectConfig{{Name: "v"}},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	msg := err.Error()
	for _, want := range []string{
		"instance_id must match",
		"tick_rate_hz must be > 0",
		"mqtt.qos.snapshots",
		"mqtt.broker is required",
		"duplicate source name",
		"unknown type \"ndi\"",
		"need at least one subject",
		"at least one subject is required",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := &Config{InstanceID: "solo"}
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 60.0, cfg.TickRateHz)
	assert.Equal(t, 3*time.Second, cfg.ValidateSourcesInterval)
	assert.Equal(t, timecode.NewFrameRate(60, 1), cfg.Timecode.FrameRate)
	assert.Equal(t, map[string]byte{"subjects": 0, "snapshots": 0, "control": 1}, cfg.MQTT.QoS)
}
