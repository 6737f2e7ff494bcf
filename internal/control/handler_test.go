package control

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/mqtttest"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Unix(1000, 0)

const (
	controlTopic  = "subjectlink/control/test"
	responseTopic = "subjectlink/responses/test"
)

type stubSource struct{}

func (stubSource) ReceiveClient(client.Pusher, uuid.UUID) {}
func (stubSource) IsSourceStillValid() bool              { return true }
func (stubSource) RequestSourceShutdown() bool           { return true }
func (stubSource) SourceType() string                    { return "stub" }
func (stubSource) SourceStatus() string                  { return "ok" }
func (stubSource) Settings() types.SourceSettings        { return types.DefaultSourceSettings() }

func newClient(t *testing.T) *client.Client {
	t.Helper()
	c := client.New(client.Config{Clock: testclock.NewClock(epoch)})
	t.Cleanup(func() { assert.NoError(t, c.Close(context.Background())) })
	return c
}

func enabled(v bool) *bool { return &v }

func TestHandler_ExecuteSubjects(t *testing.T) {
	c := newClient(t)
	h := NewHandler(Config{}, nil, c)

	c.PushSubjectSkeleton("hand", types.NewRefSkeleton("root"), uuid.Nil)

	resp := h.Execute(Command{Command: "add_virtual_subject", Subject: "rig", Subjects: []string{"hand"}})
	require.Equal(t, StatusSuccess, resp.Status, resp.Error)
	subjects, ok := c.VirtualSubject("rig")
	require.True(t, ok)
	assert.Equal(t, []string{"hand"}, subjects)

	resp = h.Execute(Command{Command: "add_virtual_subject", Subject: "hand"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "already exists")

	resp = h.Execute(Command{Command: "list_subjects"})
	assert.Equal(t, []string{"hand", "rig"}, resp.Data["subjects"])

	resp = h.Execute(Command{Command: "subject_stats", Subject: "hand"})
	require.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 0, resp.Data["buffered_frames"])

	assert.Equal(t, StatusSuccess, h.Execute(Command{Command: "clear_subject_frames", Subject: "hand"}).Status)
	assert.Equal(t, StatusSuccess, h.Execute(Command{Command: "clear_all_frames"}).Status)
	assert.Equal(t, StatusSuccess, h.Execute(Command{Command: "remove_virtual_subject", Subject: "rig"}).Status)
	assert.Equal(t, StatusSuccess, h.Execute(Command{Command: "clear_subject", Subject: "hand"}).Status)
	assert.Empty(t, c.SubjectNames())

	for _, cmd := range []Command{
		{Command: "clear_subject", Subject: "hand"},
		{Command: "clear_subject_frames", Subject: "hand"},
		{Command: "remove_virtual_subject", Subject: "rig"},
		{Command: "subject_stats", Subject: "hand"},
	} {
		resp := h.Execute(cmd)
		assert.Equal(t, StatusError, resp.Status, cmd.Command)
		assert.Contains(t, resp.Error, "subject not found", cmd.Command)
	}
}

func TestHandler_ExecuteSaveFrames(t *testing.T) {
	c := newClient(t)
	h := NewHandler(Config{}, nil, c)

	resp := h.Execute(Command{Command: "set_save_frames"})
	assert.Equal(t, StatusError, resp.Status)

	resp = h.Execute(Command{Command: "set_save_frames", Enabled: enabled(true)})
	require.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, false, resp.Data["previous"])
	assert.True(t, c.SaveFrames())

	resp = h.Execute(Command{Command: "get_status"})
	assert.Equal(t, true, resp.Data["save_frames"])
}

func TestHandler_ExecuteSources(t *testing.T) {
	c := newClient(t)
	h := NewHandler(Config{}, nil, c)
	guid := c.AddSource(stubSource{})

	offset := 0.2
	resp := h.Execute(Command{
		Command:             "set_source_mode",
		Source:              guid.String(),
		Mode:                "interpolated",
		InterpolationOffset: &offset,
	})
	require.Equal(t, StatusSuccess, resp.Status, resp.Error)
	settings, ok := c.SourceSettings(guid)
	require.True(t, ok)
	assert.Equal(t, types.ModeInterpolated, settings.Mode)
	assert.Equal(t, 0.2, settings.Interpolation.InterpolationOffset)

	resp = h.Execute(Command{Command: "set_source_mode", Source: guid.String(), Mode: "nearest"})
	assert.Contains(t, resp.Error, "unknown source mode")

	resp = h.Execute(Command{Command: "set_source_mode", Source: "not-a-guid"})
	assert.Contains(t, resp.Error, "invalid source")

	resp = h.Execute(Command{Command: "get_status"})
	assert.Len(t, resp.Data["sources"], 2)

	assert.Equal(t, StatusSuccess, h.Execute(Command{Command: "remove_source", Source: guid.String()}).Status)
	resp = h.Execute(Command{Command: "remove_source", Source: guid.String()})
	assert.Contains(t, resp.Error, "source not found")

	resp = h.Execute(Command{Command: "reboot"})
	assert.Equal(t, "unknown command: reboot", resp.Error)
}

func responses(t *testing.T, broker *mqtttest.Broker) []Response {
	t.Helper()
	var out []Response
	for _, m := range broker.Published() {
		if m.Topic != responseTopic {
			continue
		}
		var r Response
		require.NoError(t, json.Unmarshal(m.Payload, &r))
		out = append(out, r)
	}
	return out
}

// TestHandler_OverMQTT sends commands through the broker and reads the
// acknowledgements from the responses topic.
func TestHandler_OverMQTT(t *testing.T) {
	broker := mqtttest.NewBroker()
	conn := broker.NewClient(mqtt.NewClientOptions())
	require.NoError(t, conn.Connect().Error())

	c := newClient(t)
	h := NewHandler(Config{
		Topic:         controlTopic,
		ResponseTopic: responseTopic,
		QoS:           1,
		Clock:         testclock.NewClock(epoch),
	}, conn, c)
	require.NoError(t, h.Start(context.Background()))

	broker.Publish(controlTopic, []byte(`{"command":"set_save_frames","enabled":true}`))
	require.Eventually(t, func() bool { return len(responses(t, broker)) == 1 }, 2*time.Second, time.Millisecond)

	broker.Publish(controlTopic, []byte(`{not json`))
	require.Eventually(t, func() bool { return len(responses(t, broker)) == 2 }, 2*time.Second, time.Millisecond)

	h.Stop()

	got := responses(t, broker)
	assert.Equal(t, "set_save_frames", got[0].CommandAck)
	assert.Equal(t, StatusSuccess, got[0].Status)
	assert.Equal(t, epoch.UTC().Format(time.RFC3339Nano), got[0].Timestamp)
	assert.True(t, c.SaveFrames())

	assert.Equal(t, "unknown", got[1].CommandAck)
	assert.Equal(t, "invalid JSON", got[1].Error)

	broker.Publish(controlTopic, []byte(`{"command":"clear_all_frames"}`))
	assert.Len(t, responses(t, broker), 2, "unsubscribed after Stop")
}
