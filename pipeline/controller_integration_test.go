//go:build integration

package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tanghyd/spiir-search/config"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/natsclient"
	"github.com/tanghyd/spiir-search/pipeline"
	"github.com/tanghyd/spiir-search/testutil"
)

type ControllerIntegrationSuite struct {
	suite.Suite
	testClient *natsclient.TestClient
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *ControllerIntegrationSuite) SetupSuite() {
	s.testClient = natsclient.NewTestClient(s.T())
}

func (s *ControllerIntegrationSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 30*time.Second)
}

func (s *ControllerIntegrationSuite) TearDownTest() {
	s.cancel()
}

// singleDetectorConfig builds a runnable one-detector configuration over a
// passthrough bank, with singles enabled so candidate events publish
// without a second site.
func (s *ControllerIntegrationSuite) singleDetectorConfig() pipeline.ControllerConfig {
	cfg := pipeline.DefaultConfig()
	cfg.Detectors = []string{"H1"}
	cfg.Bank.Path = testutil.WriteBank(s.T(), testutil.PassthroughTemplate(1))
	cfg.Search = config.SearchConfig{
		SNRThreshold:      5.0,
		MinTriggerSupport: 1,
		TimingMargin:      2 * time.Millisecond,
		CoincidenceWindow: time.Second,
		GapTolerance:      4,
		BackpressureBound: time.Second,
		BlockCapacity:     8,
		EmitSingles:       true,
	}
	// No checkpoint bucket: the search runs without KV in this suite.
	cfg.CheckpointBucket = ""
	return cfg
}

func (s *ControllerIntegrationSuite) TestStrainToTriggersAndEvents() {
	ctrl := pipeline.NewController(pipeline.ControllerDeps{
		Name:       "pipeline-it",
		Config:     s.singleDetectorConfig(),
		NATSClient: s.testClient.Client,
	})
	s.Require().NoError(ctrl.Initialize())

	triggerCh := make(chan *message.TriggerPayload, 64)
	s.Require().NoError(s.testClient.Client.Subscribe(s.ctx, "search.trigger.v1.H1",
		func(_ context.Context, data []byte) {
			var msg message.BaseMessage
			if err := msg.UnmarshalJSON(data); err != nil {
				return
			}
			if p, ok := msg.Payload().(*message.TriggerPayload); ok {
				triggerCh <- p
			}
		}))

	eventCh := make(chan *message.EventPayload, 16)
	s.Require().NoError(s.testClient.Client.Subscribe(s.ctx, "search.event.v1",
		func(_ context.Context, data []byte) {
			var msg message.BaseMessage
			if err := msg.UnmarshalJSON(data); err != nil {
				return
			}
			if p, ok := msg.Payload().(*message.EventPayload); ok {
				eventCh <- p
			}
		}))

	s.Require().NoError(ctrl.Start(s.ctx))
	defer func() { s.NoError(ctrl.Stop(10 * time.Second)) }()

	// One loud block between quiet ones, then enough quiet strain to push
	// the watermark past the coincidence window so the candidate closes.
	publish := func(start uint64, samples ...float64) {
		s.Require().NoError(s.testClient.Client.Publish(s.ctx, "search.strain.v1.H1",
			testutil.StrainMessage(s.T(), testutil.Block("H1", start, samples...))))
	}
	publish(0, 0, 0, 0, 0)
	publish(4, 0, 6, 8, 7)
	for start := uint64(8); start < 48; start += 4 {
		publish(start, 0, 0, 0, 0)
	}

	deadline := time.After(15 * time.Second)
	var sawTrigger bool
	for !sawTrigger {
		select {
		case p := <-triggerCh:
			s.Equal("H1", p.Detector)
			if len(p.Triggers) == 0 {
				continue // watermark heartbeat
			}
			trig := p.Triggers[0]
			s.Equal(1, trig.TemplateID)
			s.InDelta(8.0, trig.Magnitude, 1e-9)
			s.InDelta(testutil.Epoch+6.0/testutil.SampleRate, trig.Time, 1e-9)
			sawTrigger = true
		case <-deadline:
			s.FailNow("no trigger batch published")
		}
	}

	select {
	case p := <-eventCh:
		s.Require().NotNil(p.Event)
		s.True(p.Event.Single)
		s.Equal(1, p.Event.TemplateID)
		s.InDelta(8.0, p.Event.NetworkSNR, 1e-9)
	case <-time.After(15 * time.Second):
		s.FailNow("no candidate event published")
	}
}

func (s *ControllerIntegrationSuite) TestHealthReflectsRunningState() {
	ctrl := pipeline.NewController(pipeline.ControllerDeps{
		Name:       "pipeline-health",
		Config:     s.singleDetectorConfig(),
		NATSClient: s.testClient.Client,
	})
	s.Require().NoError(ctrl.Initialize())

	s.False(ctrl.Health().Healthy)

	s.Require().NoError(ctrl.Start(s.ctx))
	s.True(ctrl.Health().Healthy)

	s.Require().NoError(ctrl.Stop(10 * time.Second))
	s.False(ctrl.Health().Healthy)
}

func (s *ControllerIntegrationSuite) TestLifecycleTransitions() {
	ctrl := pipeline.NewController(pipeline.ControllerDeps{
		Name:       "pipeline-lifecycle",
		Config:     s.singleDetectorConfig(),
		NATSClient: s.testClient.Client,
	})

	// Stop before Start is a no-op, and Start before Initialize refuses.
	s.NoError(ctrl.Stop(time.Second))
	s.Error(ctrl.Start(s.ctx))

	s.Require().NoError(ctrl.Initialize())
	s.Require().NoError(ctrl.Start(s.ctx))

	// A second Start on a running controller is idempotent.
	s.NoError(ctrl.Start(s.ctx))
	s.True(ctrl.Health().Healthy)

	s.Require().NoError(ctrl.Stop(10 * time.Second))
	s.NoError(ctrl.Stop(time.Second))
	s.False(ctrl.Health().Healthy)
}

func TestControllerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}
	suite.Run(t, new(ControllerIntegrationSuite))
}
