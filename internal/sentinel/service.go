// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"context"
	"sync"
	"time"

	"grimm.is/sentinel/internal/logging"
)

// StaticScanner is the cheap first analysis tier.
type StaticScanner interface {
	Scan(ctx context.Context, data []byte, filename string) (*StaticResult, error)
}

// Sandbox runs a sample and reports what it did.
type Sandbox interface {
	Run(ctx context.Context, data []byte, filename string) (*BehavioralMetrics, error)
}

// Evidence is everything known about one sample. Nil fields are tiers that
// did not run.
type Evidence struct {
	Static     *StaticResult
	Behavior   *BehavioralMetrics
	ML         *float64
	Reputation *float64
}

// Report is the outcome of evaluating one sample.
type Report struct {
	Threat  ThreatScore `json:"threat"`
	Verdict Verdict     `json:"verdict"`
}

// ThreatCallback is called for every verdict that is not clean.
type ThreatCallback func(Report)

type Service struct {
	mu              sync.RWMutex
	engine          *Engine
	verdicts        *VerdictEngine
	logger          *logging.Logger
	threatCallbacks []ThreatCallback

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scoring service. A nil logger uses the "sentinel" component
// of the default logger.
func New(policy Policy, verdicts VerdictConfig, logger *logging.Logger) (*Service, error) {
	engine, err := NewEngine(policy)
	if err != nil {
		return nil, err
	}
	ve, err := NewVerdictEngine(verdicts)
	if err != nil {
		return nil, err
	}
	return &Service{
		engine:   engine,
		verdicts: ve,
		logger:   logging.Or(logger, "sentinel"),
	}, nil
}

// NewDefault creates a service with the built-in policy and verdict config.
func NewDefault() *Service {
	s, err := New(DefaultPolicy(), DefaultVerdictConfig(), nil)
	if err != nil {
		panic(err) // built-in defaults always validate
	}
	return s
}

// Engine returns the scoring engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// OnThreat registers a callback for non-clean verdicts.
func (s *Service) OnThreat(cb ThreatCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threatCallbacks = append(s.threatCallbacks, cb)
}

// SignatureScore is the static tier's own score: the highest severity floor
// among its matches.
func (s *Service) SignatureScore(static *StaticResult) float64 {
	var score float64
	for _, m := range static.Matches {
		score = max(score, s.engine.policy.SignatureFloors[m.Severity])
	}
	return score
}

// Evaluate scores the evidence and derives a verdict whose composite never
// falls below the threat score.
func (s *Service) Evaluate(ev Evidence) Report {
	threat := s.engine.ScoreSample(ev.Static, ev.Behavior)

	scores := make(map[Detector]float64, 4)
	if ev.Static != nil {
		scores[DetectorSignature] = s.SignatureScore(ev.Static)
	}
	if ev.Behavior != nil {
		scores[DetectorBehavioral] = threat.Value
	}
	if ev.ML != nil {
		scores[DetectorML] = *ev.ML
	}
	if ev.Reputation != nil {
		scores[DetectorReputation] = *ev.Reputation
	}

	report := Report{
		Threat:  threat,
		Verdict: s.verdicts.CalculateWithFloor(scores, threat.Value),
	}

	s.logger.Debug("sample evaluated",
		"score", threat.Value,
		"level", report.Verdict.Level,
		"labels", threat.Labels)

	if report.Verdict.Level != LevelClean {
		s.mu.RLock()
		callbacks := append([]ThreatCallback(nil), s.threatCallbacks...)
		s.mu.RUnlock()
		for _, cb := range callbacks {
			cb(report)
		}
	}
	return report
}

// Statistics returns the running verdict statistics.
func (s *Service) Statistics() VerdictStatistics {
	return s.verdicts.Statistics()
}

// ResetStatistics clears the running verdict statistics.
func (s *Service) ResetStatistics() {
	s.verdicts.ResetStatistics()
}

// Start logs a statistics summary every interval until Stop.
func (s *Service) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.logger.Info("starting threat scoring", "report_interval", interval)
	go s.reportLoop(s.ctx, interval, s.done)
}

// Stop ends the reporting loop and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		s.logger.Info("stopped threat scoring")
	}
}

func (s *Service) reportLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.verdicts.Statistics()
			if st.Total == last {
				continue
			}
			last = st.Total
			s.logger.Info("verdict statistics",
				"total", st.Total,
				"clean", st.Clean,
				"suspicious", st.Suspicious,
				"malicious", st.Malicious,
				"critical", st.Critical,
				"avg_score", st.AverageComposite,
				"avg_confidence", st.AverageConfidence)
		}
	}
}
