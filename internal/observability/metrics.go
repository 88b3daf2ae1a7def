package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fld",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"session_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fld",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected across sessions",
	}, []string{"session_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fld",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages (detect, embed)",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fld",
		Name:      "queue_depth",
		Help:      "Number of messages held in the LIVENESS event stream",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fld",
		Name:      "active_sessions",
		Help:      "Number of currently active detection sessions",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fld",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fld",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	// SessionOutcomes counts terminal session results by outcome
	// (success, fraud, timeout, error).
	SessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fld",
		Name:      "session_outcomes_total",
		Help:      "Terminal detection session outcomes",
	}, []string{"outcome"})

	// SessionDuration measures wall-clock time from DETECT start to
	// terminal state.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fld",
		Name:      "session_duration_seconds",
		Help:      "Duration of a detection session from start to terminal state",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// ScreenAttackConfidence records the screen-capture cascade's
	// confidence score per orchestration mode.
	ScreenAttackConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fld",
		Name:      "screen_attack_confidence",
		Help:      "Screen-capture cascade confidence score",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"mode"})

	// ScreenAttackFlags counts frames flagged as screen-capture by
	// sub-detector.
	ScreenAttackFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fld",
		Name:      "screen_attack_flags_total",
		Help:      "Frames flagged as screen capture, by sub-detector",
	}, []string{"detector"})

	// PhotoAttackScore records the motion-perspective photo-likelihood
	// score at each evaluation.
	PhotoAttackScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fld",
		Name:      "photo_attack_score",
		Help:      "Motion-perspective consistency photo-likelihood score",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// FrontalityScore and QualityScore track the distribution of gate
	// scores of every frame with a tracked face, in any period and before
	// any gate runs, useful for tuning thresholds.
	FrontalityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fld",
		Name:      "frontality_score",
		Help:      "Computed frontality score per frame with a tracked face",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	QualityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fld",
		Name:      "quality_score",
		Help:      "Computed image quality score per frame with a tracked face",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// ActionChallengeOutcomes counts action-liveness challenge results
	// by action kind and outcome (completed, timeout).
	ActionChallengeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fld",
		Name:      "action_challenge_outcomes_total",
		Help:      "Action-liveness challenge outcomes by action and result",
	}, []string{"action", "outcome"})

	// SuspectedFraudTotal counts every failed detector-info gate result,
	// labelled by its info code. It is separate from the per-session
	// suspected-fraud threshold, which counts only low real scores.
	SuspectedFraudTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fld",
		Name:      "suspected_fraud_total",
		Help:      "Failed detector-info gate results, by info code",
	}, []string{"reason"})

	// FrameDropTotal counts frames dropped by the acquisition buffer
	// (the collector's simulated drop rate, reason "buffer_drop_rate").
	FrameDropTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fld",
		Name:      "frame_drop_total",
		Help:      "Frames dropped during acquisition, by reason",
	}, []string{"reason"})
)
