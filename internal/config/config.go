package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration record, loaded from YAML with
// environment-variable overrides, following the same three-phase
// Load/applyEnvOverrides/setDefaults pattern as the rest of this stack.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	NATS         NATSConfig         `yaml:"nats"`
	MinIO        MinIOConfig        `yaml:"minio"`
	Logging      LoggingConfig      `yaml:"logging"`
	Analyzer     AnalyzerConfig     `yaml:"analyzer"`
	Acquisition  AcquisitionConfig  `yaml:"acquisition"`
	Collection   CollectionConfig   `yaml:"collection"`
	Frontality   FrontalityConfig   `yaml:"frontality"`
	Quality      QualityConfig      `yaml:"quality"`
	Challenge    ChallengeConfig    `yaml:"challenge"`
	PhotoAttack  PhotoAttackConfig  `yaml:"photo_attack"`
	ScreenAttack ScreenAttackConfig `yaml:"screen_attack"`
}

type ServerConfig struct {
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	EnginePool int    `yaml:"engine_pool_size"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AnalyzerConfig configures the FaceAnalyzer (ONNX RetinaFace + ArcFace)
// adapter (spec.md §2 item 2).
type AnalyzerConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	MinFaceSizePx      float64 `yaml:"min_face_size_px"`
	EnableEmbedding    bool    `yaml:"enable_embedding"`
	IntraOpThreads     int     `yaml:"intra_op_threads"`
	InterOpThreads     int     `yaml:"inter_op_threads"`
}

// AcquisitionConfig mirrors spec.md §6's acquisition configuration keys.
type AcquisitionConfig struct {
	VideoWidth        int   `yaml:"detect_video_width"`
	VideoHeight       int   `yaml:"detect_video_height"`
	VideoMirror       bool  `yaml:"detect_video_mirror"`
	VideoLoadTimeoutMs int64 `yaml:"detect_video_load_timeout"`
	FrameDelayMs       int64 `yaml:"detect_frame_delay"`
	ErrorRetryDelayMs  int64 `yaml:"detect_error_retry_delay"`
	BufferSize         int   `yaml:"frame_buffer_size"`
	FrameDropRate      float64 `yaml:"frame_drop_rate"`
}

// CollectionConfig mirrors spec.md §6's collection gate keys.
type CollectionConfig struct {
	MinCollectCount int     `yaml:"collect_min_collect_count"`
	MinFaceRatio    float64 `yaml:"collect_min_face_ratio"`
	MaxFaceRatio    float64 `yaml:"collect_max_face_ratio"`
	MinFaceFrontal  float64 `yaml:"collect_min_face_frontal"`
	MinImageQuality float64 `yaml:"collect_min_image_quality"`
	CollectDelayMultiplier float64 `yaml:"collect_frame_delay_multiplier"`
	// MinRealScore and SuspectedFraudCount back the suspected-fraud counter
	// described in spec.md §4 ("increments when ... real score is below
	// min_real_score; if it reaches suspected_frauds_count, emit
	// SUSPECTED_FRAUDS_DETECTED").
	MinRealScore        float64 `yaml:"collect_min_real_score"`
	SuspectedFraudCount int     `yaml:"collect_suspected_frauds_count"`
}

type FrontalityConfig struct {
	YawThresholdDeg   float64 `yaml:"yaw_threshold"`
	PitchThresholdDeg float64 `yaml:"pitch_threshold"`
	RollThresholdDeg  float64 `yaml:"roll_threshold"`
}

type QualityConfig struct {
	RequireFullFaceInBounds bool    `yaml:"require_full_face_in_bounds"`
	MinLaplacianVariance    float64 `yaml:"min_laplacian_variance"`
	MinGradientSharpness    float64 `yaml:"min_gradient_sharpness"`
	MinBlurScore            float64 `yaml:"min_blur_score"`
}

// ChallengeConfig mirrors spec.md §6's action-liveness keys.
type ChallengeConfig struct {
	ActionList           []string `yaml:"action_liveness_action_list"`
	ActionCount          int      `yaml:"action_liveness_action_count"`
	ActionRandomize      bool     `yaml:"action_liveness_action_randomize"`
	VerifyTimeoutMs      int64    `yaml:"action_liveness_verify_timeout"`
	MinMouthOpenPercent  float64  `yaml:"action_liveness_min_mouth_open_percent"`
}

// PhotoAttackConfig mirrors spec.md §6's motion_liveness_* keys.
type PhotoAttackConfig struct {
	MinMotionScore          float64 `yaml:"motion_liveness_min_motion_score"`
	MinKeypointVariance     float64 `yaml:"motion_liveness_min_keypoint_variance"`
	FrameBufferSize         int     `yaml:"motion_liveness_frame_buffer_size"`
	EyeAspectRatioThreshold float64 `yaml:"motion_liveness_eye_aspect_ratio_threshold"`
	RequiredFrameCount      int     `yaml:"motion_liveness_required_frame_count"`
}

// ScreenAttackConfig mirrors spec.md §6's screen-capture cascade keys.
type ScreenAttackConfig struct {
	Mode                        string  `yaml:"mode"`
	MoireThreshold              float64 `yaml:"moire_threshold"`
	RGBEmissionThreshold        float64 `yaml:"rgb_emission_threshold"`
	ColorProfileThreshold       float64 `yaml:"color_profile_threshold"`
	FlickerCorrelationThreshold float64 `yaml:"flicker_correlation_threshold"`
	FlickerPassingRatioMin      float64 `yaml:"flicker_passing_ratio_min"`
	FlickerMaxPeriodConfigMax   int     `yaml:"flicker_max_period_config_max"`
	ResponseTimeThresholdMs     float64 `yaml:"response_time_threshold_ms"`
	ResponseTimeFraction        float64 `yaml:"response_time_fraction"`
	DLPSeparationPixels         float64 `yaml:"dlp_separation_pixels"`
	OpticalCompositeThreshold   float64 `yaml:"optical_composite_threshold"`
	ConfidenceThreshold         float64 `yaml:"screen_capture_confidence_threshold"`
}

// Load reads config from a YAML file and applies environment variable
// overrides, then fills in any still-zero fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.EnginePool == 0 {
		cfg.Server.EnginePool = 4
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "LIVENESS"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Analyzer.DetectionThreshold == 0 {
		cfg.Analyzer.DetectionThreshold = 0.5
	}
	if cfg.Analyzer.MinFaceSizePx == 0 {
		cfg.Analyzer.MinFaceSizePx = 40
	}

	if cfg.Acquisition.VideoWidth == 0 {
		cfg.Acquisition.VideoWidth = 640
	}
	if cfg.Acquisition.VideoHeight == 0 {
		cfg.Acquisition.VideoHeight = 480
	}
	if cfg.Acquisition.VideoLoadTimeoutMs == 0 {
		cfg.Acquisition.VideoLoadTimeoutMs = 10_000
	}
	if cfg.Acquisition.FrameDelayMs == 0 {
		cfg.Acquisition.FrameDelayMs = 100
	}
	if cfg.Acquisition.ErrorRetryDelayMs == 0 {
		cfg.Acquisition.ErrorRetryDelayMs = 500
	}
	if cfg.Acquisition.BufferSize == 0 {
		cfg.Acquisition.BufferSize = 30
	}

	if cfg.Collection.MinCollectCount == 0 {
		cfg.Collection.MinCollectCount = 3
	}
	if cfg.Collection.MinFaceRatio == 0 {
		cfg.Collection.MinFaceRatio = 0.1
	}
	if cfg.Collection.MaxFaceRatio == 0 {
		cfg.Collection.MaxFaceRatio = 0.8
	}
	if cfg.Collection.MinFaceFrontal == 0 {
		cfg.Collection.MinFaceFrontal = 0.7
	}
	if cfg.Collection.MinImageQuality == 0 {
		cfg.Collection.MinImageQuality = 0.8
	}
	if cfg.Collection.CollectDelayMultiplier == 0 {
		cfg.Collection.CollectDelayMultiplier = 2.5
	}
	if cfg.Collection.MinRealScore == 0 {
		cfg.Collection.MinRealScore = 0.5
	}
	if cfg.Collection.SuspectedFraudCount == 0 {
		cfg.Collection.SuspectedFraudCount = 20
	}

	if cfg.Frontality.YawThresholdDeg == 0 {
		cfg.Frontality.YawThresholdDeg = 3
	}
	if cfg.Frontality.PitchThresholdDeg == 0 {
		cfg.Frontality.PitchThresholdDeg = 4
	}
	if cfg.Frontality.RollThresholdDeg == 0 {
		cfg.Frontality.RollThresholdDeg = 2
	}

	if cfg.Quality.MinLaplacianVariance == 0 {
		cfg.Quality.MinLaplacianVariance = 200
	}

	if cfg.Challenge.VerifyTimeoutMs == 0 {
		cfg.Challenge.VerifyTimeoutMs = 5000
	}
	if cfg.Challenge.MinMouthOpenPercent == 0 {
		cfg.Challenge.MinMouthOpenPercent = 0.30
	}

	if cfg.PhotoAttack.FrameBufferSize == 0 {
		cfg.PhotoAttack.FrameBufferSize = 15
	}
	if cfg.PhotoAttack.RequiredFrameCount == 0 {
		cfg.PhotoAttack.RequiredFrameCount = 15
	}

	if cfg.ScreenAttack.Mode == "" {
		cfg.ScreenAttack.Mode = "ADAPTIVE"
	}
	if cfg.ScreenAttack.MoireThreshold == 0 {
		cfg.ScreenAttack.MoireThreshold = 0.5
	}
	if cfg.ScreenAttack.RGBEmissionThreshold == 0 {
		cfg.ScreenAttack.RGBEmissionThreshold = 0.60
	}
	if cfg.ScreenAttack.ColorProfileThreshold == 0 {
		cfg.ScreenAttack.ColorProfileThreshold = 0.65
	}
	if cfg.ScreenAttack.FlickerCorrelationThreshold == 0 {
		cfg.ScreenAttack.FlickerCorrelationThreshold = 0.65
	}
	if cfg.ScreenAttack.FlickerPassingRatioMin == 0 {
		cfg.ScreenAttack.FlickerPassingRatioMin = 0.35
	}
	if cfg.ScreenAttack.FlickerMaxPeriodConfigMax == 0 {
		cfg.ScreenAttack.FlickerMaxPeriodConfigMax = 12
	}
	if cfg.ScreenAttack.ResponseTimeThresholdMs == 0 {
		cfg.ScreenAttack.ResponseTimeThresholdMs = 150
	}
	if cfg.ScreenAttack.ResponseTimeFraction == 0 {
		cfg.ScreenAttack.ResponseTimeFraction = 0.30
	}
	if cfg.ScreenAttack.DLPSeparationPixels == 0 {
		cfg.ScreenAttack.DLPSeparationPixels = 2
	}
	if cfg.ScreenAttack.OpticalCompositeThreshold == 0 {
		cfg.ScreenAttack.OpticalCompositeThreshold = 0.35
	}
	if cfg.ScreenAttack.ConfidenceThreshold == 0 {
		cfg.ScreenAttack.ConfidenceThreshold = 0.60
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FLD_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FLD_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FLD_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FLD_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FLD_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FLD_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FLD_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FLD_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FLD_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FLD_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FLD_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FLD_MODELS_DIR"); v != "" {
		cfg.Analyzer.ModelsDir = v
	}
	if v := os.Getenv("FLD_SCREEN_ATTACK_MODE"); v != "" {
		cfg.ScreenAttack.Mode = v
	}
	if v := os.Getenv("FLD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
