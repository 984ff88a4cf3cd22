package config

import (
	"path/filepath"
	"time"

	"github.com/dhruva-antino/live-drm/internal/pipeline"
)

// Config is the typed view of the process environment used by cmd/server.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	OutputRoot   string
	FFmpegPath   string
	PackagerPath string

	// PublicHost is the host name handed out in ingest push URLs.
	PublicHost string
	// PublicBaseURL overrides the S3 virtual-host URL used for playback links.
	PublicBaseURL string

	PortRangeStart int
	PortRangeEnd   int
	UDPBasePort    int

	Storage   StorageConfig
	Publish   PublishConfig
	KeyServer KeyServerConfig

	PackagerReadyTimeout time.Duration
	IdleTimeout          time.Duration

	// DRMLadder is used by DRM sessions started without explicit renditions.
	DRMLadder []pipeline.Request
}

// StorageConfig describes the S3 bucket artifacts are mirrored to.
type StorageConfig struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	PathStyle       bool
	Prefix          string
}

// PublishConfig tunes the write-stability window of the output publisher.
type PublishConfig struct {
	Stability    time.Duration
	PollInterval time.Duration
}

// KeyServerConfig carries the signing inputs for the DRM key exchange.
// Empty values are allowed here; they are rejected when a DRM session starts.
type KeyServerConfig struct {
	URL              string
	SigningKeyHex    string
	SigningIVHex     string
	Signer           string
	Scheme           string
	ProtectionScheme string
	DRMTypes         []string
	Tracks           []string
	Timeout          time.Duration
}

// FromEnv builds a Config from environment variables and, when
// LIVE_CONFIG_FILE is set, overlays the YAML file it points to.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:           GetEnv("PORT", "3000"),
		LogLevel:       GetEnv("LOG_LEVEL", "info"),
		LogFormat:      GetEnv("LOG_FORMAT", "json"),
		OutputRoot:     GetEnv("HLS_OUTPUT_DIR", filepath.Join(".", "hls")),
		FFmpegPath:     GetEnv("FFMPEG_PATH", "ffmpeg"),
		PackagerPath:   GetEnv("PACKAGER_PATH", "packager"),
		PublicHost:     GetEnv("PUBLIC_HOST", "0.0.0.0"),
		PublicBaseURL:  GetEnv("PUBLIC_BASE_URL", ""),
		PortRangeStart: GetEnvInt("PORT_RANGE_START", 9000),
		PortRangeEnd:   GetEnvInt("PORT_RANGE_END", 9999),
		UDPBasePort:    GetEnvInt("UDP_BASE_PORT", 20000),
		Storage: StorageConfig{
			Region:          GetEnv("AWS_REGION", "us-east-1"),
			Bucket:          GetEnv("AWS_S3_BUCKET", ""),
			AccessKeyID:     GetEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: GetEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        GetEnv("S3_ENDPOINT", ""),
			PathStyle:       GetEnvBool("S3_PATH_STYLE", false),
			Prefix:          GetEnv("S3_PREFIX", "live-streams"),
		},
		Publish: PublishConfig{
			Stability:    GetEnvDuration("PUBLISH_STABILITY_MS", 300*time.Millisecond),
			PollInterval: GetEnvDuration("PUBLISH_POLL_MS", 100*time.Millisecond),
		},
		KeyServer: KeyServerConfig{
			URL:              GetEnv("KEY_SERVER_URL", ""),
			SigningKeyHex:    GetEnv("WIDEVINE_SIGNING_KEY", ""),
			SigningIVHex:     GetEnv("WIDEVINE_SIGNING_IV", ""),
			Signer:           GetEnv("WIDEVINE_PROVIDER_NAME", ""),
			Scheme:           GetEnv("DRM_SCHEME", "WIDEVINE"),
			ProtectionScheme: GetEnv("DRM_PROTECTION_SCHEME", "CBCS"),
			DRMTypes:         []string{"WIDEVINE"},
			Tracks:           []string{"HD"},
			Timeout:          GetEnvDuration("KEY_SERVER_TIMEOUT", 10*time.Second),
		},
		PackagerReadyTimeout: GetEnvDuration("PACKAGER_READY_TIMEOUT", 30*time.Second),
		IdleTimeout:          GetEnvDuration("SESSION_IDLE_TIMEOUT", 10*time.Minute),
		DRMLadder:            append([]pipeline.Request(nil), pipeline.DefaultDRMLadder...),
	}

	if path := GetEnv("LIVE_CONFIG_FILE", ""); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
