package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Media         MediaConfig
	Turn          TurnConfig
	Transcription TranscriptionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// MediaConfig holds Worker Pool / Room Manager settings.
type MediaConfig struct {
	NumWorkers  int
	ListenIP    string
	AnnouncedIP string
	RTCMinPort  uint16
	RTCMaxPort  uint16
	// SweepIntervalSecs drives the idle-room sweep goroutine; 0 disables it.
	SweepIntervalSecs int
	// IdleAfterSecs is how long a room may sit with zero peers before the
	// sweep closes it.
	IdleAfterSecs int
}

// TurnConfig holds TURN relay settings, used in addition to STUN.
type TurnConfig struct {
	URL        string
	Username   string
	Password   string
	ForceRelay bool
}

// TranscriptionConfig holds transcription pipeline and VAD/ASR settings.
// Defaults mirror the reference TranscriptionConfig defaults exactly.
type TranscriptionConfig struct {
	Enabled               bool
	Backend               string
	Language              string
	WhisperEndpoint       string
	OnnxModelPath         string
	VADModelPath          string
	VADStartThreshold     float64
	VADEndThreshold       float64
	VADMinSpeechFrames    int
	VADMinSilenceFrames   int
	VADPreSpeechPadFrames int
	MaxSpeechDurationSecs float64
	NimEndpoint           string
	ASRTimeoutSecs        int
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("env")

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/conferencing?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "conferencing"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Media: MediaConfig{
			NumWorkers:        getEnvInt("MEDIA_NUM_WORKERS", 4),
			ListenIP:          getEnv("MEDIA_LISTEN_IP", "0.0.0.0"),
			AnnouncedIP:       getEnv("MEDIA_ANNOUNCED_IP", "127.0.0.1"),
			RTCMinPort:        uint16(getEnvInt("MEDIA_RTC_MIN_PORT", 40000)),
			RTCMaxPort:        uint16(getEnvInt("MEDIA_RTC_MAX_PORT", 49999)),
			SweepIntervalSecs: getEnvInt("MEDIA_SWEEP_INTERVAL_SECS", 0),
			IdleAfterSecs:     getEnvInt("MEDIA_IDLE_AFTER_SECS", 300),
		},
		Turn: TurnConfig{
			URL:        getEnv("TURN_URL", ""),
			Username:   getEnv("TURN_USERNAME", ""),
			Password:   getEnv("TURN_PASSWORD", ""),
			ForceRelay: getEnv("TURN_FORCE_RELAY", "false") == "true",
		},
		Transcription: TranscriptionConfig{
			Enabled:               getEnv("TRANSCRIPTION_ENABLED", "false") == "true",
			Backend:               getEnv("TRANSCRIPTION_BACKEND", "whisper"),
			Language:              getEnv("TRANSCRIPTION_LANGUAGE", ""),
			WhisperEndpoint:       getEnv("WHISPER_ENDPOINT", "http://localhost:8081"),
			OnnxModelPath:         getEnv("TRANSCRIPTION_ONNX_MODEL_PATH", ""),
			VADModelPath:          getEnv("VAD_MODEL_PATH", "models/silero_vad.onnx"),
			VADStartThreshold:     getEnvFloat("VAD_START_THRESHOLD", 0.5),
			VADEndThreshold:       getEnvFloat("VAD_END_THRESHOLD", 0.35),
			VADMinSpeechFrames:    getEnvInt("VAD_MIN_SPEECH_FRAMES", 3),
			VADMinSilenceFrames:   getEnvInt("VAD_MIN_SILENCE_FRAMES", 15),
			VADPreSpeechPadFrames: getEnvInt("VAD_PRE_SPEECH_PAD_FRAMES", 10),
			MaxSpeechDurationSecs: getEnvFloat("MAX_SPEECH_DURATION_SECS", 30.0),
			NimEndpoint:           getEnv("NIM_ENDPOINT", ""),
			ASRTimeoutSecs:        getEnvInt("ASR_TIMEOUT_SECS", 10),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
