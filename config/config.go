package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del engine.
type Config struct {
	Engine  EngineConfig  `yaml:"engine" toml:"engine"`
	Storage StorageConfig `yaml:"storage" toml:"storage"`
	HTTP    HTTPConfig    `yaml:"http" toml:"http"`
	Redis   RedisConfig   `yaml:"redis" toml:"redis"`
	S3      S3Config      `yaml:"s3" toml:"s3"`
	Log     LogConfig     `yaml:"log" toml:"log"`
}

// EngineConfig controla las reglas que se aplican a los mercados nuevos.
type EngineConfig struct {
	FeeRate              float64 `yaml:"fee_rate" toml:"fee_rate" validate:"gte=0,lt=0.1"`
	DisputeWindowHours   float64 `yaml:"dispute_window_hours" toml:"dispute_window_hours" validate:"gt=0"`
	ForfeitWinnerShare   float64 `yaml:"forfeit_winner_share" toml:"forfeit_winner_share" validate:"gte=0,lte=1"`
	ForfeitSink          string  `yaml:"forfeit_sink" toml:"forfeit_sink"` // vacío = el resto se quema
	GraduationLiquidity  float64 `yaml:"graduation_liquidity" toml:"graduation_liquidity" validate:"gt=0"`
	GraduationVolume     float64 `yaml:"graduation_volume" toml:"graduation_volume" validate:"gt=0"`
	GraduationAgeHours   float64 `yaml:"graduation_age_hours" toml:"graduation_age_hours" validate:"gt=0"`
	SweepIntervalSeconds int     `yaml:"sweep_interval_seconds" toml:"sweep_interval_seconds" validate:"gt=0"`
	SweepWorkers         int     `yaml:"sweep_workers" toml:"sweep_workers" validate:"gt=0,lte=64"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver" validate:"oneof=sqlite pgx"`
	DSN    string `yaml:"dsn" toml:"dsn" validate:"required"` // ruta SQLite, ":memory:" o URL de Postgres
}

// HTTPConfig controla la API.
type HTTPConfig struct {
	Addr        string   `yaml:"addr" toml:"addr" validate:"required"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
	RatePerSec  float64  `yaml:"rate_per_sec" toml:"rate_per_sec" validate:"gte=0"`
	Burst       int      `yaml:"burst" toml:"burst" validate:"gte=0"`
}

// RedisConfig: Addr vacío desactiva la caché de precios.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db" validate:"gte=0"`
	Channel  string `yaml:"channel" toml:"channel"`
	TLS      bool   `yaml:"tls" toml:"tls"`
}

// S3Config: Bucket vacío desactiva el archivo de mercados cerrados.
type S3Config struct {
	Endpoint       string `yaml:"endpoint" toml:"endpoint"`
	Region         string `yaml:"region" toml:"region"`
	Bucket         string `yaml:"bucket" toml:"bucket"`
	Prefix         string `yaml:"prefix" toml:"prefix"`
	AccessKey      string `yaml:"access_key" toml:"access_key"`
	SecretKey      string `yaml:"secret_key" toml:"secret_key"`
	ForcePathStyle bool   `yaml:"force_path_style" toml:"force_path_style"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=text json"`
}

// Load carga la configuración desde YAML o TOML (según la extensión) y el
// archivo .env si existe. Las variables de entorno ganan sobre el archivo.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config.Load: %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodifica, aplica entorno y defaults, y valida.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse TOML: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate comprueba rangos y valores permitidos.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

// FeeRate devuelve el fee por defecto como decimal.
func (c *Config) FeeRate() decimal.Decimal {
	return decimal.NewFromFloat(c.Engine.FeeRate)
}

// ForfeitWinnerShare devuelve la parte del depósito perdido que cobra el ganador.
func (c *Config) ForfeitWinnerShare() decimal.Decimal {
	return decimal.NewFromFloat(c.Engine.ForfeitWinnerShare)
}

// DisputeWindow devuelve la ventana de disputa como time.Duration.
func (c *Config) DisputeWindow() time.Duration {
	return hours(c.Engine.DisputeWindowHours)
}

// GraduationAge devuelve la edad mínima para graduar.
func (c *Config) GraduationAge() time.Duration {
	return hours(c.Engine.GraduationAgeHours)
}

// SweepInterval devuelve el intervalo del sweeper.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Engine.SweepIntervalSeconds) * time.Second
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.S3.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.S3.SecretKey = v
	}
	if v := os.Getenv("ENGINE_FEE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.FeeRate = f
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.FeeRate <= 0 {
		cfg.Engine.FeeRate = 0.02
	}
	if cfg.Engine.DisputeWindowHours <= 0 {
		cfg.Engine.DisputeWindowHours = 24
	}
	if cfg.Engine.ForfeitWinnerShare <= 0 {
		cfg.Engine.ForfeitWinnerShare = 0.5
	}
	if cfg.Engine.GraduationLiquidity <= 0 {
		cfg.Engine.GraduationLiquidity = 1_000_000
	}
	if cfg.Engine.GraduationVolume <= 0 {
		cfg.Engine.GraduationVolume = 500_000
	}
	if cfg.Engine.GraduationAgeHours <= 0 {
		cfg.Engine.GraduationAgeHours = 168
	}
	if cfg.Engine.SweepIntervalSeconds <= 0 {
		cfg.Engine.SweepIntervalSeconds = 30
	}
	if cfg.Engine.SweepWorkers <= 0 {
		cfg.Engine.SweepWorkers = 4
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "quantmarket.db"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.RatePerSec == 0 {
		cfg.HTTP.RatePerSec = 20
	}
	if cfg.HTTP.Burst == 0 {
		cfg.HTTP.Burst = 40
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
