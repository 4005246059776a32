package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/polyadvisor/engine/internal/advice"
	"github.com/polyadvisor/engine/internal/ingest"
	"github.com/polyadvisor/engine/internal/stats"
)

// Config es la configuración completa del servicio.
type Config struct {
	Jobs    JobsConfig    `yaml:"jobs"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Live    LiveConfig    `yaml:"live"`
	Stats   StatsConfig   `yaml:"stats"`
	Advice  AdviceConfig  `yaml:"advice"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// JobsConfig define el presupuesto de tiempo por tipo de job y la retención
// del audit log.
type JobsConfig struct {
	SyncBudgetSeconds           int `yaml:"sync_budget_seconds"`
	ComputeBudgetSeconds        int `yaml:"compute_budget_seconds"`
	LiveSyncBudgetSeconds       int `yaml:"live_sync_budget_seconds"`
	ComputeMarketsBudgetSeconds int `yaml:"compute_markets_budget_seconds"`
	RunRetentionDays            int `yaml:"run_retention_days"`
}

// IngestConfig controla tamaños de página y batch del pipeline de sync.
type IngestConfig struct {
	MarketsPageSize    int `yaml:"markets_page_size"`
	TradesPageSize     int `yaml:"trades_page_size"`
	ResolutionBatch    int `yaml:"resolution_batch"`
	CursorPrepareBatch int `yaml:"cursor_prepare_batch"`
	CursorDrainBatch   int `yaml:"cursor_drain_batch"`
}

// LiveConfig controla el refresco de wallets seguidas.
type LiveConfig struct {
	MaxTarget  int `yaml:"max_target"`
	MaxPerRun  int `yaml:"max_per_run"`
	PriceBatch int `yaml:"price_batch"`
}

// StatsConfig controla la síntesis de perfiles de wallet.
type StatsConfig struct {
	HalfLifeDays  float64 `yaml:"half_life_days"`
	LateWindowHrs float64 `yaml:"late_window_hours"`
	AdviceMarkets int     `yaml:"advice_markets"` // mercados abiertos por ciclo de compute-markets
}

// AdviceConfig controla el modelo de mezcla.
type AdviceConfig struct {
	KPos              float64 `yaml:"k_pos"`
	KFlow             float64 `yaml:"k_flow"`
	FlowLookbackHrs   float64 `yaml:"flow_lookback_hours"`
	FlowHalfLifeHrs   float64 `yaml:"flow_half_life_hours"`
	DefaultConfidence float64 `yaml:"default_confidence"`
	CacheTTLSeconds   int     `yaml:"cache_ttl_seconds"`
}

// APIConfig contiene los base URLs de las APIs del venue.
type APIConfig struct {
	GammaBase string `yaml:"gamma_base"`
	CLOBBase  string `yaml:"clob_base"`
	DataBase  string `yaml:"data_base"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // postgres://...; DATABASE_URL lo sobreescribe
}

// ServerConfig controla la superficie HTTP y sus secretos.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	CronSecret  string `yaml:"-"` // solo por env: CRON_SECRET
	AdminSecret string `yaml:"-"` // solo por env: ADMIN_SECRET
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// IngestConfig traduce la sección de ingest a la configuración del pipeline.
func (c *Config) IngestConfig() ingest.Config {
	return ingest.Config{
		MarketsPageSize:    c.Ingest.MarketsPageSize,
		TradesPageSize:     c.Ingest.TradesPageSize,
		ResolutionBatch:    c.Ingest.ResolutionBatch,
		CursorPrepareBatch: c.Ingest.CursorPrepareBatch,
		CursorDrainBatch:   c.Ingest.CursorDrainBatch,
	}
}

// LiveConfig traduce la sección live a la configuración del refresco.
func (c *Config) LiveConfig() ingest.LiveConfig {
	return ingest.LiveConfig{
		MaxTarget:     c.Live.MaxTarget,
		MaxPerRun:     c.Live.MaxPerRun,
		TradePageSize: c.Ingest.TradesPageSize,
		PriceBatch:    c.Live.PriceBatch,
	}
}

// StatsConfig traduce la sección de stats a la configuración del engine.
func (c *Config) StatsConfig() stats.Config {
	return stats.Config{
		HalfLifeDays: c.Stats.HalfLifeDays,
		LateWindow:   time.Duration(c.Stats.LateWindowHrs * float64(time.Hour)),
	}
}

// AdviceConfig traduce la sección de advice a la configuración del modelo.
func (c *Config) AdviceConfig() advice.Config {
	out := advice.DefaultConfig()
	out.KPos = c.Advice.KPos
	out.KFlow = c.Advice.KFlow
	out.FlowLookback = time.Duration(c.Advice.FlowLookbackHrs * float64(time.Hour))
	out.FlowHalfLifeHours = c.Advice.FlowHalfLifeHrs
	out.DefaultConfidence = c.Advice.DefaultConfidence
	out.CacheTTL = time.Duration(c.Advice.CacheTTLSeconds) * time.Second
	return out
}

// SyncBudget devuelve el presupuesto del job de sync.
func (c *Config) SyncBudget() time.Duration {
	return time.Duration(c.Jobs.SyncBudgetSeconds) * time.Second
}

// ComputeBudget devuelve el presupuesto del job de compute.
func (c *Config) ComputeBudget() time.Duration {
	return time.Duration(c.Jobs.ComputeBudgetSeconds) * time.Second
}

// LiveSyncBudget devuelve el presupuesto del job live-sync.
func (c *Config) LiveSyncBudget() time.Duration {
	return time.Duration(c.Jobs.LiveSyncBudgetSeconds) * time.Second
}

// ComputeMarketsBudget devuelve el presupuesto del job compute-markets.
func (c *Config) ComputeMarketsBudget() time.Duration {
	return time.Duration(c.Jobs.ComputeMarketsBudgetSeconds) * time.Second
}

// RunRetention devuelve cuánto audit log se conserva.
func (c *Config) RunRetention() time.Duration {
	return time.Duration(c.Jobs.RunRetentionDays) * 24 * time.Hour
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Server.CronSecret = v
	}
	if v := os.Getenv("ADMIN_SECRET"); v != "" {
		cfg.Server.AdminSecret = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Jobs.SyncBudgetSeconds <= 0 {
		cfg.Jobs.SyncBudgetSeconds = 270
	}
	if cfg.Jobs.ComputeBudgetSeconds <= 0 {
		cfg.Jobs.ComputeBudgetSeconds = 270
	}
	if cfg.Jobs.LiveSyncBudgetSeconds <= 0 {
		cfg.Jobs.LiveSyncBudgetSeconds = 270
	}
	if cfg.Jobs.ComputeMarketsBudgetSeconds <= 0 {
		cfg.Jobs.ComputeMarketsBudgetSeconds = 270
	}
	if cfg.Jobs.RunRetentionDays <= 0 {
		cfg.Jobs.RunRetentionDays = 14
	}
	if cfg.Ingest.MarketsPageSize <= 0 {
		cfg.Ingest.MarketsPageSize = 250
	}
	if cfg.Ingest.TradesPageSize <= 0 {
		cfg.Ingest.TradesPageSize = 500
	}
	if cfg.Ingest.ResolutionBatch <= 0 {
		cfg.Ingest.ResolutionBatch = 50
	}
	if cfg.Ingest.CursorPrepareBatch <= 0 {
		cfg.Ingest.CursorPrepareBatch = 200
	}
	if cfg.Ingest.CursorDrainBatch <= 0 {
		cfg.Ingest.CursorDrainBatch = 20
	}
	if cfg.Live.MaxTarget <= 0 {
		cfg.Live.MaxTarget = 400
	}
	if cfg.Live.MaxPerRun <= 0 {
		cfg.Live.MaxPerRun = 60
	}
	if cfg.Live.PriceBatch <= 0 {
		cfg.Live.PriceBatch = 50
	}
	if cfg.Stats.HalfLifeDays <= 0 {
		cfg.Stats.HalfLifeDays = 30
	}
	if cfg.Stats.LateWindowHrs <= 0 {
		cfg.Stats.LateWindowHrs = 24
	}
	if cfg.Stats.AdviceMarkets <= 0 {
		cfg.Stats.AdviceMarkets = 100
	}
	if cfg.Advice.KPos <= 0 {
		cfg.Advice.KPos = 0.9
	}
	if cfg.Advice.KFlow <= 0 {
		cfg.Advice.KFlow = 0.6
	}
	if cfg.Advice.FlowLookbackHrs <= 0 {
		cfg.Advice.FlowLookbackHrs = 48
	}
	if cfg.Advice.FlowHalfLifeHrs <= 0 {
		cfg.Advice.FlowHalfLifeHrs = 12
	}
	if cfg.Advice.DefaultConfidence <= 0 {
		cfg.Advice.DefaultConfidence = 10
	}
	if cfg.Advice.CacheTTLSeconds <= 0 {
		cfg.Advice.CacheTTLSeconds = 60
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "postgres://localhost:5432/polyadvisor?sslmode=disable"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
