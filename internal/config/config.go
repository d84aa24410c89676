// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Cache    CacheConfig
	Storage  StorageConfig
	Drive    DriveConfig
	Solver   SolverConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	// SolveTimeout bounds one API solve, in seconds. Zero disables it.
	SolveTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// MaxConcurrentTx caps transactions in flight across the pool.
	MaxConcurrentTx int64
	// AutoMigrate applies the embedded schema on startup.
	AutoMigrate bool
}

// DSN renders the connection string understood by both lib/pq and pgx.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type AppConfig struct {
	DataDir   string
	OutputDir string
	LogLevel  string
}

type CacheConfig struct {
	Enabled          bool
	RedisURL         string
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	RedisDB          int
	ResultTTLSeconds int
}

// StorageConfig points at the S3-compatible bucket exports are uploaded to.
type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

type DriveConfig struct {
	CredentialsFile string
	FolderID        string
}

// SolverConfig holds the default problem instance and run knobs.
type SolverConfig struct {
	MeanDemand         []float64
	FixedOrderCost     float64
	VariableCost       float64
	Price              float64
	HoldingCost        float64
	SalvageValue       float64
	InitialCash        float64
	InitialInventory   float64
	MinCashRequired    float64
	MaxOrderQuantity   float64
	TruncationQuantile float64
	StepSize           float64
	MinInventoryState  float64
	MaxInventoryState  float64
	MinCashState       float64
	MaxCashState       float64
	CashGranularity    float64
	DiscountFactor     float64
	Criteria           string
	Direction          string

	SimulationSamples int
	Workers           int
}

// Parameters turns the configured defaults into a problem instance.
func (c SolverConfig) Parameters() (domain.Parameters, error) {
	criteria, err := domain.ParseCriteria(c.Criteria)
	if err != nil {
		return domain.Parameters{}, err
	}
	p := domain.Parameters{
		MeanDemand:         append([]float64(nil), c.MeanDemand...),
		FixedOrderCost:     c.FixedOrderCost,
		VariableCost:       c.VariableCost,
		Price:              c.Price,
		HoldingCost:        c.HoldingCost,
		SalvageValue:       c.SalvageValue,
		InitialCash:        c.InitialCash,
		InitialInventory:   c.InitialInventory,
		MinCashRequired:    c.MinCashRequired,
		MaxOrderQuantity:   c.MaxOrderQuantity,
		TruncationQuantile: c.TruncationQuantile,
		StepSize:           c.StepSize,
		MinInventoryState:  c.MinInventoryState,
		MaxInventoryState:  c.MaxInventoryState,
		MinCashState:       c.MinCashState,
		MaxCashState:       c.MaxCashState,
		CashGranularity:    c.CashGranularity,
		DiscountFactor:     c.DiscountFactor,
		Criteria:           criteria,
		Direction:          domain.Direction(strings.ToLower(c.Direction)),
	}.WithDefaults()
	if err := p.Validate(); err != nil {
		return domain.Parameters{}, err
	}
	return p, nil
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		setDefaults(viper.GetViper())
		viper.AutomaticEnv()

		cfg, err := fromViper(viper.GetViper())
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("invalid configuration")
		}

		ensureDir(cfg.App.DataDir)
		ensureDir(cfg.App.OutputDir)
		instance = cfg
	})

	return instance
}

func setDefaults(v *viper.Viper) {
	def := domain.DefaultParameters()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 30)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 300)
	v.SetDefault("SERVER_SOLVE_TIMEOUT", 240)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "cashflow_sdp")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("DB_MAX_CONCURRENT_TX", 10)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("APP_DATA_DIR", "./data/input")
	v.SetDefault("APP_OUTPUT_DIR", "./data/output")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_RESULT_TTL_SECONDS", 3600)
	v.SetDefault("STORAGE_ENABLED", false)
	v.SetDefault("STORAGE_ENDPOINT", "localhost:9000")
	v.SetDefault("STORAGE_BUCKET", "sdp-exports")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_USE_SSL", false)
	v.SetDefault("STORAGE_PREFIX", "runs")
	v.SetDefault("DRIVE_CREDENTIALS_FILE", "")
	v.SetDefault("DRIVE_FOLDER_ID", "")

	v.SetDefault("SOLVER_MEAN_DEMAND", joinFloats(def.MeanDemand))
	v.SetDefault("SOLVER_FIXED_ORDER_COST", def.FixedOrderCost)
	v.SetDefault("SOLVER_VARIABLE_COST", def.VariableCost)
	v.SetDefault("SOLVER_PRICE", def.Price)
	v.SetDefault("SOLVER_HOLDING_COST", def.HoldingCost)
	v.SetDefault("SOLVER_SALVAGE_VALUE", def.SalvageValue)
	v.SetDefault("SOLVER_INITIAL_CASH", def.InitialCash)
	v.SetDefault("SOLVER_INITIAL_INVENTORY", def.InitialInventory)
	v.SetDefault("SOLVER_MIN_CASH_REQUIRED", def.MinCashRequired)
	v.SetDefault("SOLVER_MAX_ORDER_QUANTITY", def.MaxOrderQuantity)
	v.SetDefault("SOLVER_TRUNCATION_QUANTILE", def.TruncationQuantile)
	v.SetDefault("SOLVER_STEP_SIZE", def.StepSize)
	v.SetDefault("SOLVER_MIN_INVENTORY_STATE", def.MinInventoryState)
	v.SetDefault("SOLVER_MAX_INVENTORY_STATE", def.MaxInventoryState)
	v.SetDefault("SOLVER_MIN_CASH_STATE", def.MinCashState)
	v.SetDefault("SOLVER_MAX_CASH_STATE", def.MaxCashState)
	v.SetDefault("SOLVER_CASH_GRANULARITY", def.CashGranularity)
	v.SetDefault("SOLVER_DISCOUNT_FACTOR", def.DiscountFactor)
	v.SetDefault("SOLVER_CRITERIA", string(def.Criteria))
	v.SetDefault("SOLVER_DIRECTION", string(def.Direction))
	v.SetDefault("SOLVER_SIMULATION_SAMPLES", 10000)
	v.SetDefault("SOLVER_WORKERS", runtime.NumCPU())
}

func fromViper(v *viper.Viper) (*Config, error) {
	demand, err := parseFloats(v.GetString("SOLVER_MEAN_DEMAND"))
	if err != nil {
		return nil, fmt.Errorf("SOLVER_MEAN_DEMAND: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			SolveTimeout:   v.GetInt("SERVER_SOLVE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),

			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			MaxConcurrentTx: v.GetInt64("DB_MAX_CONCURRENT_TX"),
			AutoMigrate:     v.GetBool("DB_AUTO_MIGRATE"),
		},
		App: AppConfig{
			DataDir:   v.GetString("APP_DATA_DIR"),
			OutputDir: v.GetString("APP_OUTPUT_DIR"),
			LogLevel:  v.GetString("LOG_LEVEL"),
		},
		Cache: CacheConfig{
			Enabled:          v.GetBool("CACHE_ENABLED"),
			RedisURL:         v.GetString("REDIS_URL"),
			RedisHost:        v.GetString("REDIS_HOST"),
			RedisPort:        v.GetString("REDIS_PORT"),
			RedisPassword:    v.GetString("REDIS_PASSWORD"),
			RedisDB:          v.GetInt("REDIS_DB"),
			ResultTTLSeconds: v.GetInt("CACHE_RESULT_TTL_SECONDS"),
		},
		Storage: StorageConfig{
			Enabled:   v.GetBool("STORAGE_ENABLED"),
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			Bucket:    v.GetString("STORAGE_BUCKET"),
			Region:    v.GetString("STORAGE_REGION"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
			Prefix:    v.GetString("STORAGE_PREFIX"),
		},
		Drive: DriveConfig{
			CredentialsFile: v.GetString("DRIVE_CREDENTIALS_FILE"),
			FolderID:        v.GetString("DRIVE_FOLDER_ID"),
		},
		Solver: SolverConfig{
			MeanDemand:         demand,
			FixedOrderCost:     v.GetFloat64("SOLVER_FIXED_ORDER_COST"),
			VariableCost:       v.GetFloat64("SOLVER_VARIABLE_COST"),
			Price:              v.GetFloat64("SOLVER_PRICE"),
			HoldingCost:        v.GetFloat64("SOLVER_HOLDING_COST"),
			SalvageValue:       v.GetFloat64("SOLVER_SALVAGE_VALUE"),
			InitialCash:        v.GetFloat64("SOLVER_INITIAL_CASH"),
			InitialInventory:   v.GetFloat64("SOLVER_INITIAL_INVENTORY"),
			MinCashRequired:    v.GetFloat64("SOLVER_MIN_CASH_REQUIRED"),
			MaxOrderQuantity:   v.GetFloat64("SOLVER_MAX_ORDER_QUANTITY"),
			TruncationQuantile: v.GetFloat64("SOLVER_TRUNCATION_QUANTILE"),
			StepSize:           v.GetFloat64("SOLVER_STEP_SIZE"),
			MinInventoryState:  v.GetFloat64("SOLVER_MIN_INVENTORY_STATE"),
			MaxInventoryState:  v.GetFloat64("SOLVER_MAX_INVENTORY_STATE"),
			MinCashState:       v.GetFloat64("SOLVER_MIN_CASH_STATE"),
			MaxCashState:       v.GetFloat64("SOLVER_MAX_CASH_STATE"),
			CashGranularity:    v.GetFloat64("SOLVER_CASH_GRANULARITY"),
			DiscountFactor:     v.GetFloat64("SOLVER_DISCOUNT_FACTOR"),
			Criteria:           v.GetString("SOLVER_CRITERIA"),
			Direction:          v.GetString("SOLVER_DIRECTION"),
			SimulationSamples:  v.GetInt("SOLVER_SIMULATION_SAMPLES"),
			Workers:            v.GetInt("SOLVER_WORKERS"),
		},
	}, nil
}

// LoadParametersFile reads a problem instance from a YAML, JSON or TOML file.
// Keys absent from the file keep their default values, except mean_demand.
func LoadParametersFile(path string) (domain.Parameters, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return domain.Parameters{}, fmt.Errorf("read parameters file %s: %w", path, err)
	}

	// mean_demand is required; a default horizon would merge into the list.
	p := domain.DefaultParameters()
	p.MeanDemand = nil
	if err := v.Unmarshal(&p); err != nil {
		return domain.Parameters{}, fmt.Errorf("decode parameters file %s: %w", path, err)
	}
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return domain.Parameters{}, err
	}
	return p, nil
}

// parseFloats splits a comma or space separated list of numbers.
func parseFloats(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", f, err)
		}
		out = append(out, x)
	}
	return out, nil
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func ensureDir(dir string) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Log.Fatal().Err(err).Str("dir", dir).Msg("failed to create directory")
		}
	}
}
