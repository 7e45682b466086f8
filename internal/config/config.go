package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds all trader configuration.
type Config struct {
	// Server
	Port int
	Host string

	// Persistence
	StoreBackend string // "mongo", "sqlite", "memory"
	MongoURI     string
	SQLitePath   string
	PersistTimeout time.Duration

	// Simulation
	Seed              int64
	TickIntervalMinMs int
	TickIntervalMaxMs int
	VolatilitySigma   float64
	HistoryCapacity   int
	SnapshotInterval  time.Duration
	SendBufferSize    int
	NewsAuto          bool

	// Trading
	DailyCapNotional     float64
	BasePositionNotional float64
	MinNotional          float64
	MinConfidence        float64
	PerTradeCapFraction  float64
	PerSymbolCapFraction float64
	EvaluationIntervalMs int

	// Strategy parameters
	SMAShort      int
	SMALong       int
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
	BBPeriod      int
	BBStd         float64

	// Trade archiver (opt-in: only active when ArchiveDir is set)
	ArchiveDir           string
	ArchiveMaxGB         int
	ArchiveIntervalHours int
	ArchiveAfterHours    int
}

func Load() *Config {
	c := &Config{}

	flag.IntVar(&c.Port, "port", envInt("FX_PORT", 8200), "HTTP/WebSocket server port")
	flag.StringVar(&c.Host, "host", envStr("FX_HOST", "0.0.0.0"), "Listen host")

	flag.StringVar(&c.StoreBackend, "db", envStr("FX_DB", "sqlite"), "Store backend: mongo, sqlite or memory")
	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/fxtrader"), "MongoDB connection URI")
	flag.StringVar(&c.SQLitePath, "sqlite-path", envStr("SQLITE_PATH", "fxtrader.db"), "SQLite database file")

	flag.Int64Var(&c.Seed, "seed", envInt64("FX_SEED", 0), "PRNG seed (0 = random)")
	flag.IntVar(&c.TickIntervalMinMs, "tick-min", envInt("TICK_INTERVAL_MIN_MS", 1000), "Minimum tick interval ms")
	flag.IntVar(&c.TickIntervalMaxMs, "tick-max", envInt("TICK_INTERVAL_MAX_MS", 3000), "Maximum tick interval ms")
	flag.Float64Var(&c.VolatilitySigma, "sigma", envFloat("VOLATILITY_SIGMA", 0.001), "Random-walk volatility per tick")
	flag.IntVar(&c.HistoryCapacity, "history", envInt("HISTORY_CAPACITY", 200), "Per-symbol history ring capacity")
	flag.IntVar(&c.SendBufferSize, "send-buffer", envInt("SEND_BUFFER", 256), "Per-subscriber send buffer size")
	flag.BoolVar(&c.NewsAuto, "news-auto", envBool("NEWS_AUTO", false), "Inject random news shocks")

	flag.Float64Var(&c.DailyCapNotional, "daily-cap", envFloat("DAILY_CAP_NOTIONAL", 10_000_000), "Daily notional cap")
	flag.Float64Var(&c.BasePositionNotional, "base-position", envFloat("BASE_POSITION_NOTIONAL", 10_000), "Base position notional")
	flag.Float64Var(&c.MinNotional, "min-notional", envFloat("MIN_NOTIONAL", 1_000), "Minimum trade notional")
	flag.Float64Var(&c.MinConfidence, "min-confidence", envFloat("MIN_CONFIDENCE", 0.6), "Minimum signal confidence")
	flag.Float64Var(&c.PerTradeCapFraction, "per-trade-cap", envFloat("PER_TRADE_CAP_FRACTION", 0.10), "Per-trade cap as fraction of daily cap")
	flag.Float64Var(&c.PerSymbolCapFraction, "per-symbol-cap", envFloat("PER_SYMBOL_CAP_FRACTION", 0.20), "Per-symbol exposure cap as fraction of daily cap")
	flag.IntVar(&c.EvaluationIntervalMs, "eval-interval", envInt("EVALUATION_INTERVAL_MS", 5000), "Strategy evaluation interval ms")

	flag.IntVar(&c.SMAShort, "sma-short", envInt("SMA_SHORT", 10), "Short SMA period")
	flag.IntVar(&c.SMALong, "sma-long", envInt("SMA_LONG", 50), "Long SMA period")
	flag.IntVar(&c.RSIPeriod, "rsi-period", envInt("RSI_PERIOD", 14), "RSI period")
	flag.Float64Var(&c.RSIOverbought, "rsi-overbought", envFloat("RSI_OVERBOUGHT", 70), "RSI overbought threshold")
	flag.Float64Var(&c.RSIOversold, "rsi-oversold", envFloat("RSI_OVERSOLD", 30), "RSI oversold threshold")
	flag.IntVar(&c.BBPeriod, "bb-period", envInt("BB_PERIOD", 20), "Bollinger period")
	flag.Float64Var(&c.BBStd, "bb-std", envFloat("BB_STD", 2), "Bollinger standard deviations")

	flag.StringVar(&c.ArchiveDir, "archive-dir", envStr("ARCHIVE_DIR", ""), "Trade archive directory (empty = disabled)")
	flag.IntVar(&c.ArchiveMaxGB, "archive-max-gb", envInt("ARCHIVE_MAX_GB", 4), "Archive size cap in GB")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval", envInt("ARCHIVE_INTERVAL_HOURS", 6), "Hours between archive runs")
	flag.IntVar(&c.ArchiveAfterHours, "archive-after", envInt("ARCHIVE_AFTER_HOURS", 24), "Archive trades older than this many hours")

	flag.Parse()

	c.PersistTimeout = 2 * time.Second
	c.SnapshotInterval = 30 * time.Second

	return c
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
