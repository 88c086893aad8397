package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type ORSConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Profile        string        `mapstructure:"profile"`
	GeocodeTimeout time.Duration `mapstructure:"geocode_timeout"`
	RouteTimeout   time.Duration `mapstructure:"route_timeout"`
}

// KeywordConfig is one row of the geocoder keyword table. Every string in
// Match must appear in the lower-cased address for the row to match.
type KeywordConfig struct {
	Match []string `mapstructure:"match"`
	Lat   float64  `mapstructure:"lat"`
	Lng   float64  `mapstructure:"lng"`
}

type GeocoderConfig struct {
	Country    string          `mapstructure:"country"`
	DefaultLat float64         `mapstructure:"default_lat"`
	DefaultLng float64         `mapstructure:"default_lng"`
	Jitter     float64         `mapstructure:"jitter"`
	Keywords   []KeywordConfig `mapstructure:"keywords"`
}

type SimulationConfig struct {
	DepotLat       float64       `mapstructure:"depot_lat"`
	DepotLng       float64       `mapstructure:"depot_lng"`
	TargetSteps    int           `mapstructure:"target_steps"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	FirstTickDelay time.Duration `mapstructure:"first_tick_delay"`
	Workers        int           `mapstructure:"workers"`
	SpeedMin       float64       `mapstructure:"speed_min"`
	SpeedMax       float64       `mapstructure:"speed_max"`
	RouteJitter    float64       `mapstructure:"route_jitter"`
	DriverLabel    string        `mapstructure:"driver_label"`
}

type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	HTTPAddr    string           `mapstructure:"http_addr"`
	JWTSecret   string           `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration    `mapstructure:"token_ttl"`
	DatabaseURL string           `mapstructure:"database_url"`
	ORS         ORSConfig        `mapstructure:"ors"`
	Geocoder    GeocoderConfig   `mapstructure:"geocoder"`
	Simulation  SimulationConfig `mapstructure:"simulation"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Redis       RedisConfig      `mapstructure:"redis"`
}

// SetDefaults registers every key so AutomaticEnv can resolve nested values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8081")
	v.SetDefault("jwt_secret", "dev-secret-change-me")
	v.SetDefault("token_ttl", 4*time.Hour)
	v.SetDefault("database_url", "")

	v.SetDefault("ors.api_key", "")
	v.SetDefault("ors.base_url", "https://api.openrouteservice.org")
	v.SetDefault("ors.profile", "driving-car")
	v.SetDefault("ors.geocode_timeout", 10*time.Second)
	v.SetDefault("ors.route_timeout", 15*time.Second)

	v.SetDefault("geocoder.country", "Tunisia")
	v.SetDefault("geocoder.default_lat", 36.8065)
	v.SetDefault("geocoder.default_lng", 10.1815)
	v.SetDefault("geocoder.jitter", 0.005)

	v.SetDefault("simulation.depot_lat", 36.8283)
	v.SetDefault("simulation.depot_lng", 10.1583)
	v.SetDefault("simulation.target_steps", 40)
	v.SetDefault("simulation.tick_interval", 3*time.Second)
	v.SetDefault("simulation.first_tick_delay", time.Second)
	v.SetDefault("simulation.workers", 5)
	v.SetDefault("simulation.speed_min", 30.0)
	v.SetDefault("simulation.speed_max", 50.0)
	v.SetDefault("simulation.route_jitter", 0.0005)
	v.SetDefault("simulation.driver_label", "Simulated driver")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "delivery_location_events")
	v.SetDefault("redis.url", "")
}

// NewViper builds a viper instance reading cfgFile (when set), DELISIM_* env
// variables and a local .env file.
func NewViper(cfgFile string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("delisim")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", cfgFile, err)
		}
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	s := c.Simulation
	if s.TargetSteps < 1 {
		errs = append(errs, fmt.Errorf("simulation.target_steps must be >= 1, got %d", s.TargetSteps))
	}
	if s.Workers < 1 {
		errs = append(errs, fmt.Errorf("simulation.workers must be >= 1, got %d", s.Workers))
	}
	if s.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("simulation.tick_interval must be positive, got %s", s.TickInterval))
	}
	if s.FirstTickDelay < 0 {
		errs = append(errs, fmt.Errorf("simulation.first_tick_delay must not be negative, got %s", s.FirstTickDelay))
	}
	if s.SpeedMin > s.SpeedMax {
		errs = append(errs, fmt.Errorf("simulation.speed_min (%v) exceeds speed_max (%v)", s.SpeedMin, s.SpeedMax))
	}
	for i, k := range c.Geocoder.Keywords {
		if len(k.Match) == 0 {
			errs = append(errs, fmt.Errorf("geocoder.keywords[%d]: match is empty", i))
		}
	}
	if c.Kafka.Enabled && strings.TrimSpace(c.Kafka.Brokers) == "" {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}
