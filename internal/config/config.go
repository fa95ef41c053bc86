package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"sats-arena/internal/domain"
)

type ServerConfig struct {
	Port         string        `yaml:"port" validate:"omitempty,numeric"`
	ReadTimeout  time.Duration `yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"writeTimeout" validate:"gte=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Color bool   `yaml:"color"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	TTL      string `yaml:"ttl"`
}

type PostgresConfig struct {
	URL string `yaml:"url"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type ProfilesConfig struct {
	Driver      string        `yaml:"driver" validate:"oneof=memory postgres sqlite"`
	SaveTimeout time.Duration `yaml:"saveTimeout" validate:"gt=0"`
}

type CatalogConfig struct {
	Source string `yaml:"source" validate:"oneof=static file postgres"`
	Path   string `yaml:"path" validate:"required_if=Source file"`
	TTL    string `yaml:"ttl"`
}

type EventsConfig struct {
	Dir       string `yaml:"dir"`
	AMQPURL   string `yaml:"amqpUrl" validate:"omitempty,url"`
	AMQPQueue string `yaml:"amqpQueue" validate:"required_with=AMQPURL"`
}

// GameConfig holds the quiz timing and economy rules.
type GameConfig struct {
	TickInterval         time.Duration `yaml:"tickInterval" validate:"gt=0"`
	QuestionDuration     time.Duration `yaml:"questionDuration" validate:"gt=0"`
	SoloQuestionDuration time.Duration `yaml:"soloQuestionDuration" validate:"gt=0"`
	AdvanceDelay         time.Duration `yaml:"advanceDelay" validate:"gte=0"`
	MaxSessionDuration   time.Duration `yaml:"maxSessionDuration" validate:"gte=0"` // 0 disables the deadline
	StartingBalance      int           `yaml:"startingBalance" validate:"gte=0"`
	NPCHideDistance      float64       `yaml:"npcHideDistance" validate:"gt=0"`
}

type PlatformConfig struct {
	Label      string      `yaml:"label"`
	Center     domain.Vec3 `yaml:"center"`
	OnRadius   float64     `yaml:"onRadius" validate:"gt=0"`
	NearRadius float64     `yaml:"nearRadius" validate:"gtefield=OnRadius"`
}

type AreaConfig struct {
	ID        string           `yaml:"id" validate:"required"`
	JoinZone  domain.Box       `yaml:"joinZone"`
	Platforms []PlatformConfig `yaml:"platforms" validate:"required,min=1,dive"`
}

type NPCConfig struct {
	ID       string      `yaml:"id" validate:"required"`
	Kind     string      `yaml:"kind" validate:"oneof=lesson quiz"`
	Ref      string      `yaml:"ref" validate:"required"`
	AreaID   string      `yaml:"areaId"`
	Position domain.Vec3 `yaml:"position"`
	Radius   float64     `yaml:"radius" validate:"gt=0"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Events   EventsConfig   `yaml:"events"`
	Game     GameConfig     `yaml:"game"`
	Areas    []AreaConfig   `yaml:"areas" validate:"required,min=1,dive"`
	NPCs     []NPCConfig    `yaml:"npcs" validate:"dive"`
}

// Default returns the built-in configuration: one arena with four platforms,
// the quiz NPC and the nine lesson NPCs.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Log:      LogConfig{Level: "info", Color: true},
		Redis:    RedisConfig{TTL: "10m"},
		SQLite:   SQLiteConfig{Path: "data/profiles.db"},
		Profiles: ProfilesConfig{Driver: "memory", SaveTimeout: 5 * time.Second},
		Catalog:  CatalogConfig{Source: "static", TTL: "10m"},
		Events:   EventsConfig{AMQPQueue: "session-events"},
		Game: GameConfig{
			TickInterval:         250 * time.Millisecond,
			QuestionDuration:     15 * time.Second,
			SoloQuestionDuration: 30 * time.Second,
			AdvanceDelay:         time.Second,
			MaxSessionDuration:   10 * time.Minute,
			StartingBalance:      5,
			NPCHideDistance:      3,
		},
		Areas: []AreaConfig{DefaultArea()},
		NPCs:  DefaultNPCs(),
	}
}

// DefaultArea is the classic quiz floor: platforms at (±3, 0.1, 5/10).
func DefaultArea() AreaConfig {
	platform := func(label string, x, z float64) PlatformConfig {
		return PlatformConfig{Label: label, Center: domain.Vec3{X: x, Y: 0.1, Z: z}, OnRadius: 1.5, NearRadius: 2.5}
	}
	return AreaConfig{
		ID: "arena",
		JoinZone: domain.Box{
			Min: domain.Vec3{X: -6, Y: -1, Z: 2},
			Max: domain.Vec3{X: 6, Y: 5, Z: 13},
		},
		Platforms: []PlatformConfig{
			platform("(Front-Right)", 3, 5),
			platform("(Front-Left)", -3, 5),
			platform("(Back-Right)", 3, 10),
			platform("(Back-Left)", -3, 10),
		},
	}
}

func DefaultNPCs() []NPCConfig {
	npcs := []NPCConfig{
		{ID: "quizmind", Kind: "quiz", Ref: "quiz1", AreaID: "arena", Position: domain.Vec3{X: 0, Y: 1.65, Z: 5}},
	}
	lessons := []domain.Vec3{
		{X: -0.5, Y: 1.65, Z: 16.5},
		{X: -10, Y: 1.65, Z: 12},
		{X: -10, Y: 1.65, Z: -10},
		{X: 10, Y: 1.65, Z: -15},
		{X: -1, Y: 1.65, Z: 45},
		{X: 3, Y: 1.65, Z: 73},
		{X: 35, Y: 1.65, Z: 2},
		{X: 65, Y: 1.65, Z: 5},
		{X: 61, Y: 1.65, Z: -71},
	}
	for i, pos := range lessons {
		npcs = append(npcs, NPCConfig{
			ID:       fmt.Sprintf("infobot%02d", i),
			Kind:     "lesson",
			Ref:      fmt.Sprintf("lesson%d", i),
			Position: pos,
		})
	}
	for i := range npcs {
		npcs[i].Radius = 1.5
	}
	return npcs
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default. Omitted fields keep their defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config:\n- %s", strings.Join(msgs, "\n- "))
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
