package cmd

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fernandobusta/farm-concurrency/sim"
	"github.com/fernandobusta/farm-concurrency/sim/agent"
)

//go:embed farm.schema.json
var farmSchemaJSON string

var farmSchema = jsonschema.MustCompileString("farm.schema.json", farmSchemaJSON)

// envPrefix namespaces environment overrides, e.g. FARM_FARMERS_COUNT=5.
const envPrefix = "FARM"

// FarmFile is the on-disk farm configuration, in YAML or TOML.
// Durations are Go duration strings ("100ms", "5m").
type FarmFile struct {
	Seed     int64        `yaml:"seed" toml:"seed"`
	Duration string       `yaml:"duration" toml:"duration"`
	Clock    ClockFile    `yaml:"clock" toml:"clock"`
	Fields   FieldsFile   `yaml:"fields" toml:"fields"`
	Farmers  FarmersFile  `yaml:"farmers" toml:"farmers"`
	Buyers   BuyersFile   `yaml:"buyers" toml:"buyers"`
	Delivery DeliveryFile `yaml:"delivery" toml:"delivery"`
}

type ClockFile struct {
	TickDuration string `yaml:"tick_duration" toml:"tick_duration"`
	DayLength    int64  `yaml:"day_length" toml:"day_length"`
}

// FieldsFile lists the field species. With no species, the first Count
// entries of the built-in catalogue are used (five when Count is 0).
// With species listed, a non-zero Count keeps only the first Count of them.
type FieldsFile struct {
	Species      []string `yaml:"species,omitempty" toml:"species,omitempty"`
	Count        int      `yaml:"count,omitempty" toml:"count,omitempty"`
	Capacity     int      `yaml:"capacity" toml:"capacity"`
	InitialStock int      `yaml:"initial_stock" toml:"initial_stock"`
}

type FarmersFile struct {
	Count            int    `yaml:"count" toml:"count"`
	TrailerCapacity  int    `yaml:"trailer_capacity" toml:"trailer_capacity"`
	TravelBaseTicks  int    `yaml:"travel_base_ticks" toml:"travel_base_ticks"`
	BreakDuration    int    `yaml:"break_duration" toml:"break_duration"`
	BreakIntervalMin int    `yaml:"break_interval_min" toml:"break_interval_min"`
	BreakIntervalMax int    `yaml:"break_interval_max" toml:"break_interval_max"`
	Allocation       string `yaml:"allocation" toml:"allocation"`
}

type BuyersFile struct {
	Count       int `yaml:"count" toml:"count"`
	PatienceMin int `yaml:"patience_min" toml:"patience_min"`
	PatienceMax int `yaml:"patience_max" toml:"patience_max"`
}

type DeliveryFile struct {
	Size          int     `yaml:"size" toml:"size"`
	MaxPerSpecies int     `yaml:"max_per_species" toml:"max_per_species"`
	Probability   float64 `yaml:"probability" toml:"probability"`
	MinGap        int     `yaml:"min_gap" toml:"min_gap"`
	MaxGap        int     `yaml:"max_gap" toml:"max_gap"`
	Schedule      string  `yaml:"schedule,omitempty" toml:"schedule,omitempty"`
	Arrival       string  `yaml:"arrival,omitempty" toml:"arrival,omitempty"`
	CV            float64 `yaml:"cv,omitempty" toml:"cv,omitempty"`
}

// DefaultFarmFile returns the built-in defaults in file form. Species are
// left unset so a field count alone picks from the catalogue.
func DefaultFarmFile() FarmFile {
	f := farmFileFromConfig(sim.DefaultFarmConfig())
	f.Fields.Species = nil
	return f
}

func farmFileFromConfig(c sim.FarmConfig) FarmFile {
	return FarmFile{
		Seed:     c.Seed,
		Duration: c.Duration.String(),
		Clock:    ClockFile{TickDuration: c.Clock.TickDuration.String(), DayLength: c.Clock.DayLength},
		Fields: FieldsFile{
			Species:      append([]string(nil), c.Fields.Species...),
			Capacity:     c.Fields.Capacity,
			InitialStock: c.Fields.InitialStock,
		},
		Farmers: FarmersFile{
			Count:            c.Farmers.Count,
			TrailerCapacity:  c.Farmers.TrailerCapacity,
			TravelBaseTicks:  c.Farmers.TravelBaseTicks,
			BreakDuration:    c.Farmers.BreakDuration,
			BreakIntervalMin: c.Farmers.BreakIntervalMin,
			BreakIntervalMax: c.Farmers.BreakIntervalMax,
			Allocation:       c.Farmers.AllocationStrategy,
		},
		Buyers: BuyersFile{Count: c.Buyers.Count, PatienceMin: c.Buyers.PatienceMin, PatienceMax: c.Buyers.PatienceMax},
		Delivery: DeliveryFile{
			Size:          c.Delivery.Size,
			MaxPerSpecies: c.Delivery.MaxPerSpecies,
			Probability:   c.Delivery.Probability,
			MinGap:        c.Delivery.MinGap,
			MaxGap:        c.Delivery.MaxGap,
			Schedule:      c.Delivery.Schedule,
			Arrival:       c.Delivery.Arrival,
			CV:            c.Delivery.CV,
		},
	}
}

// ToConfig converts the file into a validated sim.FarmConfig.
func (f FarmFile) ToConfig() (sim.FarmConfig, error) {
	invalid := func(format string, args ...any) (sim.FarmConfig, error) {
		return sim.FarmConfig{}, fmt.Errorf("%w: %s", sim.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	tick, err := time.ParseDuration(f.Clock.TickDuration)
	if err != nil {
		return invalid("clock.tick_duration: %v", err)
	}
	var duration time.Duration
	if f.Duration != "" {
		if duration, err = time.ParseDuration(f.Duration); err != nil {
			return invalid("duration: %v", err)
		}
	}
	species, err := f.Fields.resolveSpecies()
	if err != nil {
		return invalid("fields: %v", err)
	}

	cfg := sim.FarmConfig{
		Clock: sim.ClockConfig{TickDuration: tick, DayLength: f.Clock.DayLength},
		Fields: sim.FieldConfig{
			Species:      species,
			Capacity:     f.Fields.Capacity,
			InitialStock: f.Fields.InitialStock,
		},
		Farmers: sim.FarmerConfig{
			Count:              f.Farmers.Count,
			TrailerCapacity:    f.Farmers.TrailerCapacity,
			TravelBaseTicks:    f.Farmers.TravelBaseTicks,
			BreakDuration:      f.Farmers.BreakDuration,
			BreakIntervalMin:   f.Farmers.BreakIntervalMin,
			BreakIntervalMax:   f.Farmers.BreakIntervalMax,
			AllocationStrategy: f.Farmers.Allocation,
		},
		Buyers: sim.BuyerConfig{Count: f.Buyers.Count, PatienceMin: f.Buyers.PatienceMin, PatienceMax: f.Buyers.PatienceMax},
		Delivery: sim.DeliveryConfig{
			Size:          f.Delivery.Size,
			MaxPerSpecies: f.Delivery.MaxPerSpecies,
			Probability:   f.Delivery.Probability,
			MinGap:        f.Delivery.MinGap,
			MaxGap:        f.Delivery.MaxGap,
			Schedule:      f.Delivery.Schedule,
			Arrival:       f.Delivery.Arrival,
			CV:            f.Delivery.CV,
		},
		Seed:     f.Seed,
		Duration: duration,
	}
	if err := cfg.Validate(); err != nil {
		return sim.FarmConfig{}, err
	}
	if cfg.Delivery.Schedule != "" {
		if _, err := agent.ParseDeliverySchedule(cfg.Delivery.Schedule); err != nil {
			return sim.FarmConfig{}, err
		}
	}
	return cfg, nil
}

func (f FieldsFile) resolveSpecies() ([]string, error) {
	if len(f.Species) == 0 {
		n := f.Count
		if n == 0 {
			n = 5
		}
		if n > len(sim.DefaultSpecies) {
			return nil, fmt.Errorf("count %d exceeds the %d built-in species; list species explicitly", n, len(sim.DefaultSpecies))
		}
		return append([]string(nil), sim.DefaultSpecies[:n]...), nil
	}
	if f.Count > len(f.Species) {
		return nil, fmt.Errorf("count %d exceeds the %d listed species", f.Count, len(f.Species))
	}
	if f.Count > 0 {
		return append([]string(nil), f.Species[:f.Count]...), nil
	}
	return append([]string(nil), f.Species...), nil
}

// LoadFarmFile reads a YAML or TOML farm file over the defaults. Keys the file
// omits keep their default values. The document is checked against the
// embedded JSON schema first, then decoded strictly so typos are errors.
// An empty path returns the defaults.
func LoadFarmFile(path string) (FarmFile, error) {
	f := DefaultFarmFile()
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read farm file: %w", err)
	}

	var raw any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return f, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := validateDocument(raw); err != nil {
			return f, fmt.Errorf("%s: %w", path, err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return f, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return f, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := validateDocument(raw); err != nil {
			return f, fmt.Errorf("%s: %w", path, err)
		}
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&f); err != nil {
			return f, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return f, fmt.Errorf("farm file %s: unsupported extension %q (want .yaml, .yml or .toml)", path, ext)
	}
	return f, nil
}

// validateDocument checks a decoded YAML or TOML document against the schema.
// The document goes through JSON first so the validator sees JSON types.
func validateDocument(raw any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", sim.ErrInvalidConfig, err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%w: %v", sim.ErrInvalidConfig, err)
	}
	if err := farmSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", sim.ErrInvalidConfig, err)
	}
	return nil
}

// overrideKeys maps viper keys to the FarmFile fields they override.
func overrideKeys(f *FarmFile) map[string]any {
	return map[string]any{
		"seed":                       &f.Seed,
		"duration":                   &f.Duration,
		"clock.tick_duration":        &f.Clock.TickDuration,
		"clock.day_length":           &f.Clock.DayLength,
		"fields.species":             &f.Fields.Species,
		"fields.count":               &f.Fields.Count,
		"fields.capacity":            &f.Fields.Capacity,
		"fields.initial_stock":       &f.Fields.InitialStock,
		"farmers.count":              &f.Farmers.Count,
		"farmers.trailer_capacity":   &f.Farmers.TrailerCapacity,
		"farmers.travel_base_ticks":  &f.Farmers.TravelBaseTicks,
		"farmers.break_duration":     &f.Farmers.BreakDuration,
		"farmers.break_interval_min": &f.Farmers.BreakIntervalMin,
		"farmers.break_interval_max": &f.Farmers.BreakIntervalMax,
		"farmers.allocation":         &f.Farmers.Allocation,
		"buyers.count":               &f.Buyers.Count,
		"buyers.patience_min":        &f.Buyers.PatienceMin,
		"buyers.patience_max":        &f.Buyers.PatienceMax,
		"delivery.size":              &f.Delivery.Size,
		"delivery.max_per_species":   &f.Delivery.MaxPerSpecies,
		"delivery.probability":       &f.Delivery.Probability,
		"delivery.min_gap":           &f.Delivery.MinGap,
		"delivery.max_gap":           &f.Delivery.MaxGap,
		"delivery.schedule":          &f.Delivery.Schedule,
		"delivery.arrival":           &f.Delivery.Arrival,
		"delivery.cv":                &f.Delivery.CV,
	}
}

// flagKeys maps CLI flag names to viper keys.
var flagKeys = map[string]string{
	"seed":       "seed",
	"duration":   "duration",
	"tick":       "clock.tick_duration",
	"day-length": "clock.day_length",
	"fields":     "fields.count",
	"capacity":   "fields.capacity",
	"farmers":    "farmers.count",
	"buyers":     "buyers.count",
	"allocation": "farmers.allocation",
	"schedule":   "delivery.schedule",
	"arrival":    "delivery.arrival",
}

// newOverrides returns a viper instance that sees FARM_* environment
// variables and the flags of fs that map to config keys. Flags the user did
// not set do not count as overrides.
func newOverrides(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if fs == nil {
		return v, nil
	}
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return v, nil
}

// ApplyOverrides copies every key set in v (by environment or by a changed
// flag) into f. Flags win over the environment.
func ApplyOverrides(f *FarmFile, v *viper.Viper) {
	for key, target := range overrideKeys(f) {
		if !v.IsSet(key) {
			continue
		}
		switch p := target.(type) {
		case *int:
			*p = v.GetInt(key)
		case *int64:
			*p = v.GetInt64(key)
		case *float64:
			*p = v.GetFloat64(key)
		case *string:
			*p = v.GetString(key)
		case *[]string:
			*p = v.GetStringSlice(key)
		}
	}
}

// loadFarmConfig is the full pipeline used by the commands: file, then
// environment and flag overrides, then conversion and validation.
func loadFarmConfig(path string, fs *pflag.FlagSet) (FarmFile, sim.FarmConfig, error) {
	f, err := LoadFarmFile(path)
	if err != nil {
		return f, sim.FarmConfig{}, err
	}
	v, err := newOverrides(fs)
	if err != nil {
		return f, sim.FarmConfig{}, err
	}
	ApplyOverrides(&f, v)
	cfg, err := f.ToConfig()
	return f, cfg, err
}
