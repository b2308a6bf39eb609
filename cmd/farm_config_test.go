package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandobusta/farm-concurrency/sim"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func overrideFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addOverrideFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadFarmFile_EmptyPathGivesDefaults(t *testing.T) {
	f, err := LoadFarmFile("")
	require.NoError(t, err)

	cfg, err := f.ToConfig()

	require.NoError(t, err)
	assert.Equal(t, sim.DefaultFarmConfig(), cfg)
}

func TestLoadFarmFile_PartialYAMLKeepsDefaults(t *testing.T) {
	// GIVEN a YAML file that sets only a few keys
	path := writeFile(t, "farm.yaml", `
seed: 7
clock:
  tick_duration: 5ms
fields:
  species: [goats, pigs]
farmers:
  count: 7
  allocation: random
`)

	// WHEN it is loaded and converted
	f, err := LoadFarmFile(path)
	require.NoError(t, err)
	cfg, err := f.ToConfig()
	require.NoError(t, err)

	// THEN the listed keys win and the rest are defaults
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 5*time.Millisecond, cfg.Clock.TickDuration)
	assert.Equal(t, []string{"goats", "pigs"}, cfg.Fields.Species)
	assert.Equal(t, 7, cfg.Farmers.Count)
	assert.Equal(t, sim.AllocationRandom, cfg.Farmers.AllocationStrategy)
	assert.Equal(t, 10, cfg.Fields.Capacity)
	assert.Equal(t, int64(1000), cfg.Clock.DayLength)
	assert.Equal(t, 3, cfg.Buyers.Count)
}

func TestLoadFarmFile_TOML(t *testing.T) {
	path := writeFile(t, "farm.toml", `
duration = "30s"

[fields]
count = 3
capacity = 20
initial_stock = 0

[delivery]
schedule = "0 */2 * * *"
`)

	f, err := LoadFarmFile(path)
	require.NoError(t, err)
	cfg, err := f.ToConfig()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Duration)
	assert.Equal(t, []string{"pigs", "cows", "sheep"}, cfg.Fields.Species)
	assert.Equal(t, 20, cfg.Fields.Capacity)
	assert.Zero(t, cfg.Fields.InitialStock)
	assert.Equal(t, "0 */2 * * *", cfg.Delivery.Schedule)
}

func TestLoadFarmFile_EmptyYAMLIsDefaults(t *testing.T) {
	path := writeFile(t, "farm.yml", "")

	f, err := LoadFarmFile(path)

	require.NoError(t, err)
	assert.Equal(t, DefaultFarmFile(), f)
}

func TestLoadFarmFile_Rejections(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{"unknown section", "farm.yaml", "farmer:\n  count: 3\n"},
		{"unknown key", "farm.yaml", "fields:\n  capacty: 3\n"},
		{"bad duration", "farm.yaml", "clock:\n  tick_duration: fast\n"},
		{"negative count", "farm.yaml", "buyers:\n  count: -1\n"},
		{"probability above one", "farm.toml", "[delivery]\nprobability = 1.5\n"},
		{"unknown allocation", "farm.toml", "[farmers]\nallocation = \"fifo\"\n"},
		{"duplicate species", "farm.yaml", "fields:\n  species: [pigs, pigs]\n"},
		{"unknown toml key", "farm.toml", "[clock]\nticks = 3\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFarmFile(writeFile(t, tc.file, tc.content))
			assert.ErrorIs(t, err, sim.ErrInvalidConfig)
		})
	}
}

func TestLoadFarmFile_UnreadableOrUnsupported(t *testing.T) {
	_, err := LoadFarmFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFarmFile(writeFile(t, "farm.json", "{}"))
	assert.ErrorContains(t, err, "unsupported extension")

	_, err = LoadFarmFile(writeFile(t, "farm.yaml", "fields: [unclosed"))
	assert.Error(t, err)
}

func TestFarmFile_ToConfig_SemanticErrors(t *testing.T) {
	tests := map[string]func(*FarmFile){
		"break interval reversed": func(f *FarmFile) { f.Farmers.BreakIntervalMin, f.Farmers.BreakIntervalMax = 10, 5 },
		"initial above capacity":  func(f *FarmFile) { f.Fields.InitialStock = 11 },
		"too many catalogue":      func(f *FarmFile) { f.Fields.Count = 11 },
		"count above listed":      func(f *FarmFile) { f.Fields.Species, f.Fields.Count = []string{"a"}, 2 },
		"bad tick":                func(f *FarmFile) { f.Clock.TickDuration = "soon" },
		"bad run duration":        func(f *FarmFile) { f.Duration = "later" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			f := DefaultFarmFile()
			mutate(&f)

			_, err := f.ToConfig()

			assert.ErrorIs(t, err, sim.ErrInvalidConfig)
		})
	}
}

func TestFieldsFile_ResolveSpecies(t *testing.T) {
	got, err := FieldsFile{Count: 2}.resolveSpecies()
	require.NoError(t, err)
	assert.Equal(t, []string{"pigs", "cows"}, got)

	got, err = FieldsFile{Species: []string{"yaks", "emus", "pigs"}, Count: 1}.resolveSpecies()
	require.NoError(t, err)
	assert.Equal(t, []string{"yaks"}, got)

	got, err = FieldsFile{}.resolveSpecies()
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestLoadFarmConfig_EnvironmentOverrides(t *testing.T) {
	// GIVEN overrides in the environment
	t.Setenv("FARM_FARMERS_COUNT", "9")
	t.Setenv("FARM_CLOCK_TICK_DURATION", "5ms")
	t.Setenv("FARM_DELIVERY_ARRIVAL", "gamma")

	// WHEN the defaults are loaded
	_, cfg, err := loadFarmConfig("", nil)

	// THEN the environment wins over the defaults
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Farmers.Count)
	assert.Equal(t, 5*time.Millisecond, cfg.Clock.TickDuration)
	assert.Equal(t, sim.ArrivalGamma, cfg.Delivery.Arrival)
}

func TestLoadFarmConfig_FlagsBeatEnvironmentAndFile(t *testing.T) {
	// GIVEN a file, an environment override and a flag for the same key
	path := writeFile(t, "farm.yaml", "farmers:\n  count: 2\nbuyers:\n  count: 6\n")
	t.Setenv("FARM_FARMERS_COUNT", "9")
	fs := overrideFlags(t, "--farmers", "4", "--tick", "2ms", "--fields", "2")

	// WHEN the configuration is loaded
	_, cfg, err := loadFarmConfig(path, fs)

	// THEN the flag wins, and keys without a changed flag keep the file value
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Farmers.Count)
	assert.Equal(t, 6, cfg.Buyers.Count)
	assert.Equal(t, 2*time.Millisecond, cfg.Clock.TickDuration)
	assert.Equal(t, []string{"pigs", "cows"}, cfg.Fields.Species)
}

func TestLoadFarmConfig_UnchangedFlagsDoNotOverride(t *testing.T) {
	fs := overrideFlags(t)

	_, cfg, err := loadFarmConfig("", fs)

	require.NoError(t, err)
	assert.Equal(t, sim.DefaultFarmConfig(), cfg)
}

func TestWriteDefaults_RoundTrips(t *testing.T) {
	for _, format := range []string{"yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			// GIVEN the printed defaults
			var buf bytes.Buffer
			require.NoError(t, writeDefaults(&buf, format))

			// WHEN they are loaded back as a farm file
			f, err := LoadFarmFile(writeFile(t, "farm."+format, buf.String()))
			require.NoError(t, err)
			cfg, err := f.ToConfig()

			// THEN they describe the default farm
			require.NoError(t, err)
			assert.Equal(t, sim.DefaultFarmConfig(), cfg)
		})
	}
}

func TestWriteDefaults_UnknownFormat(t *testing.T) {
	assert.Error(t, writeDefaults(&bytes.Buffer{}, "ini"))
}
