package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "EcmCheckProcessor", cfg.Processor.Name)
	assert.Equal(t, "MCParticle", cfg.Processor.Collection)
	assert.Equal(t, 500.0, cfg.Processor.ECM)
	assert.Equal(t, int64(1000), cfg.Processor.Heartbeat)
	assert.Equal(t, PolicySkip, cfg.Processor.MissingCollection)
	assert.Equal(t, 20, cfg.Cuts.Capacity)
	assert.Equal(t, "output.root", cfg.Output.Path)
	assert.NoError(t, cfg.Validate())
}

func TestFileThenEnvLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
processor:
  ecm: 250
  collection: MCParticlesSkimmed
output:
  path: run.parquet
`), 0o644))

	m := NewManager()
	require.NoError(t, m.loadFile(path))

	env := map[string]string{
		"ECMCHECK_PROCESSOR_ECM":     "350",
		"ECMCHECK_OUTPUT_BATCH_SIZE": "16",
	}
	require.NoError(t, m.loadEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	cfg := m.Get()
	assert.Equal(t, 350.0, cfg.Processor.ECM)
	assert.Equal(t, "MCParticlesSkimmed", cfg.Processor.Collection)
	assert.Equal(t, "run.parquet", cfg.Output.Path)
	assert.Equal(t, 16, cfg.Output.BatchSize)
	// Untouched keys keep their defaults.
	assert.Equal(t, "snappy", cfg.Output.Compression)
}

func TestLoadExplicitMissing(t *testing.T) {
	err := NewManager().Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.IsCode(err, errors.CodeFileNotFound))
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processor: [1, 2"), 0o644))

	err := NewManager().loadFile(path)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestEnvRejectsBadNumber(t *testing.T) {
	m := NewManager()
	err := m.loadEnv(func(k string) (string, bool) {
		if k == "ECMCHECK_PROCESSOR_ECM" {
			return "lots", true
		}
		return "", false
	})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestSetUnknownKey(t *testing.T) {
	assert.Error(t, Default().Set("processor.unknown", "1"))
}

func TestEveryKeyIsSettable(t *testing.T) {
	values := map[string]string{
		"processor.ecm":             "1",
		"processor.heartbeat":       "1",
		"cuts.capacity":             "1",
		"output.batch_size":         "1",
		"publish.s3.enabled":        "true",
		"publish.s3.use_path_style": "true",
		"telemetry.enabled":         "true",
		"telemetry.insecure":        "true",
		"telemetry.sample_rate":     "0.5",
	}
	cfg := Default()
	for _, key := range Keys() {
		v, ok := values[key]
		if !ok {
			v = "x"
		}
		assert.NoError(t, cfg.Set(key, v), key)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Processor.MissingCollection = "retry"
	assert.True(t, errors.IsCode(cfg.Validate(), errors.CodeInvalidConfig))

	cfg = Default()
	cfg.Publish.S3.Enabled = true
	assert.Error(t, cfg.Validate())
	cfg.Publish.S3.Bucket = "physics"
	assert.NoError(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m := NewManager()
	m.Get().Processor.ECM = 91.2
	require.NoError(t, m.Save(path))

	other := NewManager()
	require.NoError(t, other.loadFile(path))
	assert.Equal(t, 91.2, other.Get().Processor.ECM)
}
