package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/phone_station/pkg/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadTrunk(t *testing.T) {
	path := writeConfigFile(t, `
server: sip.example.com
username: operator
password: secret
caller_id: "Studio 1"
`)

	cfg, err := config.LoadTrunk(path)
	require.NoError(t, err)

	assert.Equal(t, "sip.example.com", cfg.Server)
	assert.Equal(t, "operator", cfg.Username)
	assert.Equal(t, "Studio 1", cfg.CallerID)

	// незаданные поля получают значения по умолчанию
	assert.Equal(t, config.DefaultSIPPort, cfg.Port)
	assert.Equal(t, config.DefaultLineCount, cfg.Lines)
	assert.Equal(t, config.DefaultEngineBinary, cfg.Binary)
	assert.Equal(t, config.DefaultRegisterTimeout, cfg.RegisterTimeout.Std())
}

func TestLoadTrunkOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server: sip.example.com
port: 5080
username: operator
password: secret
lines: 4
binary: /usr/local/bin/baresip
register_timeout: 30s
`)

	cfg, err := config.LoadTrunk(path)
	require.NoError(t, err)
	assert.Equal(t, 5080, cfg.Port)
	assert.Equal(t, 4, cfg.Lines)
	assert.Equal(t, "/usr/local/bin/baresip", cfg.Binary)
	assert.Equal(t, 30*time.Second, cfg.RegisterTimeout.Std())
}

// TestLoadTrunkMissingCredentials отсутствие обязательного поля — ошибка
// старта, а не тихое значение по умолчанию
func TestLoadTrunkMissingCredentials(t *testing.T) {
	path := writeConfigFile(t, `
server: sip.example.com
username: operator
`)

	_, err := config.LoadTrunk(path)
	require.Error(t, err)

	var merr *config.MissingFieldError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "trunk", merr.Document)
	assert.Equal(t, "password", merr.Field)
}

func TestLoadTrunkLinesOutOfRange(t *testing.T) {
	for _, lines := range []string{"0", "17", "-1"} {
		path := writeConfigFile(t, `
server: sip.example.com
username: operator
password: secret
lines: `+lines+`
`)
		_, err := config.LoadTrunk(path)
		assert.Error(t, err, "lines=%s", lines)
	}
}

func TestLoadTrunkBadPort(t *testing.T) {
	path := writeConfigFile(t, `
server: sip.example.com
username: operator
password: secret
port: 70000
`)
	_, err := config.LoadTrunk(path)
	assert.Error(t, err)
}

func TestLoadTrunkMissingFile(t *testing.T) {
	_, err := config.LoadTrunk(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// TestDurationForms длительность принимается строкой time.ParseDuration
// либо целым числом секунд
func TestDurationForms(t *testing.T) {
	type doc struct {
		Timeout config.Duration `yaml:"timeout"`
	}

	cases := []struct {
		raw  string
		want time.Duration
	}{
		{`timeout: 15s`, 15 * time.Second},
		{`timeout: 200ms`, 200 * time.Millisecond},
		{`timeout: 2m30s`, 2*time.Minute + 30*time.Second},
		{`timeout: 30`, 30 * time.Second},
	}
	for _, tc := range cases {
		var d doc
		require.NoError(t, yaml.Unmarshal([]byte(tc.raw), &d), tc.raw)
		assert.Equal(t, tc.want, d.Timeout.Std(), tc.raw)
	}

	var d doc
	err := yaml.Unmarshal([]byte(`timeout: fifteen`), &d)
	assert.Error(t, err)
}

func TestLoadAudioDefaults(t *testing.T) {
	path := writeConfigFile(t, `{}`)

	cfg, err := config.LoadAudio(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSampleRate, cfg.SampleRate)
	assert.Equal(t, config.DefaultMixerBinary, cfg.MixerBinary)
	assert.Equal(t, config.DefaultToneFreq, cfg.ToneFreq)

	// шины по умолчанию: A на 1/2, B на 3/4
	require.Contains(t, cfg.Buses, "A")
	require.Contains(t, cfg.Buses, "B")
	assert.Equal(t, config.BusChannels{Left: 1, Right: 2}, cfg.Buses["A"])
	assert.Equal(t, config.BusChannels{Left: 3, Right: 4}, cfg.Buses["B"])
}

func TestLoadAudioOverrides(t *testing.T) {
	path := writeConfigFile(t, `
device: Scarlett
sample_rate: 44100
tone_freq: 440
buses:
  A: {left: 5, right: 6}
  B: {left: 7, right: 8}
`)

	cfg, err := config.LoadAudio(path)
	require.NoError(t, err)
	assert.Equal(t, "Scarlett", cfg.Device)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 440, cfg.ToneFreq)
	assert.Equal(t, config.BusChannels{Left: 5, Right: 6}, cfg.Buses["A"])
	assert.Equal(t, config.BusChannels{Left: 7, Right: 8}, cfg.Buses["B"])
}

func TestLoadAudioInvalidBuses(t *testing.T) {
	// неизвестное имя шины
	path := writeConfigFile(t, `
buses:
  C: {left: 5, right: 6}
`)
	_, err := config.LoadAudio(path)
	assert.Error(t, err)

	// совпадающие каналы
	path = writeConfigFile(t, `
buses:
  A: {left: 3, right: 3}
`)
	_, err = config.LoadAudio(path)
	assert.Error(t, err)

	// номер канала меньше единицы
	path = writeConfigFile(t, `
buses:
  B: {left: 0, right: 1}
`)
	_, err = config.LoadAudio(path)
	assert.Error(t, err)
}

func TestLoadAudioBadSampleRate(t *testing.T) {
	path := writeConfigFile(t, `sample_rate: -1`)
	_, err := config.LoadAudio(path)
	assert.Error(t, err)
}
