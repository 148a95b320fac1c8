// Package config загружает и валидирует персистентную конфигурацию системы:
// документ транка (SIP сервер, учетные данные, количество линий) и
// аудио документ (устройство, привязка шин к каналам, частота дискретизации).
//
// Обязательные поля (учетные данные транка) проверяются при загрузке —
// отсутствие поля это ошибка старта, а не тихое значение по умолчанию.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Значения по умолчанию для транка
const (
	DefaultSIPPort         = 5060
	DefaultLineCount       = 8
	MaxLineCount           = 16
	DefaultEngineBinary    = "baresip"
	DefaultRegisterTimeout = 15 * time.Second
)

// Значения по умолчанию для аудио
const (
	DefaultSampleRate  = 48000
	DefaultMixerBinary = "amixer"
	DefaultToneBinary  = "speaker-test"
	DefaultToneFreq    = 1000
)

// Duration длительность в YAML: строка формата time.ParseDuration
// ("15s", "200ms") либо целое число секунд.
type Duration time.Duration

// UnmarshalYAML реализует yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("недопустимая длительность %q: %w", s, perr)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return fmt.Errorf("недопустимое значение длительности")
}

// Std возвращает стандартный time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TrunkConfig описывает подключение к транку: один внешний процесс
// сигнализации, N виртуальных идентичностей с общими учетными данными.
type TrunkConfig struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	CallerID string `yaml:"caller_id"`
	Lines    int    `yaml:"lines"`

	// Binary путь к исполняемому файлу движка сигнализации
	Binary string `yaml:"binary"`
	// ConfigDir каталог для сгенерированных файлов движка (accounts, config)
	ConfigDir string `yaml:"config_dir"`

	RegisterTimeout Duration `yaml:"register_timeout"`
}

// BusChannels пара физических каналов устройства для одной стерео шины.
type BusChannels struct {
	Left  int `yaml:"left"`
	Right int `yaml:"right"`
}

// AudioConfig описывает внешнюю аудио подсистему: устройство вывода и
// отображение шин (A/B) на пары каналов.
type AudioConfig struct {
	// Device имя устройства или числовой индекс в виде строки.
	// Пустое значение — устройство по умолчанию.
	Device     string `yaml:"device"`
	SampleRate int    `yaml:"sample_rate"`

	MixerBinary string `yaml:"mixer_binary"`
	ToneBinary  string `yaml:"tone_binary"`
	ToneFreq    int    `yaml:"tone_freq"`

	// Buses отображение имени шины ("A", "B") на каналы устройства
	Buses map[string]BusChannels `yaml:"buses"`
}

// DefaultTrunkConfig возвращает конфигурацию транка со значениями по
// умолчанию. Учетные данные намеренно пустые — их подстановка по умолчанию
// запрещена.
func DefaultTrunkConfig() *TrunkConfig {
	return &TrunkConfig{
		Port:            DefaultSIPPort,
		Lines:           DefaultLineCount,
		Binary:          DefaultEngineBinary,
		ConfigDir:       defaultConfigDir(),
		RegisterTimeout: Duration(DefaultRegisterTimeout),
	}
}

// DefaultAudioConfig возвращает аудио конфигурацию по умолчанию:
// шина A на каналах 1/2, шина B на каналах 3/4.
func DefaultAudioConfig() *AudioConfig {
	return &AudioConfig{
		SampleRate:  DefaultSampleRate,
		MixerBinary: DefaultMixerBinary,
		ToneBinary:  DefaultToneBinary,
		ToneFreq:    DefaultToneFreq,
		Buses: map[string]BusChannels{
			"A": {Left: 1, Right: 2},
			"B": {Left: 3, Right: 4},
		},
	}
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".phone_station"
	}
	return filepath.Join(home, ".phone_station")
}

// LoadTrunk читает и валидирует конфигурацию транка из YAML файла.
func LoadTrunk(path string) (*TrunkConfig, error) {
	cfg := DefaultTrunkConfig()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAudio читает и валидирует аудио конфигурацию из YAML файла.
func LoadAudio(path string) (*AudioConfig, error) {
	cfg := DefaultAudioConfig()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	return nil
}

// Validate проверяет обязательные поля транка. Учетные данные обязательны.
func (c *TrunkConfig) Validate() error {
	for name, val := range map[string]string{
		"server":   c.Server,
		"username": c.Username,
		"password": c.Password,
	} {
		if val == "" {
			return &MissingFieldError{Document: "trunk", Field: name}
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("trunk: недопустимый порт %d", c.Port)
	}
	if c.Lines < 1 || c.Lines > MaxLineCount {
		return fmt.Errorf("trunk: количество линий %d вне диапазона 1..%d", c.Lines, MaxLineCount)
	}
	if c.Binary == "" {
		return &MissingFieldError{Document: "trunk", Field: "binary"}
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = Duration(DefaultRegisterTimeout)
	}
	return nil
}

// Validate проверяет аудио конфигурацию. Отсутствующее устройство не является
// ошибкой загрузки — оно разрешается при старте маршрутизатора. Некорректная
// привязка шин к каналам — ошибка.
func (c *AudioConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audio: недопустимая частота дискретизации %d", c.SampleRate)
	}
	if len(c.Buses) == 0 {
		return &MissingFieldError{Document: "audio", Field: "buses"}
	}
	for name, ch := range c.Buses {
		if name != "A" && name != "B" {
			return fmt.Errorf("audio: неизвестная шина %q (допустимы A и B)", name)
		}
		if ch.Left < 1 || ch.Right < 1 {
			return fmt.Errorf("audio: шина %s: номера каналов должны быть >= 1", name)
		}
		if ch.Left == ch.Right {
			return fmt.Errorf("audio: шина %s: левый и правый каналы совпадают", name)
		}
	}
	if c.MixerBinary == "" {
		c.MixerBinary = DefaultMixerBinary
	}
	if c.ToneBinary == "" {
		c.ToneBinary = DefaultToneBinary
	}
	if c.ToneFreq <= 0 {
		c.ToneFreq = DefaultToneFreq
	}
	return nil
}

// MissingFieldError обязательное поле конфигурации отсутствует или пустое.
type MissingFieldError struct {
	Document string
	Field    string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: обязательное поле %q отсутствует", e.Document, e.Field)
}
