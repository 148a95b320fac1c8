package signaling

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/phone_station/pkg/config"
)

// writeEngineConfig генерирует каталог конфигурации движка: файл accounts
// с N виртуальными идентичностями транка (общие учетные данные) и базовый
// файл config. Права доступа ограничены владельцем, в accounts лежит пароль.
func writeEngineConfig(cfg *config.TrunkConfig) error {
	if err := os.MkdirAll(cfg.ConfigDir, 0o700); err != nil {
		return wrapError(ErrorCodeConfigWriteFailed, "создание каталога конфигурации", err)
	}
	// MkdirAll не меняет права существующего каталога
	if err := os.Chmod(cfg.ConfigDir, 0o700); err != nil {
		return wrapError(ErrorCodeConfigWriteFailed, "права каталога конфигурации", err)
	}

	if err := writeAccounts(cfg); err != nil {
		return err
	}
	return writeEngineSettings(cfg)
}

// writeAccounts пишет по одной записи на виртуальную линию. Все линии делят
// учетные данные транка; идентичность линии кодируется в auth_user.
func writeAccounts(cfg *config.TrunkConfig) error {
	var b strings.Builder
	for i := 1; i <= cfg.Lines; i++ {
		uri := sip.Uri{
			Scheme: "sip",
			User:   cfg.Username,
			Host:   cfg.Server,
			Port:   cfg.Port,
		}
		if cfg.CallerID != "" {
			fmt.Fprintf(&b, "%q ", cfg.CallerID)
		}
		fmt.Fprintf(&b, "<%s>;auth_user=%s;auth_pass=%s;line=%d;regint=300\n",
			uri.String(), cfg.Username, cfg.Password, i)
	}

	path := filepath.Join(cfg.ConfigDir, "accounts")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return wrapError(ErrorCodeConfigWriteFailed, "запись файла accounts", err)
	}
	// WriteFile не перетирает права существующего файла
	if err := os.Chmod(path, 0o600); err != nil {
		return wrapError(ErrorCodeConfigWriteFailed, "права файла accounts", err)
	}
	return nil
}

func writeEngineSettings(cfg *config.TrunkConfig) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Конфигурация движка сигнализации, сгенерировано phone_station\n")
	b.WriteString("\n# Аудио\n")
	b.WriteString("audio_player alsa,default\n")
	b.WriteString("audio_source alsa,default\n")
	b.WriteString("audio_alert alsa,default\n")
	b.WriteString("\n# SIP\n")
	b.WriteString("sip_listen 0.0.0.0:0\n")
	b.WriteString("\n# Видео отключено\n")
	b.WriteString("video_display no\n")
	b.WriteString("video_source no\n")
	b.WriteString("\n# Модули\n")
	b.WriteString("module_path /usr/lib/baresip/modules\n")
	b.WriteString("module alsa.so\n")
	b.WriteString("module account.so\n")
	b.WriteString("module menu.so\n")
	b.WriteString("module stdio.so\n")

	path := filepath.Join(cfg.ConfigDir, "config")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return wrapError(ErrorCodeConfigWriteFailed, "запись файла config", err)
	}
	return nil
}
