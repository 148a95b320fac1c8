// phone_station — headless ядро многолинейной станции IFB/PL связи.
//
// Загружает конфигурацию транка и аудио, запускает аудио маршрутизатор
// (возможен деградированный режим без устройства), супервизор сигнализации
// и менеджер вызовов. Внешний интерфейс (сенсорный экран) обращается к
// менеджеру; здесь только жизненный цикл компонентов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/arzzra/phone_station/pkg/audio"
	"github.com/arzzra/phone_station/pkg/config"
	"github.com/arzzra/phone_station/pkg/manager"
	"github.com/arzzra/phone_station/pkg/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	trunkPath := flag.String("trunk", "config/trunk.yaml", "путь к конфигурации транка")
	audioPath := flag.String("audio", "config/audio.yaml", "путь к аудио конфигурации")
	metricsAddr := flag.String("metrics-addr", "", "адрес для экспорта prometheus метрик (пусто — выключено)")
	debug := flag.Bool("debug", false, "отладочное логирование")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	trunkCfg, err := config.LoadTrunk(*trunkPath)
	if err != nil {
		return err
	}
	audioCfg, err := config.LoadAudio(*audioPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	// Аудио: отсутствие устройства — деградированный режим, не фатально
	router := audio.NewRouter(audioCfg, trunkCfg.Lines, log)
	var audioRouter manager.AudioRouter = router
	if err := router.Start(); err != nil {
		if !errors.Is(err, audio.ErrDeviceNotFound) {
			return err
		}
		log.Warn("аудио устройство недоступно, маршрутизация отключена", "error", err)
		audioRouter = nil
	} else {
		defer router.Stop()
	}

	sup := signaling.New(trunkCfg, log)
	metrics := manager.NewMetrics(nil)
	sup.UnparsedHook = metrics.SkippedLine

	if err := sup.Start(ctx); err != nil {
		return err
	}

	mgr := manager.New(sup, audioRouter, trunkCfg.Lines, log, manager.WithMetrics(metrics))
	mgr.Start()
	defer mgr.Stop()

	// применяем липкие привязки шин всех линий к живому миксу
	if audioRouter != nil {
		for _, info := range mgr.Snapshot() {
			if err := mgr.SetRouting(info.ID, info.Bus); err != nil {
				log.Warn("стартовая маршрутизация", "line", info.ID, "error", err)
			}
		}
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error("сервер метрик остановлен", "error", err)
			}
		}()
	}

	log.Info("станция запущена", "lines", trunkCfg.Lines, "server", trunkCfg.Server)
	<-ctx.Done()
	log.Info("получен сигнал завершения")
	return nil
}
