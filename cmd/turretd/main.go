// Command turretd runs the turret motion and safety control daemon.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vppturret/config"
	"vppturret/core"
	"vppturret/server"
	"vppturret/store"
	"vppturret/turret"
)

func main() {
	configPath := flag.String("config", "turretd.toml", "path to TOML config")
	listen := flag.String("listen", "", "listen address (overrides config)")
	sim := flag.Bool("sim", false, "use the simulated GPIO driver")
	debug := flag.Bool("debug", false, "enable step-level debug logging")
	flag.Parse()

	log.SetPrefix("turretd: ")
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	if err := run(*configPath, *listen, *sim, *debug); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, listen string, sim, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if sim {
		cfg.GPIO.Driver = "sim"
	}
	if debug {
		core.SetDebugEnabled(true)
		core.SetDebugWriter(func(msg string) { log.Print("debug: ", msg) })
	}

	gpio, simDrv, err := openDriver(cfg.GPIO.Driver)
	if err != nil {
		return err
	}
	defer gpio.Close()

	// Safety inputs first; nothing else should run before the
	// interlocks are readable.
	for _, pin := range []core.GPIOPin{
		core.GPIOPin(cfg.Pins.LimitX),
		core.GPIOPin(cfg.Pins.LimitY),
		core.GPIOPin(cfg.Pins.Estop),
	} {
		if err := gpio.ConfigureInputPullUp(pin); err != nil {
			return fmt.Errorf("configure input %d: %w", pin, err)
		}
	}
	if simDrv != nil {
		// NC limit switches read low when the carriage is clear.
		simDrv.SetInput(core.GPIOPin(cfg.Pins.LimitX), false)
		simDrv.SetInput(core.GPIOPin(cfg.Pins.LimitY), false)
	}

	mon := core.NewMonitor(gpio, core.InterlockConfig{
		EstopPin:  core.GPIOPin(cfg.Pins.Estop),
		XLimitPin: core.GPIOPin(cfg.Pins.LimitX),
		YLimitPin: core.GPIOPin(cfg.Pins.LimitY),
	})
	trig := core.NewTrigger()
	watch := core.NewWatcher(mon, trig, 0)

	xAxis, err := core.NewAxis(gpio, trig, core.AxisConfig{
		Name:      "x",
		StepPin:   core.GPIOPin(cfg.Pins.StepX),
		DirPin:    core.GPIOPin(cfg.Pins.DirX),
		InvertDir: cfg.Motion.InvertDirX,
		MaxSpeed:  cfg.Motion.MaxSpeed,
		MaxAccel:  cfg.Motion.MaxAccel,
	})
	if err != nil {
		return fmt.Errorf("axis x: %w", err)
	}
	yAxis, err := core.NewAxis(gpio, trig, core.AxisConfig{
		Name:      "y",
		StepPin:   core.GPIOPin(cfg.Pins.StepY),
		DirPin:    core.GPIOPin(cfg.Pins.DirY),
		InvertDir: cfg.Motion.InvertDirY,
		MaxSpeed:  cfg.Motion.MaxSpeed,
		MaxAccel:  cfg.Motion.MaxAccel,
	})
	if err != nil {
		return fmt.Errorf("axis y: %w", err)
	}

	fire, err := core.NewFireController(gpio, mon, trig, core.FireConfig{
		Pin:   core.GPIOPin(cfg.Pins.Fire),
		Pulse: cfg.Fire.Pulse.Duration,
	})
	if err != nil {
		return fmt.Errorf("fire controller: %w", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	sup := turret.New(turret.Deps{
		X:     xAxis,
		Y:     yAxis,
		Fire:  fire,
		Mon:   mon,
		Trig:  trig,
		Watch: watch,
		Store: db,
	}, turret.Config{
		MinStepInterval: cfg.Motion.MinStepInterval.Duration,
		DefaultJogSteps: cfg.Motion.DefaultJogSteps,
		Homing: turret.HomingConfig{
			SeekInterval: cfg.Homing.SeekInterval.Duration,
			BackoffSteps: cfg.Homing.BackoffSteps,
			Budget:       cfg.Homing.Budget,
		},
		Sentry: turret.SentryConfig{
			StepsPerPixel: cfg.Sentry.StepsPerPixel,
			MaxCorrection: cfg.Sentry.MaxCorrection,
			ScanStepSteps: cfg.Sentry.ScanStepSteps,
			ScanHalfWidth: cfg.Sentry.ScanHalfWidth,
		},
	})
	if err := sup.Init(); err != nil {
		return err
	}
	defer sup.Close()

	srv := server.New(server.Config{
		ListenAddr:     cfg.Server.Listen,
		StatusInterval: time.Second,
	}, sup)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case sig := <-sigCh:
		log.Printf("received %v, shutting down", sig)
		srv.Stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// openDriver returns the configured GPIO backend. The second return is
// non-nil only for the simulator, whose extra controls the caller needs
// for bench setup.
func openDriver(name string) (core.GPIODriver, *core.SimDriver, error) {
	switch name {
	case "rpio":
		drv, err := core.OpenRPiDriver()
		if err != nil {
			return nil, nil, fmt.Errorf("open gpio: %w", err)
		}
		return drv, nil, nil
	case "sim":
		drv := core.NewSimDriver()
		return drv, drv, nil
	default:
		return nil, nil, fmt.Errorf("unknown gpio driver %q", name)
	}
}
