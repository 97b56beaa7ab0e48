// Command farm-controller drives farm actuators from MQTT configuration,
// sensor snapshots and manual commands, and publishes their state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/farm-controller/internal/audit"
	"github.com/sweeney/farm-controller/internal/config"
	"github.com/sweeney/farm-controller/internal/inbox"
	"github.com/sweeney/farm-controller/internal/kafka"
	"github.com/sweeney/farm-controller/internal/logging"
	"github.com/sweeney/farm-controller/internal/logic"
	"github.com/sweeney/farm-controller/internal/mqtt"
	"github.com/sweeney/farm-controller/internal/relay"
	"github.com/sweeney/farm-controller/internal/status"
	"github.com/sweeney/farm-controller/internal/web"
)

const shutdownTimeout = 5 * time.Second

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	check := flag.Bool("check", false, "Validate config and --rules, print diagnostics and exit")
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "farm-controller: %v\n", err)
		os.Exit(2)
	}
	if err := logging.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "farm-controller: log: %v\n", err)
		os.Exit(2)
	}

	if *check {
		n, err := checkRules(os.Stdout, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "farm-controller: %v\n", err)
			os.Exit(1)
		}
		if n > 0 {
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		log := logging.Logger()
		log.Fatal().Err(err).Msg("fatal")
	}
}

// loadRules reads the bootstrap configuration view. An empty path yields nil.
func loadRules(path string) (*logic.ConfigView, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	view, err := logic.ParseConfigView(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return view, nil
}

// checkRules prints one line per diagnostic for the bootstrap rules file and
// returns how many were found.
func checkRules(w io.Writer, cfg config.Config) (int, error) {
	view, err := loadRules(cfg.RulesFile)
	if err != nil {
		return 0, err
	}
	if view == nil {
		fmt.Fprintln(w, "config ok (no rules file)")
		return 0, nil
	}
	diags := logic.Validate(*view, cfg.ActuatorList(), cfg.WrapPolicy())
	for _, d := range diags {
		fmt.Fprintf(w, "%s: %s: %s\n", d.Actuator, d.Subject, d.Message)
	}
	if len(diags) == 0 {
		fmt.Fprintf(w, "config ok: %d rules, %d schedules\n", len(view.Rules), len(view.Schedules))
	}
	return len(diags), nil
}

func newDriver(cfg config.Config, log zerolog.Logger) (relay.Driver, error) {
	if !cfg.Relays.Enabled {
		log.Warn().Msg("relays disabled, commands are not driven")
		return relay.NopDriver{}, nil
	}
	d, err := relay.NewRealDriver(cfg.Relays.Chip, cfg.RelayPins())
	if err != nil {
		return nil, fmt.Errorf("init relays: %w", err)
	}
	return d, nil
}

func run(cfg config.Config) error {
	log := logging.WithComponent("main")
	actuators := cfg.ActuatorList()

	engine := logic.NewEngine(logic.EngineConfig{
		Actuators:  actuators,
		Interval:   cfg.Tick,
		StaleAfter: cfg.StaleAfter,
		Wrap:       cfg.WrapPolicy(),
	})
	box := inbox.New(actuators)

	view, err := loadRules(cfg.RulesFile)
	if err != nil {
		return err
	}
	if view != nil {
		box.SetConfig(*view)
		log.Info().Str("file", cfg.RulesFile).Int("rules", len(view.Rules)).Int("schedules", len(view.Schedules)).Msg("loaded bootstrap rules")
	}

	driver, err := newDriver(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := driver.Close(); err != nil {
			log.Error().Err(err).Msg("release relays")
		}
	}()

	// Status tracker first so the STARTUP event carries a full snapshot.
	tracker := status.NewTracker(time.Now(), actuators, status.Config{
		DeviceID:     cfg.DeviceID,
		TickMs:       cfg.Tick.Milliseconds(),
		StaleAfterMs: cfg.StaleAfter.Milliseconds(),
		HeartbeatMs:  cfg.Heartbeat.Milliseconds(),
		Broker:       cfg.Broker,
		HTTPAddr:     cfg.HTTP,
		Wraparound:   cfg.Wraparound,
		Version:      version,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	client := mqtt.NewRealClient(mqtt.Options{
		Broker:             cfg.Broker,
		DeviceID:           cfg.DeviceID,
		Inputs:             box,
		OnConnectionChange: tracker.SetMQTTConnected,
	})
	defer client.Close()

	pub := mqtt.NewAsync(client, mqtt.AsyncConfig{})
	pubCtx, pubCancel := context.WithCancel(context.Background())
	pubDone := make(chan struct{})
	go func() {
		pub.Run(pubCtx)
		close(pubDone)
	}()
	defer func() {
		pubCancel()
		<-pubDone
		flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		pub.Flush(flushCtx)
		flushCancel()
	}()

	sinks := []audit.Sink{mqtt.NewAuditSink(client)}
	if cfg.Kafka.Enabled() {
		ks, err := kafka.NewSink(cfg.Kafka, cfg.DeviceID)
		if err != nil {
			return fmt.Errorf("init kafka: %w", err)
		}
		defer ks.Close()
		sinks = append(sinks, ks)
	}
	auditLog := audit.New(audit.Config{
		History: cfg.Audit.History,
		Buffer:  cfg.Audit.Buffer,
		Retry:   cfg.Audit.Retry,
	}, sinks...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		auditLog.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
		flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		auditLog.Flush(flushCtx)
		flushCancel()
	}()

	snap := tracker.Snapshot()
	pub.QueueSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	})

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, auditLog, box)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server")
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info().Str("addr", cfg.HTTP).Msg("http status server listening")
	}

	log.Info().
		Str("device", cfg.DeviceID).
		Str("version", version).
		Strs("actuators", cfg.Actuators).
		Dur("tick", cfg.Tick).
		Dur("stale_after", cfg.StaleAfter).
		Dur("heartbeat", cfg.Heartbeat).
		Str("broker", cfg.Broker).
		Str("wraparound", cfg.Wraparound).
		Msg("started")

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		engine:     engine,
		inbox:      box,
		driver:     driver,
		publisher:  pub,
		mqttStatus: client,
		audit:      auditLog,
		tracker:    tracker,
		heartbeat:  cfg.Heartbeat,
	}, time.Now, ticker.C, sigCh)
}

// loopDeps is everything runLoop touches. tracker and mqttStatus may be nil.
// Nothing reached from the loop waits on the broker.
type loopDeps struct {
	engine     *logic.Engine
	inbox      *inbox.Inbox
	driver     relay.Driver
	publisher  *mqtt.Async
	mqttStatus mqtt.ConnectionStatus
	audit      *audit.Logger
	tracker    *status.Tracker
	heartbeat  time.Duration
}

func runLoop(d loopDeps, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	log := logging.WithComponent("loop")
	lastHeartbeat := now()
	queued := false
	stale := false
	// actuators whose last relay write failed; rewritten every tick until it sticks
	resync := make(map[logic.Actuator]bool)

	for {
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if d.tracker != nil {
				if d.mqttStatus != nil {
					d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
				}
				event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			d.publisher.QueueSystem(event)
			return nil

		case <-tick:
			t := now()
			snap, _ := d.inbox.Snapshot()
			in := logic.ClockInput(t)
			in.Snapshot = snap
			in.Pending = d.inbox.Drain()

			res := d.engine.Tick(in)

			for _, diag := range res.Diagnostics {
				log.Warn().Str("actuator", string(diag.Actuator)).Str("subject", diag.Subject).Msg(diag.Message)
			}
			if s := d.engine.SensorsStale(); s != stale {
				stale = s
				if s {
					log.Warn().Msg("sensor snapshot stale, automation suspended")
				} else {
					log.Info().Msg("sensor snapshot fresh, automation resumed")
				}
			}

			commanded := make(map[logic.Actuator]bool, len(res.Commands))
			for _, cmd := range res.Commands {
				commanded[cmd.Actuator] = true
				drive(d, log, resync, cmd.Actuator, cmd.On)
			}
			for a := range resync {
				if !commanded[a] {
					drive(d, log, resync, a, res.States[a].IsOn)
				}
			}

			for _, e := range d.audit.Append(res.Audit...) {
				if e.Kind == logic.KindTransition {
					log.Info().
						Str("actuator", string(e.Actuator)).
						Bool("on", e.After.IsOn).
						Str("source", string(e.Source)).
						Msg(e.Cause)
				}
			}

			if res.Changed || !queued {
				d.publisher.QueueStates(res.States)
				queued = true
			}

			if d.tracker != nil {
				d.tracker.Update(t, res, snap, stale)
				d.tracker.SetAuditDropped(d.audit.Dropped())
				if d.mqttStatus != nil {
					d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
				}
			}

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				hb := mqtt.SystemEvent{Timestamp: t, Event: "HEARTBEAT"}
				if d.tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						d.tracker.SetNetwork(net)
					}
					hb.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", "")
				}
				d.publisher.QueueSystem(hb)
			}
		}
	}
}

func drive(d loopDeps, log zerolog.Logger, resync map[logic.Actuator]bool, a logic.Actuator, on bool) {
	if err := d.driver.Set(a, on); err != nil {
		if !resync[a] {
			log.Error().Err(err).Str("actuator", string(a)).Bool("on", on).Msg("relay write failed")
		}
		resync[a] = true
		if d.tracker != nil {
			d.tracker.DriverError()
		}
		return
	}
	if resync[a] {
		log.Info().Str("actuator", string(a)).Bool("on", on).Msg("relay write recovered")
		delete(resync, a)
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
