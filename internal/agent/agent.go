package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stripcast/internal/ble"
	"stripcast/internal/config"
	"stripcast/internal/core"
	"stripcast/internal/frame"
	"stripcast/internal/mapper"
	"stripcast/internal/mqtt"
	"stripcast/internal/pattern"
	"stripcast/internal/scheduler"
	"stripcast/internal/server"
)

// Agent wires the render loop, the device manager and the network surfaces
// together and runs the command orchestrator.
type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	log    zerolog.Logger
	wg     sync.WaitGroup

	commandChannel core.CommandChannel

	viewport *core.Viewport
	mapper   mapper.Mapper
	lengths  map[int]int
	patterns *pattern.Registry
	scripts  *pattern.ScriptStore
	frames   *frame.Scheduler
	devices  *ble.Manager

	viewportCast  *server.ViewportBroadcaster
	discoveryCast *server.DiscoveryBroadcaster
	server        *server.Server
	scheduler     *scheduler.Scheduler
	mqttBridge    *mqtt.Bridge

	preview     *rate.Limiter
	previewBusy atomic.Bool
}

// New builds every component from cfg. The platform is the wireless stack
// strips are reached through.
func New(cfg *config.Config, platform ble.Platform, log zerolog.Logger) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		ctx:            ctx,
		cancel:         cancel,
		config:         cfg,
		log:            log.With().Str("component", "agent").Logger(),
		commandChannel: make(core.CommandChannel, 20),
		viewport:       core.NewViewport(cfg.Viewport.Width, cfg.Viewport.Height),
		lengths:        mapper.Lengths(cfg.Strips),
		patterns:       pattern.NewRegistry(),
		scripts:        pattern.NewScriptStore(cfg.PatternsDir),
	}

	switch cfg.Mapper.Type {
	case "grid":
		a.mapper = mapper.NewGrid(cfg.Strips, cfg.Mapper.Columns, cfg.Mapper.Rows)
	default:
		a.mapper = mapper.NewLinear(cfg.Strips)
	}

	if n, err := a.scripts.RegisterAll(a.patterns, log); err != nil {
		a.log.Warn().Err(err).Str("dir", cfg.PatternsDir).Msg("could not load lua patterns")
	} else {
		a.log.Info().Int("count", n).Msg("lua patterns registered")
	}

	a.frames = frame.New(a.viewport, cfg.Render.TargetFPS, a.onFrame, log)

	a.devices = ble.NewManager(platform, ble.Config{
		NamePattern:        cfg.NamePattern(),
		StartupScanTimeout: config.Duration(cfg.BLE.StartupScanTimeout),
		ScanTimeout:        config.Duration(cfg.BLE.ScanTimeout),
		ConnectTimeout:     config.Duration(cfg.BLE.ConnectTimeout),
		DisconnectTimeout:  config.Duration(cfg.BLE.DisconnectTimeout),
		FrameRate:          cfg.BLE.FrameRateLimit,
		FrameBurst:         cfg.BLE.FrameRateBurst,
		Lengths:            a.lengths,
	}, log)

	if cfg.Render.PreviewFPS > 0 {
		a.preview = rate.NewLimiter(rate.Limit(cfg.Render.PreviewFPS), 1)
	}
	a.viewportCast = server.NewViewportBroadcaster(cfg.Viewport.Compress, log)
	a.discoveryCast = server.NewDiscoveryBroadcaster(a.devices.DeviceInfos, config.Duration(cfg.Discovery.SnapshotInterval), log)

	a.scheduler = scheduler.New(a.commandChannel, cfg.SchedulesFile, log)

	a.server = server.New(server.Options{
		Addr:           cfg.Addr(),
		StaticDir:      cfg.Server.WebFilesDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteTimeout:   config.Duration(cfg.Server.WriteTimeout),
	}, server.Deps{
		Viewport:  a.viewportCast,
		Discovery: a.discoveryCast,
		Commands:  a.commandChannel,
		Stats:     a.frames.Statistics,
		Patterns:  a.patterns.List,
	}, log)

	a.mqttBridge = mqtt.NewBridge(cfg.MQTT, mqtt.Deps{
		Commands: a.commandChannel,
		Strips:   a.devices.DeviceInfos,
		Stats:    a.frames.Statistics,
	}, log)

	return a, nil
}

// Commands is the orchestrator's input channel.
func (a *Agent) Commands() chan<- core.Command { return a.commandChannel }

// Devices exposes the device manager.
func (a *Agent) Devices() *ble.Manager { return a.devices }

// Run starts every component and processes commands until Shutdown.
func (a *Agent) Run() {
	if name := a.config.Render.DefaultPattern; name != "" {
		a.handleCommand(core.Command{Type: core.CmdSetPattern, Pattern: name})
	}
	a.frames.Start()
	a.scheduler.Start()

	events, unsubscribe := a.devices.Events()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsubscribe()
		a.discoveryCast.Run(a.ctx, events)
	}()

	if a.mqttBridge != nil {
		mqttEvents, mqttUnsubscribe := a.devices.Events()
		go func() {
			if err := a.mqttBridge.Connect(); err != nil {
				a.log.Error().Err(err).Msg("mqtt setup")
			}
		}()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer mqttUnsubscribe()
			a.mqttBridge.Run(a.ctx, mqttEvents)
		}()
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil {
			a.log.Error().Err(err).Msg("server error")
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.startDevices()
	}()

	a.log.Info().Str("addr", a.config.Addr()).Msg("agent orchestrator ready")
	for {
		select {
		case <-a.ctx.Done():
			a.log.Info().Msg("agent orchestrator shutting down")
			return
		case cmd := <-a.commandChannel:
			a.handleCommand(cmd)
		}
	}
}

// startDevices runs the startup scan, then hands over to background rescans.
func (a *Agent) startDevices() {
	n, err := a.devices.ScanAndConnect(a.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error().Err(err).Msg("startup scan failed")
	}
	if a.ctx.Err() != nil {
		return
	}
	a.log.Info().Int("connected", n).Msg("startup scan done")
	a.devices.StartBackgroundScanning(config.Duration(a.config.BLE.ScanInterval))
}

// onFrame runs on the render loop with the rendered viewport. Everything that
// reads the viewport happens here; I/O is handed to goroutines.
func (a *Agent) onFrame(vp *core.Viewport) {
	colors := a.mapper.MapViewportToLEDs(vp)
	for id, strip := range mapper.GroupByStrip(colors, a.lengths) {
		if !a.devices.Connected(id) {
			continue
		}
		payload := ble.EncodeFrame(strip)
		go a.devices.SendFrame(id, payload)
	}

	if a.preview == nil || a.viewportCast.Clients() == 0 || !a.preview.Allow() {
		return
	}
	if !a.previewBusy.CompareAndSwap(false, true) {
		return
	}
	snap := vp.Snapshot()
	go func() {
		defer a.previewBusy.Store(false)
		if _, err := a.viewportCast.Broadcast(snap); err != nil {
			a.log.Warn().Err(err).Msg("viewport broadcast")
		}
	}()
}

func (a *Agent) handleCommand(cmd core.Command) {
	a.log.Debug().Str("type", string(cmd.Type)).Int("strip", cmd.StripID).Str("pattern", cmd.Pattern).Msg("handling command")

	switch cmd.Type {
	case core.CmdSetPattern:
		if err := a.setPattern(cmd.Pattern, cmd.Params); err != nil {
			a.log.Error().Err(err).Str("pattern", cmd.Pattern).Msg("set pattern")
		}

	case core.CmdStopPattern:
		_ = a.frames.SetPattern("", nil, nil)
		a.mqttBridge.Publish("pattern/state", "", true)

	case core.CmdConnectStrip:
		id := cmd.StripID
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.devices.ConnectStrip(a.ctx, id); err != nil {
				a.log.Warn().Err(err).Int("strip", id).Msg("connect strip")
			}
			a.discoveryCast.BroadcastSnapshot()
		}()

	case core.CmdDisconnectStrip:
		if err := a.devices.DisconnectStrip(cmd.StripID); err != nil {
			a.log.Warn().Err(err).Int("strip", cmd.StripID).Msg("disconnect strip")
		}
		a.discoveryCast.BroadcastSnapshot()

	case core.CmdAddSchedule:
		id, err := a.scheduler.Add(cmd.Spec, cmd.Schedule)
		if err != nil {
			a.replyError(cmd, err)
			return
		}
		a.log.Info().Int("id", id).Msg("schedule added by client")
		a.discoveryCast.Broadcast(server.NewScheduleList(a.scheduler.List()))

	case core.CmdRemoveSchedule:
		if err := a.scheduler.Remove(cmd.ScheduleID); err != nil {
			a.replyError(cmd, err)
			return
		}
		a.discoveryCast.Broadcast(server.NewScheduleList(a.scheduler.List()))

	case core.CmdListSchedules:
		a.reply(cmd, server.NewScheduleList(a.scheduler.List()))

	case core.CmdGetPatternCode:
		code, err := a.scripts.Code(cmd.Pattern)
		if err != nil {
			a.replyError(cmd, err)
			return
		}
		a.reply(cmd, server.PatternCode{Type: server.TypePatternCode, Name: cmd.Pattern, Code: code})

	case core.CmdSavePatternCode:
		if err := a.scripts.Save(cmd.Pattern, cmd.Code); err != nil {
			a.replyError(cmd, err)
			return
		}
		name, err := a.scripts.Register(a.patterns, cmd.Pattern, a.log)
		if err != nil {
			a.replyError(cmd, err)
			return
		}
		a.log.Info().Str("pattern", name).Msg("script saved")
		a.discoveryCast.Broadcast(server.NewPatternList(a.patterns.List()))

	case core.CmdDeletePattern:
		name := pattern.LuaPrefix + strings.TrimPrefix(cmd.Pattern, pattern.LuaPrefix)
		if err := a.scripts.Delete(cmd.Pattern); err != nil {
			a.replyError(cmd, err)
			return
		}
		a.patterns.Unregister(name)
		if a.frames.ActivePattern() == name {
			_ = a.frames.SetPattern("", nil, nil)
			a.mqttBridge.Publish("pattern/state", "", true)
		}
		a.discoveryCast.Broadcast(server.NewPatternList(a.patterns.List()))

	default:
		a.log.Warn().Str("type", string(cmd.Type)).Msg("unknown command type")
	}
}

// reply answers the client that sent cmd. Commands from schedules or MQTT have
// no client and get no reply.
func (a *Agent) reply(cmd core.Command, v any) {
	if cmd.ClientID == "" {
		return
	}
	if err := a.discoveryCast.Send(cmd.ClientID, v); err != nil {
		a.log.Warn().Err(err).Str("client", cmd.ClientID).Msg("reply failed")
	}
}

func (a *Agent) replyError(cmd core.Command, err error) {
	a.log.Warn().Err(err).Str("type", string(cmd.Type)).Msg("command failed")
	a.reply(cmd, server.ErrorMessage{Type: server.TypeError, Message: err.Error()})
}

func (a *Agent) setPattern(name string, params map[string]float64) error {
	p, resolved, err := a.patterns.New(name, params)
	if err != nil {
		return err
	}
	if err := a.frames.SetPattern(name, p, resolved); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	a.mqttBridge.Publish("pattern/state", name, true)
	return nil
}

// Shutdown stops every component. The context bounds device disconnects.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.scheduler.Stop()
	a.frames.Stop()
	_ = a.frames.SetPattern("", nil, nil)
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("server shutdown")
	}
	a.mqttBridge.Disconnect()
	a.cancel()
	a.wg.Wait()
	return a.devices.Shutdown(ctx)
}
