// Package scheduler runs agent commands on cron schedules.
package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"stripcast/internal/core"
)

// ErrBadCommand is returned for schedule commands that do not parse.
var ErrBadCommand = errors.New("bad schedule command")

// Entry is one saved schedule.
type Entry struct {
	Spec    string `json:"spec"`
	Command string `json:"command"`
}

// Listed is an entry together with its runtime id and next run.
type Listed struct {
	ID   int       `json:"id"`
	Next time.Time `json:"next"`
	Entry
}

// Scheduler manages all cron-related tasks.
type Scheduler struct {
	cron     *cron.Cron
	store    map[cron.EntryID]Entry
	commands chan<- core.Command
	mu       sync.RWMutex
	file     string
	log      zerolog.Logger
}

// Specs take five fields, an optional leading seconds field, or descriptors
// such as @every 1h.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a scheduler and loads the schedules saved in file.
func New(commands chan<- core.Command, file string, log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log}
	s := &Scheduler{
		cron:     cron.New(cron.WithParser(parser), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		store:    make(map[cron.EntryID]Entry),
		commands: commands,
		file:     file,
		log:      log,
	}
	s.load()
	return s
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("schedules", s.Len()).Msg("cron scheduler started")
}

// Stop halts the ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("cron scheduler stopped")
}

// Add validates and registers a schedule, then saves the file.
func (s *Scheduler) Add(spec, command string) (int, error) {
	if _, err := ParseCommand(command); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.schedule(Entry{Spec: spec, Command: command})
	if err != nil {
		return 0, err
	}
	s.log.Info().Int("id", int(id)).Str("spec", spec).Str("command", command).Msg("schedule added")
	return int(id), s.save()
}

func (s *Scheduler) schedule(e Entry) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(e.Spec, func() { s.execute(e.Command) })
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", e.Spec, err)
	}
	s.store[id] = e
	return id, nil
}

// Remove deletes a schedule. Unknown ids are ignored.
func (s *Scheduler) Remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := cron.EntryID(id)
	if _, ok := s.store[entryID]; !ok {
		return nil
	}
	s.cron.Remove(entryID)
	delete(s.store, entryID)
	s.log.Info().Int("id", id).Msg("schedule removed")
	return s.save()
}

// Len returns the number of schedules.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.store)
}

// List returns the schedules sorted by id.
func (s *Scheduler) List() []Listed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Listed, 0, len(s.store))
	for id, e := range s.store {
		out = append(out, Listed{ID: int(id), Next: s.cron.Entry(id).Next, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) execute(command string) {
	cmd, err := ParseCommand(command)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled command")
		return
	}
	s.log.Info().Str("command", command).Msg("executing scheduled command")
	select {
	case s.commands <- cmd:
	default:
		s.log.Warn().Str("command", command).Msg("command queue full, dropping")
	}
}

// ParseCommand turns a schedule command line into an agent command:
//
//	pattern <name> [key=value ...]
//	stop
//	connect <id>
//	disconnect <id>
func ParseCommand(line string) (core.Command, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return core.Command{}, fmt.Errorf("%w: empty", ErrBadCommand)
	}
	switch parts[0] {
	case "pattern":
		if len(parts) < 2 {
			return core.Command{}, fmt.Errorf("%w: pattern needs a name", ErrBadCommand)
		}
		cmd := core.Command{Type: core.CmdSetPattern, Pattern: parts[1]}
		for _, kv := range parts[2:] {
			k, v, ok := strings.Cut(kv, "=")
			f, err := strconv.ParseFloat(v, 64)
			if !ok || k == "" || err != nil {
				return core.Command{}, fmt.Errorf("%w: bad parameter %q", ErrBadCommand, kv)
			}
			if cmd.Params == nil {
				cmd.Params = make(map[string]float64)
			}
			cmd.Params[k] = f
		}
		return cmd, nil
	case "stop":
		return core.Command{Type: core.CmdStopPattern}, nil
	case "connect", "disconnect":
		if len(parts) != 2 {
			return core.Command{}, fmt.Errorf("%w: %s needs a strip id", ErrBadCommand, parts[0])
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil || id < 0 {
			return core.Command{}, fmt.Errorf("%w: bad strip id %q", ErrBadCommand, parts[1])
		}
		t := core.CmdConnectStrip
		if parts[0] == "disconnect" {
			t = core.CmdDisconnectStrip
		}
		return core.Command{Type: t, StripID: id}, nil
	default:
		return core.Command{}, fmt.Errorf("%w: unknown command %q", ErrBadCommand, parts[0])
	}
}

func (s *Scheduler) save() error {
	if s.file == "" {
		return nil
	}
	entries := make([]Entry, 0, len(s.store))
	ids := make([]cron.EntryID, 0, len(s.store))
	for id := range s.store {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		entries = append(entries, s.store[id])
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}
	if err := os.WriteFile(s.file, data, 0o644); err != nil {
		return fmt.Errorf("write schedules: %w", err)
	}
	return nil
}

func (s *Scheduler) load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == "" {
		return
	}

	data, err := os.ReadFile(s.file)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("file", s.file).Msg("read schedules")
		return
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.Error().Err(err).Str("file", s.file).Msg("decode schedules")
		return
	}

	for _, e := range entries {
		if _, err := ParseCommand(e.Command); err != nil {
			s.log.Warn().Err(err).Msg("skipping saved schedule")
			continue
		}
		if _, err := s.schedule(e); err != nil {
			s.log.Warn().Err(err).Msg("skipping saved schedule")
		}
	}
	s.log.Info().Int("schedules", len(s.store)).Str("file", s.file).Msg("schedules loaded")
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
