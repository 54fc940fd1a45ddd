// Package registry is the process-local room registry: a mutex-guarded
// map from room id to its manager and facades, grounded on the
// teacher's internal/app.Registry (mutex-guarded map,
// GetOrCreate-shaped API), keyed by room id instead of session id, and
// raising roomerr.ErrInconsistentRoomOptions (spec §6) on a mismatched
// re-request rather than silently reusing or silently recreating.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/facades/messages"
	"github.com/ably-labs/ably-chat-go/internal/facades/occupancy"
	"github.com/ably-labs/ably-chat-go/internal/facades/presence"
	"github.com/ably-labs/ably-chat-go/internal/facades/reactions"
	"github.com/ably-labs/ably-chat-go/internal/facades/typing"
	"github.com/ably-labs/ably-chat-go/internal/roomerr"
	"github.com/rs/zerolog"
)

// Options is the subset of room-construction choices that must agree
// across every caller asking for the same room id.
type Options struct {
	Features []domain.Feature
}

func (o Options) fingerprint() string {
	names := make([]string, len(o.Features))
	for i, f := range o.Features {
		names[i] = string(f)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (o Options) String() string {
	return fmt.Sprintf("features=[%s]", o.fingerprint())
}

// Entry bundles one room's manager and the feature facades built on
// top of it.
type Entry struct {
	Manager   *core.Manager
	Messages  *messages.Facade
	Presence  *presence.Facade
	Typing    *typing.Facade
	Occupancy *occupancy.Facade
	Reactions *reactions.Facade

	options Options
}

// Registry is the process-local room-id -> Entry map.
type Registry struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*Entry
	log   zerolog.Logger
}

func New(log zerolog.Logger) *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*Entry),
		log:   log.With().Str("module", "registry").Logger(),
	}
}

// GetOrCreate returns the existing Entry for id if one exists and its
// options match opts, calls create to build a fresh Entry if none
// exists yet, and fails with ErrInconsistentRoomOptions if an entry
// exists under different options.
func (r *Registry) GetOrCreate(id domain.RoomID, opts Options, create func() (*Entry, error)) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.rooms[id]; ok {
		if e.options.fingerprint() != opts.fingerprint() {
			return nil, roomerr.ErrInconsistentRoomOptions(opts.String(), e.options.String())
		}
		return e, nil
	}

	e, err := create()
	if err != nil {
		return nil, err
	}
	e.options = opts
	r.rooms[id] = e
	r.log.Info().Str("room", string(id)).Msg("room registered")
	return e, nil
}

// Get returns the Entry for id, if any.
func (r *Registry) Get(id domain.RoomID) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[id]
	return e, ok
}

// Remove drops id from the registry. Callers are responsible for
// releasing the room's manager first.
func (r *Registry) Remove(id domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, id)
	r.log.Info().Str("room", string(id)).Msg("room removed")
}
