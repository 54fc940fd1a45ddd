package registry

import (
	"testing"

	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/roomerr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateBuildsOnceThenReuses(t *testing.T) {
	r := New(zerolog.Nop())
	opts := Options{Features: []domain.Feature{domain.FeatureMessages, domain.FeaturePresence}}

	calls := 0
	create := func() (*Entry, error) {
		calls++
		return &Entry{}, nil
	}

	first, err := r.GetOrCreate("room-1", opts, create)
	require.NoError(t, err)

	second, err := r.GetOrCreate("room-1", opts, create)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, calls, "create should only run on the first call")
}

func TestGetOrCreateRejectsInconsistentOptions(t *testing.T) {
	r := New(zerolog.Nop())
	first := Options{Features: []domain.Feature{domain.FeatureMessages}}
	second := Options{Features: []domain.Feature{domain.FeatureMessages, domain.FeatureTyping}}

	_, err := r.GetOrCreate("room-1", first, func() (*Entry, error) { return &Entry{}, nil })
	require.NoError(t, err)

	_, err = r.GetOrCreate("room-1", second, func() (*Entry, error) { return &Entry{}, nil })
	require.Error(t, err)

	var re *roomerr.RoomError
	require.ErrorAs(t, err, &re)
	require.Equal(t, roomerr.CodeInconsistentRoomOptions, re.Code)
}

func TestOptionsFingerprintIsOrderIndependent(t *testing.T) {
	a := Options{Features: []domain.Feature{domain.FeatureMessages, domain.FeatureTyping}}
	b := Options{Features: []domain.Feature{domain.FeatureTyping, domain.FeatureMessages}}
	require.Equal(t, a.fingerprint(), b.fingerprint())
}

func TestRemoveDropsEntry(t *testing.T) {
	r := New(zerolog.Nop())
	_, err := r.GetOrCreate("room-1", Options{}, func() (*Entry, error) { return &Entry{}, nil })
	require.NoError(t, err)

	r.Remove("room-1")

	_, ok := r.Get("room-1")
	require.False(t, ok)
}
