package storage

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *PeerStore {
	t.Helper()
	store, err := OpenPeerStore(filepath.Join(t.TempDir(), "peers.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPeerStoreRememberAndGet(t *testing.T) {
	store := newTestStore(t)

	signing := bytes.Repeat([]byte{0x01}, 32)
	identity := bytes.Repeat([]byte{0x02}, 32)
	seen := time.Unix(1700000000, 0)

	require.NoError(t, store.Remember("aa:bb", signing, identity, seen))

	peer, err := store.Get("aa:bb")
	require.NoError(t, err)
	require.Equal(t, signing, peer.SigningKey)
	require.Equal(t, identity, peer.IdentityKey)
	require.Equal(t, seen.Unix(), peer.FirstSeen.Unix())
	require.Equal(t, seen.Unix(), peer.LastSeen.Unix())
}

func TestPeerStoreGetUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("no:such:peer")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPeerStoreRepeatContactUpdatesLastSeen(t *testing.T) {
	store := newTestStore(t)

	signing := bytes.Repeat([]byte{0x01}, 32)
	first := time.Unix(1700000000, 0)
	later := first.Add(time.Hour)

	require.NoError(t, store.Remember("aa:bb", signing, []byte{1}, first))
	require.NoError(t, store.Remember("aa:bb", signing, []byte{2}, later))

	peer, err := store.Get("aa:bb")
	require.NoError(t, err)
	require.Equal(t, first.Unix(), peer.FirstSeen.Unix())
	require.Equal(t, later.Unix(), peer.LastSeen.Unix())
	require.Equal(t, []byte{2}, peer.IdentityKey)
}

func TestPeerStoreDetectsKeyChange(t *testing.T) {
	store := newTestStore(t)

	seen := time.Unix(1700000000, 0)
	require.NoError(t, store.Remember("aa:bb", bytes.Repeat([]byte{0x01}, 32), []byte{1}, seen))

	err := store.Remember("aa:bb", bytes.Repeat([]byte{0x99}, 32), []byte{1}, seen.Add(time.Minute))
	require.ErrorIs(t, err, ErrKeyMismatch)

	// Pinned key survives the rejected update.
	peer, err := store.Get("aa:bb")
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0x01}, 32), peer.SigningKey)
}

func TestPeerStoreListAndForget(t *testing.T) {
	store := newTestStore(t)

	seen := time.Unix(1700000000, 0)
	require.NoError(t, store.Remember("aa", []byte{1}, []byte{1}, seen))
	require.NoError(t, store.Remember("bb", []byte{2}, []byte{2}, seen.Add(time.Hour)))

	peers, err := store.List()
	require.NoError(t, err)
	require.Len(t, peers, 2)
	require.Equal(t, "bb", peers[0].Fingerprint) // most recent first

	require.NoError(t, store.Forget("aa"))
	require.ErrorIs(t, store.Forget("aa"), ErrNotFound)

	peers, err = store.List()
	require.NoError(t, err)
	require.Len(t, peers, 1)
}
