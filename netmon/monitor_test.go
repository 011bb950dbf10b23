package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor(nil)
	require.False(t, m.CurrentlyOnline())
	require.Equal(t, State{}, m.State())
}

func TestMonitorDeduplicatesTransitions(t *testing.T) {
	m := NewMonitor(nil)

	var events []bool
	cancel := m.Subscribe(func(online bool) { events = append(events, online) })
	defer cancel()

	m.Observe(State{Connected: true})                   // still offline
	m.Observe(State{Connected: true, Reachable: true})  // online
	m.Observe(State{Connected: true, Reachable: true})  // duplicate
	m.Observe(State{Connected: true, Reachable: true})  // duplicate
	m.Observe(State{Connected: false})                  // offline
	m.Observe(State{Connected: false, Reachable: true}) // still offline
	m.Observe(State{Connected: true, Reachable: true})  // online

	require.Equal(t, []bool{true, false, true}, events)
	require.True(t, m.CurrentlyOnline())
}

func TestMonitorStateTracksLatestReading(t *testing.T) {
	m := NewMonitor(nil)
	m.Observe(State{Connected: true})
	require.Equal(t, State{Connected: true}, m.State())
	require.False(t, m.CurrentlyOnline())
}

func TestMonitorCancelIsIdempotent(t *testing.T) {
	m := NewMonitor(nil)

	var calls int
	cancel := m.Subscribe(func(bool) { calls++ })
	other := m.Subscribe(func(bool) {})
	require.Equal(t, 2, m.SubscriberCount())

	cancel()
	cancel()
	require.Equal(t, 1, m.SubscriberCount())

	m.Observe(State{Connected: true, Reachable: true})
	require.Zero(t, calls)

	other()
	require.Zero(t, m.SubscriberCount())
}

func TestMonitorCallbackMaySubscribe(t *testing.T) {
	m := NewMonitor(nil)
	var nested atomic.Int32
	m.Subscribe(func(bool) {
		m.Subscribe(func(bool) { nested.Add(1) })
	})

	m.Observe(State{Connected: true, Reachable: true})
	require.Zero(t, nested.Load())
	m.Observe(State{})
	require.Equal(t, int32(1), nested.Load())
}

func TestProberCheckOnce(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	m := NewMonitor(nil)
	p, err := NewProber(m, DefaultProberConfig(srv.URL+"/health"))
	require.NoError(t, err)
	p.InterfaceUp = func() bool { return true }

	ctx := context.Background()
	require.Equal(t, State{Connected: true, Reachable: true}, p.CheckOnce(ctx))
	require.True(t, m.CurrentlyOnline())

	// 4xx still proves the remote is reachable.
	status.Store(http.StatusUnauthorized)
	require.True(t, p.CheckOnce(ctx).Reachable)

	status.Store(http.StatusServiceUnavailable)
	require.Equal(t, State{Connected: true}, p.CheckOnce(ctx))
	require.False(t, m.CurrentlyOnline())
}

func TestProberSkipsHealthCheckWithoutInterface(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	m := NewMonitor(nil)
	p, err := NewProber(m, DefaultProberConfig(srv.URL))
	require.NoError(t, err)
	p.InterfaceUp = func() bool { return false }

	require.Equal(t, State{}, p.CheckOnce(context.Background()))
	require.Zero(t, hits.Load())
}

func TestProberUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	m := NewMonitor(nil)
	p, err := NewProber(m, DefaultProberConfig(url))
	require.NoError(t, err)
	p.InterfaceUp = func() bool { return true }

	require.Equal(t, State{Connected: true}, p.CheckOnce(context.Background()))
}

func TestNewProberValidatesConfig(t *testing.T) {
	_, err := NewProber(nil, DefaultProberConfig("http://x"))
	require.Error(t, err)
	_, err = NewProber(NewMonitor(nil), DefaultProberConfig(""))
	require.Error(t, err)
}
