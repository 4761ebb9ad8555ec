package chat

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestRegistryRoundTrip(t *testing.T) {
	registry := NewRegistry(nil)

	if err := registry.Register("user-a", "conn-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register("user-a", "conn-2"); err != nil {
		t.Fatalf("Register second connection: %v", err)
	}
	if err := registry.Register("user-b", "conn-3"); err != nil {
		t.Fatalf("Register other user: %v", err)
	}

	conns := registry.Connections("user-a")
	sort.Strings(conns)
	if len(conns) != 2 || conns[0] != "conn-1" || conns[1] != "conn-2" {
		t.Fatalf("unexpected connections: %v", conns)
	}

	registry.Deregister("user-a", "conn-1")
	if conns := registry.Connections("user-a"); len(conns) != 1 || conns[0] != "conn-2" {
		t.Fatalf("deregister must leave the other connection, got %v", conns)
	}
	if !registry.IsOnline("user-b") {
		t.Fatal("unrelated user must stay online")
	}

	registry.Deregister("user-a", "conn-2")
	if registry.IsOnline("user-a") {
		t.Fatal("user with no connections must be offline")
	}
	if registry.OnlineUsers() != 1 {
		t.Fatalf("expected 1 online user, got %d", registry.OnlineUsers())
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	registry := NewRegistry(nil)
	if err := registry.Register("user-a", "conn-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register("user-a", "conn-1"); err != nil {
		t.Fatalf("duplicate Register must be a no-op, got %v", err)
	}
	if conns := registry.Connections("user-a"); len(conns) != 1 {
		t.Fatalf("duplicate register must not add connections, got %v", conns)
	}
}

func TestRegistryConnectionBindsOnce(t *testing.T) {
	registry := NewRegistry(nil)
	if err := registry.Register("user-a", "conn-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register("user-b", "conn-1"); err == nil {
		t.Fatal("expected rebinding a connection to another user to fail")
	}
	if owner, ok := registry.ConnectionUser("conn-1"); !ok || owner != "user-a" {
		t.Fatalf("original binding must survive, got %q ok=%v", owner, ok)
	}
}

func TestRegistryDeregisterUnknownIsNoop(t *testing.T) {
	registry := NewRegistry(nil)
	if err := registry.Register("user-a", "conn-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	registry.Deregister("user-a", "never-registered")
	registry.Deregister("ghost", "conn-1")
	registry.Deregister("user-a", "conn-1")
	registry.Deregister("user-a", "conn-1")

	if registry.OnlineUsers() != 0 {
		t.Fatalf("expected empty registry, got %d users", registry.OnlineUsers())
	}
}

func TestRegistryConcurrentChurn(t *testing.T) {
	registry := NewRegistry(nil)
	const users = 8
	const connsPerUser = 16

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for c := 0; c < connsPerUser; c++ {
			wg.Add(1)
			go func(u, c int) {
				defer wg.Done()
				userID := fmt.Sprintf("user-%d", u)
				connID := fmt.Sprintf("conn-%d-%d", u, c)
				if err := registry.Register(userID, connID); err != nil {
					t.Errorf("Register(%s,%s): %v", userID, connID, err)
					return
				}
				if c%2 == 0 {
					registry.Deregister(userID, connID)
				}
			}(u, c)
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		if got := len(registry.Connections(userID)); got != connsPerUser/2 {
			t.Fatalf("user %s: expected %d connections, got %d", userID, connsPerUser/2, got)
		}
	}
}
