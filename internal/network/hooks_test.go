package network

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHookTable_UnregisterDuringFire(t *testing.T) {
	hooks := newHookTable(quietLogger())

	var calls []string
	var second HookID
	hooks.register(AuthenticationAccepted, func(*Connection) {
		calls = append(calls, "first")
		hooks.unregister(AuthenticationAccepted, second)
	})
	second = hooks.register(AuthenticationAccepted, func(*Connection) {
		calls = append(calls, "second")
	})
	hooks.register(AuthenticationAccepted, func(*Connection) {
		calls = append(calls, "third")
	})

	hooks.fire(AuthenticationAccepted, nil)
	hooks.fire(AuthenticationAccepted, nil)

	// The firing in progress still sees its snapshot; the next one doesn't.
	want := []string{"first", "second", "third", "first", "third"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("unexpected hook calls; diff:\n%s", diff)
	}
}

func TestHookTable_PanicIsolation(t *testing.T) {
	hooks := newHookTable(quietLogger())

	var reached bool
	hooks.register(Disconnected, func(*Connection) { panic("boom") })
	hooks.register(Disconnected, func(*Connection) { reached = true })

	hooks.fire(Disconnected, nil)

	if !reached {
		t.Error("a panicking hook kept the next hook from running")
	}
}

func TestHookTable_Unregister(t *testing.T) {
	hooks := newHookTable(quietLogger())

	id := hooks.register(Shutdown, func(*Connection) {})
	if hooks.unregister(Connected, id) {
		t.Error("unregistered a hook under the wrong type")
	}
	if !hooks.unregister(Shutdown, id) {
		t.Error("failed to unregister hook")
	}
	if hooks.unregister(Shutdown, id) {
		t.Error("unregistered the same hook twice")
	}
	if n := hooks.count(Shutdown); n != 0 {
		t.Errorf("expected no hooks left, got %d", n)
	}
}

func TestHookType_String(t *testing.T) {
	if got := AuthenticationAccepted.String(); got != "AUTHENTICATION_ACCEPTED" {
		t.Errorf("unexpected name %q", got)
	}
}
