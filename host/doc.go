// Package host runs an engine state the way an embedding application does.
//
// The Host owns one state on a goroutine locked to its OS thread. It
// exposes a "hook" library to scripts (Add, Remove, Run, GetTable), fires a
// periodic event ("Think" by default) on a ticker, and runs requests from
// other goroutines between ticks:
//
//	h := host.New(host.WithModules(bridge.NewEntry(mod)))
//	if err := h.Start(ctx); err != nil {
//		return err
//	}
//	defer h.Wait()
//	defer h.Stop()
//	err := h.DoString(`print("hello")`)
//
// Modules are loaded in order after the state is created and unloaded in
// reverse order when the loop stops.
package host
