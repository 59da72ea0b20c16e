// Package resource provides a handle table for values shared with native code.
//
// Native code never sees Go pointers. It receives a Handle, a 64-bit value
// whose low half selects a slot and whose high half is the slot generation.
// When a slot is freed its generation is bumped, so a handle that arrives late
// for a previous occupant is rejected instead of resolving the new one.
//
//	table := resource.NewTable()
//	h := table.Insert(typeID, value)
//
//	value, ok := table.Get(h)   // lookup
//	value, ok = table.Take(h)   // lookup and remove, exactly one winner
//
// Observers receive created, taken and dropped events after the table lock
// is released.
package resource
