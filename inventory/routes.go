package inventory

import (
	"sort"
)

// RouteInventory owns seat arithmetic for routes. It is a pure in-memory
// structure: nothing here persists, and it is not safe for concurrent use
// on its own. The Engine serializes access.
type RouteInventory struct {
	routes map[RouteID]*Route
}

// NewRouteInventory builds an inventory from loaded routes. Later entries
// with a duplicate ID replace earlier ones.
func NewRouteInventory(routes []Route) *RouteInventory {
	inv := &RouteInventory{routes: make(map[RouteID]*Route, len(routes))}
	for _, r := range routes {
		r := r
		inv.routes[r.ID] = &r
	}
	return inv
}

// Find returns a copy of the route.
func (inv *RouteInventory) Find(id RouteID) (Route, error) {
	r, ok := inv.routes[id]
	if !ok {
		return Route{}, &RouteNotFoundError{RouteID: id}
	}
	return *r, nil
}

// Add registers a new route. The route must not exist yet and must satisfy
// 0 <= Seats <= Capacity and a non-negative fare.
func (inv *RouteInventory) Add(r Route) error {
	if _, exists := inv.routes[r.ID]; exists {
		return invalid("route_id", "already exists")
	}
	if r.Capacity < 0 {
		return invalid("capacity", "must not be negative")
	}
	if r.Seats < 0 || r.Seats > r.Capacity {
		return invalid("seats", "must be between 0 and capacity")
	}
	if r.Fare.IsNegative() {
		return invalid("fare", "must not be negative")
	}
	inv.routes[r.ID] = &r
	return nil
}

// Decrement reserves n seats and returns the remaining count.
func (inv *RouteInventory) Decrement(id RouteID, n int) (int, error) {
	r, ok := inv.routes[id]
	if !ok {
		return 0, &RouteNotFoundError{RouteID: id}
	}
	if n > r.Seats {
		return r.Seats, &InsufficientSeatsError{RouteID: id, Requested: n, Available: r.Seats}
	}
	r.Seats -= n
	return r.Seats, nil
}

// Increment releases n seats and returns the new count. No capacity bound is
// enforced here; Engine.Verify reports routes that exceed their capacity.
func (inv *RouteInventory) Increment(id RouteID, n int) (int, error) {
	r, ok := inv.routes[id]
	if !ok {
		return 0, &RouteNotFoundError{RouteID: id}
	}
	r.Seats += n
	return r.Seats, nil
}

// List returns all routes ordered by ID ascending.
func (inv *RouteInventory) List() []Route {
	result := make([]Route, 0, len(inv.routes))
	for _, r := range inv.routes {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of routes.
func (inv *RouteInventory) Len() int { return len(inv.routes) }

// Snapshot returns a deep copy for rollback.
func (inv *RouteInventory) Snapshot() []Route {
	return inv.List()
}

// Restore replaces the inventory contents with a snapshot.
func (inv *RouteInventory) Restore(snapshot []Route) {
	*inv = *NewRouteInventory(snapshot)
}
