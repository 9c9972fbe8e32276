package inventory

// BookingRegistry owns the collection of active bookings in creation order.
// Like RouteInventory it is in-memory only and relies on the Engine for
// serialization.
type BookingRegistry struct {
	bookings []Booking
	index    map[BookingID]int
	newID    func() BookingID
}

// NewBookingRegistry builds a registry from loaded bookings. newID generates
// identifiers for new bookings and for loaded ones that lack a unique ID
// (records written before identifiers were assigned).
func NewBookingRegistry(bookings []Booking, newID func() BookingID) *BookingRegistry {
	reg := &BookingRegistry{newID: newID}
	reg.reset(nil)
	for _, b := range bookings {
		reg.Add(b)
	}
	return reg
}

func (reg *BookingRegistry) reset(bookings []Booking) {
	reg.bookings = append(make([]Booking, 0, len(bookings)), bookings...)
	reg.index = make(map[BookingID]int, len(bookings))
	for i, b := range reg.bookings {
		reg.index[b.ID] = i
	}
}

// Add appends a booking. An empty or already-used ID is replaced with a fresh
// one, so identifiers stay unique. The stored booking is returned.
func (reg *BookingRegistry) Add(b Booking) Booking {
	for b.ID == "" || reg.has(b.ID) {
		b.ID = reg.newID()
	}
	reg.index[b.ID] = len(reg.bookings)
	reg.bookings = append(reg.bookings, b)
	return b
}

func (reg *BookingRegistry) has(id BookingID) bool {
	_, ok := reg.index[id]
	return ok
}

// Remove deletes an active booking and returns it.
func (reg *BookingRegistry) Remove(id BookingID) (Booking, error) {
	i, ok := reg.index[id]
	if !ok {
		return Booking{}, &BookingNotFoundError{BookingID: id}
	}
	removed := reg.bookings[i]
	rest := make([]Booking, 0, len(reg.bookings)-1)
	rest = append(rest, reg.bookings[:i]...)
	rest = append(rest, reg.bookings[i+1:]...)
	reg.reset(rest)
	return removed, nil
}

// Find returns the booking with the given ID.
func (reg *BookingRegistry) Find(id BookingID) (Booking, error) {
	i, ok := reg.index[id]
	if !ok {
		return Booking{}, &BookingNotFoundError{BookingID: id}
	}
	return reg.bookings[i], nil
}

// FindByUser returns the user's bookings in creation order.
func (reg *BookingRegistry) FindByUser(user Username) []Booking {
	result := []Booking{}
	for _, b := range reg.bookings {
		if b.Username == user {
			result = append(result, b)
		}
	}
	return result
}

// SeatsByRoute sums booked seats per route.
func (reg *BookingRegistry) SeatsByRoute() map[RouteID]int {
	totals := make(map[RouteID]int)
	for _, b := range reg.bookings {
		totals[b.RouteID] += b.SeatsBooked
	}
	return totals
}

// Len returns the number of active bookings.
func (reg *BookingRegistry) Len() int { return len(reg.bookings) }

// Snapshot returns a copy of all bookings in creation order.
func (reg *BookingRegistry) Snapshot() []Booking {
	return append([]Booking(nil), reg.bookings...)
}

// Restore replaces the registry contents with a snapshot.
func (reg *BookingRegistry) Restore(snapshot []Booking) {
	reg.reset(snapshot)
}
