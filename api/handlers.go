/*
handlers.go - HTTP API handlers for the seat ledger

PURPOSE:
  Exposes the reservation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Routes:
    GET    /api/routes                      List routes with availability
    GET    /api/routes/{id}                 One route
    POST   /api/routes                      Add a route (admin)

  Bookings:
    POST   /api/bookings                    Book seats
    DELETE /api/bookings/{id}               Cancel a booking (owner only)
    GET    /api/users/{username}/bookings   Bookings of one user

  Admin:
    GET    /api/admin/verify                Conservation report

  Health:
    GET    /health

IDENTITY:
  Registration and login live outside this service. The caller passes the
  authenticated username: in the body for bookings, in the X-Username
  header (or ?username=) for cancellation.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid request (bad JSON, non-positive seats, empty username)
  - 403: Booking belongs to another user
  - 404: Route or booking not found
  - 409: Not enough seats (body carries requested/available)
  - 500: Storage corrupt or persistence failed

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/seat-ledger/inventory"
)

// maxBodyBytes bounds request bodies; every request here is a few fields.
const maxBodyBytes = 1 << 20

// UsernameHeader carries the caller's identity on cancellation.
const UsernameHeader = "X-Username"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *inventory.Engine
	log    zerolog.Logger
}

// NewHandler creates a new handler over the given engine.
func NewHandler(engine *inventory.Engine, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, log: log}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ROUTE HANDLERS
// =============================================================================

// ListRoutes returns every route ordered by ID.
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RouteDTOs(h.Engine.ListRoutes(r.Context())))
}

// GetRoute returns a single route.
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	id, err := parseRouteID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	route, err := h.Engine.Route(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRouteDTO(route))
}

// CreateRoute adds a route to the ledger.
func (h *Handler) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var req CreateRouteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	fare := decimal.Zero
	if req.Fare != "" {
		parsed, err := decimal.NewFromString(req.Fare)
		if err != nil {
			h.writeEngineError(w, r, &inventory.InvalidRequestError{Field: "fare", Reason: "not a decimal number"})
			return
		}
		fare = parsed
	}

	route, err := h.Engine.AddRoute(r.Context(), inventory.Route{
		ID:          inventory.RouteID(req.RouteID),
		Source:      strings.TrimSpace(req.Source),
		Destination: strings.TrimSpace(req.Destination),
		Capacity:    req.Capacity,
		Seats:       req.Seats,
		Fare:        fare,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRouteDTO(route))
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// Book reserves seats on a route for a user.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	conf, err := h.Engine.Book(r.Context(),
		inventory.Username(strings.TrimSpace(req.Username)),
		inventory.RouteID(req.RouteID),
		req.Seats)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, NewConfirmationDTO(conf))
}

// CancelBooking cancels a booking owned by the requesting user.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := inventory.BookingID(chi.URLParam(r, "id"))

	username := strings.TrimSpace(r.Header.Get(UsernameHeader))
	if username == "" {
		username = strings.TrimSpace(r.URL.Query().Get("username"))
	}
	if username == "" {
		h.writeEngineError(w, r, &inventory.InvalidRequestError{Field: "username", Reason: "is required"})
		return
	}

	result, err := h.Engine.Cancel(r.Context(), inventory.Username(username), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, NewCancellationDTO(result))
}

// ListUserBookings returns a user's bookings in creation order. A user
// without bookings gets an empty list, not 404.
func (h *Handler) ListUserBookings(w http.ResponseWriter, r *http.Request) {
	username := inventory.Username(chi.URLParam(r, "username"))

	writeJSON(w, http.StatusOK, BookingDTOs(h.Engine.ListBookings(r.Context(), username)))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Verify reports conservation-law discrepancies.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewVerifyDTO(h.Engine.Verify(r.Context())))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
// Malformed bodies come back as *inventory.InvalidRequestError.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &inventory.InvalidRequestError{Field: "body", Reason: "empty request body"}
		}
		return &inventory.InvalidRequestError{Field: "body", Reason: err.Error()}
	}
	if dec.More() {
		return &inventory.InvalidRequestError{Field: "body", Reason: "must contain a single JSON object"}
	}
	return nil
}

// writeEngineError maps the inventory error taxonomy onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Details: err.Error()}
	var status int

	var (
		invalid   *inventory.InvalidRequestError
		noRoute   *inventory.RouteNotFoundError
		noBooking *inventory.BookingNotFoundError
		notOwner  *inventory.NotOwnerError
		short     *inventory.InsufficientSeatsError
	)

	switch {
	case errors.As(err, &invalid):
		status, resp.Code, resp.Error = http.StatusBadRequest, "invalid_request", "Invalid request"
		resp.Field = invalid.Field
	case errors.As(err, &noRoute):
		status, resp.Code, resp.Error = http.StatusNotFound, "route_not_found", "Route not found"
		id := int64(noRoute.RouteID)
		resp.RouteID = &id
	case errors.As(err, &noBooking):
		status, resp.Code, resp.Error = http.StatusNotFound, "booking_not_found", "Booking not found"
		resp.BookingID = string(noBooking.BookingID)
	case errors.As(err, &notOwner):
		status, resp.Code, resp.Error = http.StatusForbidden, "not_owner", "Booking belongs to another user"
		resp.BookingID = string(notOwner.BookingID)
	case errors.As(err, &short):
		status, resp.Code, resp.Error = http.StatusConflict, "insufficient_seats",
			fmt.Sprintf("Only %d seats available", short.Available)
		id := int64(short.RouteID)
		resp.RouteID = &id
		resp.Requested = &short.Requested
		resp.Available = &short.Available
	case errors.Is(err, inventory.ErrStorageCorrupt):
		status, resp.Code, resp.Error = http.StatusInternalServerError, "storage_corrupt", "Ledger storage is corrupt"
	case errors.Is(err, inventory.ErrPersistence):
		status, resp.Code, resp.Error = http.StatusInternalServerError, "persistence_failed", "Failed to persist change"
	default:
		status, resp.Code, resp.Error = http.StatusInternalServerError, "internal", "Internal error"
	}

	if inventory.IsClientError(err) || inventory.IsNotFound(err) {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	} else {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func parseRouteID(raw string) (inventory.RouteID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &inventory.InvalidRequestError{Field: "route_id", Reason: "not an integer"}
	}
	return inventory.RouteID(id), nil
}
