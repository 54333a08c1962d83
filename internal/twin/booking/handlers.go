package booking

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wondertwin-ai/contractkit/internal/twin/admin"
	"github.com/wondertwin-ai/contractkit/internal/twin/twincore"
)

// Handler serves the booking API.
type Handler struct {
	state    *State
	mw       *twincore.Middleware
	validate *validator.Validate
	log      *zap.Logger
}

// NewHandler creates a Handler over state.
func NewHandler(state *State, mw *twincore.Middleware, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		state:    state,
		mw:       mw,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger,
	}
}

// NewTwin wires a booking twin: API routes, admin routes, and state.
func NewTwin(cfg twincore.Config, logger *zap.Logger) (*twincore.Twin, *State) {
	if cfg.Name == "" {
		cfg.Name = "booking"
	}
	twin := twincore.New(cfg, logger)
	state := NewState()
	NewHandler(state, twin.Middleware(), twin.Logger).Routes(twin.Router)

	ah := admin.NewHandler(state, twin.Middleware(), nil)
	ah.SetConfigProvider(twin)
	ah.Routes(twin.Router)
	return twin, state
}

// Routes mounts the API on r. Fault injection applies to every route but /ping.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ping", h.Ping)
	r.Group(func(r chi.Router) {
		r.Use(h.mw.FaultInjection)
		r.Post("/auth", h.CreateToken)
		r.Route("/booking", func(r chi.Router) {
			r.Get("/", h.ListBookingIDs)
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.With(h.requireAuth).Put("/{id}", h.UpdateBooking)
			r.With(h.requireAuth).Patch("/{id}", h.PartialUpdateBooking)
			r.With(h.requireAuth).Delete("/{id}", h.DeleteBooking)
		})
	})
}

// Ping answers 201 Created, as the health check does upstream.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	twincore.Text(w, http.StatusCreated, "Created")
}

// CreateToken answers 200 with a token, or 200 with a reason on bad credentials.
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		twincore.JSON(w, http.StatusOK, map[string]string{"reason": "Bad credentials"})
		return
	}
	token, ok := h.state.Login(creds.Username, creds.Password)
	if !ok {
		h.log.Debug("login rejected", zap.String("username", creds.Username))
		twincore.JSON(w, http.StatusOK, map[string]string{"reason": "Bad credentials"})
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"token": token})
}

// requireAuth accepts a "token" cookie issued by /auth or Basic admin credentials.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("token"); err == nil && h.state.ValidToken(c.Value) {
			next.ServeHTTP(w, r)
			return
		}
		if user, pass, ok := r.BasicAuth(); ok && h.state.ValidBasic(user, pass) {
			next.ServeHTTP(w, r)
			return
		}
		twincore.Text(w, http.StatusForbidden, "Forbidden")
	})
}

type bookingIDEntry struct {
	BookingID int `json:"bookingid"`
}

// ListBookingIDs lists ids, filtered by firstname, lastname, checkin (on or
// after) and checkout (on or before).
func (h *Handler) ListBookingIDs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids, _ := h.state.Bookings.Filter(func(_ int, b Booking) bool {
		if v := q.Get("firstname"); v != "" && b.Firstname != v {
			return false
		}
		if v := q.Get("lastname"); v != "" && b.Lastname != v {
			return false
		}
		// ISO dates compare correctly as strings.
		if v := q.Get("checkin"); v != "" && b.BookingDates.Checkin < v {
			return false
		}
		if v := q.Get("checkout"); v != "" && b.BookingDates.Checkout > v {
			return false
		}
		return true
	})

	out := make([]bookingIDEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, bookingIDEntry{BookingID: id})
	}
	twincore.JSON(w, http.StatusOK, out)
}

// CreateBooking stores a booking. Malformed payloads answer 500, as upstream does.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var b Booking
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		twincore.Text(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if err := h.validate.Struct(b); err != nil {
		h.log.Debug("booking rejected", zap.Error(err))
		twincore.Text(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	id, stored := h.state.Bookings.Create(func(int) Booking { return b })
	twincore.JSON(w, http.StatusOK, map[string]any{"bookingid": id, "booking": stored})
}

// GetBooking returns a booking or 404 Not Found.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(r)
	if !ok {
		twincore.Text(w, http.StatusNotFound, "Not Found")
		return
	}
	b, ok := h.state.Bookings.Get(id)
	if !ok {
		twincore.Text(w, http.StatusNotFound, "Not Found")
		return
	}
	twincore.JSON(w, http.StatusOK, b)
}

// UpdateBooking replaces a booking. Unknown ids answer 405.
func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(r)
	if !ok {
		twincore.Text(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	var b Booking
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil || h.validate.Struct(b) != nil {
		twincore.Text(w, http.StatusBadRequest, "Bad Request")
		return
	}
	updated, ok := h.state.Bookings.Update(id, func(Booking) Booking { return b })
	if !ok {
		twincore.Text(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	twincore.JSON(w, http.StatusOK, updated)
}

// PartialUpdateBooking merges the submitted fields into a booking.
func (h *Handler) PartialUpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(r)
	if !ok {
		twincore.Text(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		twincore.Text(w, http.StatusBadRequest, "Bad Request")
		return
	}

	var mergeErr error
	updated, ok := h.state.Bookings.Update(id, func(cur Booking) Booking {
		merged, err := mergeBooking(cur, patch)
		if err != nil {
			mergeErr = err
			return cur
		}
		return merged
	})
	switch {
	case !ok:
		twincore.Text(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	case mergeErr != nil:
		twincore.Text(w, http.StatusBadRequest, "Bad Request")
	default:
		twincore.JSON(w, http.StatusOK, updated)
	}
}

// DeleteBooking removes a booking and answers 201 Created. Unknown ids answer 405.
func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(r)
	if !ok || !h.state.Bookings.Delete(id) {
		twincore.Text(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	twincore.Text(w, http.StatusCreated, "Created")
}

func bookingID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "id")))
	return id, err == nil && id > 0
}

// mergeBooking applies patch over cur, merging bookingdates field by field.
func mergeBooking(cur Booking, patch map[string]any) (Booking, error) {
	data, err := json.Marshal(cur)
	if err != nil {
		return cur, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return cur, err
	}
	for k, v := range patch {
		if k == "bookingdates" {
			if dates, ok := v.(map[string]any); ok {
				existing, _ := doc[k].(map[string]any)
				for dk, dv := range dates {
					existing[dk] = dv
				}
				continue
			}
		}
		doc[k] = v
	}
	data, err = json.Marshal(doc)
	if err != nil {
		return cur, err
	}
	var out Booking
	if err := json.Unmarshal(data, &out); err != nil {
		return cur, err
	}
	return out, nil
}
