package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/availability"
)

func freeSlotsHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := uuidParam(w, r, "id", "invalid_provider_id")
		if !ok {
			return
		}

		slots, err := svc.FreeSlots(r.Context(), providerID, r.URL.Query().Get("date"))
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeData(w, http.StatusOK, "free slots", toFreeSlotsResponse(slots))
	}
}

func weeklyAvailabilityHandler(svc *appointment.Service, grids *availability.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := uuidParam(w, r, "id", "invalid_provider_id")
		if !ok {
			return
		}

		provider, err := svc.ResolveProvider(r.Context(), ref)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		grid, err := grids.Get(r.Context(), provider.ID)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeData(w, http.StatusOK, "weekly availability", grid)
	}
}

func getMyAvailabilityHandler(svc *appointment.Service, grids *availability.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := callerProvider(r.Context(), svc)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		grid, err := grids.Get(r.Context(), provider.ID)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeData(w, http.StatusOK, "weekly availability", grid)
	}
}

func setMyAvailabilityHandler(svc *appointment.Service, grids *availability.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		// accept the grid either bare or wrapped
		if nested, ok := body["weekly_availability"].(map[string]any); ok {
			body = nested
		}

		provider, err := callerProvider(r.Context(), svc)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		grid, err := grids.Set(r.Context(), provider.ID, body)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeData(w, http.StatusOK, "weekly availability updated", grid)
	}
}

func createBookingHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, _ := auth.FromContext(r.Context())
		if p.Role == auth.RoleRequester {
			switch req.RequesterID {
			case "":
				req.RequesterID = p.ID.String()
			case p.ID.String():
			default:
				writeError(w, http.StatusForbidden, "forbidden", "requesters can only book for themselves")
				return
			}
		}

		b, err := svc.CreateBooking(r.Context(), appointment.CreateBookingInput{
			ProviderID:   req.ProviderID,
			RequesterID:  req.RequesterID,
			Date:         req.Date,
			Slot:         req.SlotLabel,
			Mode:         req.Mode,
			Service:      req.ServiceName,
			Location:     req.Location,
			Insurance:    req.Insurance,
			Symptoms:     req.Symptoms,
			Notes:        req.Notes,
			ContactEmail: req.ContactEmail,
			ContactPhone: req.ContactPhone,
		})
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeData(w, http.StatusCreated, "appointment booked successfully", toBookingResponse(b))
	}
}

func listMyBookingsHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.FromContext(r.Context())
		list, err := svc.ListForRequester(r.Context(), p.ID)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeData(w, http.StatusOK, "bookings", toBookingList(list))
	}
}

func listProviderBookingsHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.FromContext(r.Context())
		list, err := svc.ListForProvider(r.Context(), p.ID)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeData(w, http.StatusOK, "bookings", toBookingList(list))
	}
}

func getBookingHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := loadAuthorizedBooking(w, r, svc, logger)
		if !ok {
			return
		}
		writeData(w, http.StatusOK, "booking", toBookingResponse(b))
	}
}

func updateStatusHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		b, ok := loadAuthorizedBooking(w, r, svc, logger)
		if !ok {
			return
		}

		target, ok := appointment.ParseStatus(strings.ToLower(strings.TrimSpace(req.Status)))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("unknown status %q", req.Status))
			return
		}

		// requesters may only withdraw their own booking
		p, _ := auth.FromContext(r.Context())
		if p.Role == auth.RoleRequester && target != appointment.StatusCancelled {
			writeError(w, http.StatusForbidden, "forbidden", "requesters can only cancel bookings")
			return
		}

		updated, err := svc.SetStatus(r.Context(), b.ID, req.Status)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeData(w, http.StatusOK, fmt.Sprintf("appointment marked as %s", updated.Status), toBookingResponse(updated))
	}
}

func cancelBookingHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := loadAuthorizedBooking(w, r, svc, logger)
		if !ok {
			return
		}

		cancelled, err := svc.Cancel(r.Context(), b.ID)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeData(w, http.StatusOK, "appointment cancelled", toBookingResponse(cancelled))
	}
}

// loadAuthorizedBooking fetches the {id} booking and checks the caller takes
// part in it. It writes the error response itself.
func loadAuthorizedBooking(w http.ResponseWriter, r *http.Request, svc *appointment.Service, logger *zap.Logger) (*appointment.Booking, bool) {
	id, ok := uuidParam(w, r, "id", "invalid_booking_id")
	if !ok {
		return nil, false
	}

	b, err := svc.GetBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, logger, r, err)
		return nil, false
	}
	if err := authorizeBooking(r.Context(), svc, b); err != nil {
		writeServiceError(w, logger, r, err)
		return nil, false
	}
	return b, true
}

func authorizeBooking(ctx context.Context, svc *appointment.Service, b *appointment.Booking) error {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return auth.ErrMissingToken
	}

	switch p.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RoleRequester:
		if b.RequesterID == p.ID {
			return nil
		}
	case auth.RoleProvider:
		if b.ProviderID == p.ID {
			return nil
		}
		provider, err := svc.ResolveProvider(ctx, p.ID)
		if errors.Is(err, appointment.ErrProviderNotFound) {
			return errForbidden
		}
		if err != nil {
			return err
		}
		if provider.ID == b.ProviderID {
			return nil
		}
	}
	return errForbidden
}

func callerProvider(ctx context.Context, svc *appointment.Service) (*appointment.Provider, error) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return nil, auth.ErrMissingToken
	}
	return svc.ResolveProvider(ctx, p.ID)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
