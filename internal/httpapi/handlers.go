package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pharmaflow/backend/internal/billing"
	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/otp"
	"pharmaflow/backend/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Role == domain.RoleAdmin && !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many admin pin attempts"))
		return
	}

	profile, err := a.auth.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, errors.New("username already exists"))
			return
		}
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user": profile})
}

// handleCSRFToken returns a stateless token valid for the current hour
// bucket. Mutating requests carry it in the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	if !a.resetLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many reset requests"))
		return
	}

	var req domain.PasswordResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.auth.RequestPasswordReset(r.Context(), req.Username)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":      true,
		"message": "if the account exists, a reset code has been sent",
	})
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if !a.confirmLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many reset attempts"))
		return
	}

	var req domain.PasswordResetConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.auth.ConfirmPasswordReset(r.Context(), req); err != nil {
		if errors.Is(err, otp.ErrTooManyAttempts) {
			writeError(w, http.StatusTooManyRequests, err)
			return
		}
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleListMedicines(w http.ResponseWriter, r *http.Request) {
	medicines, err := a.service.ListMedicines(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"medicines": medicines})
}

func (a *API) handleSearchMedicines(w http.ResponseWriter, r *http.Request) {
	medicines, err := a.service.SearchMedicines(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"medicines": medicines})
}

func (a *API) handleMedicinesByCompany(w http.ResponseWriter, r *http.Request) {
	medicines, err := a.service.MedicinesByCompany(r.Context(), chi.URLParam(r, "company"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"medicines": medicines})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.LowStock(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleGetMedicine(w http.ResponseWriter, r *http.Request) {
	medicine, err := a.service.GetMedicine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"medicine": medicine})
}

func (a *API) handleCreateMedicine(w http.ResponseWriter, r *http.Request) {
	var req domain.MedicineCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	medicine, err := a.service.CreateMedicine(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"medicine": medicine})
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	level, err := a.service.Restock(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": level})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.writeCheckoutError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeCheckoutError adds the failing line or medicine to the error body so
// the client can point at the offending cart row. A failed rollback wraps its
// cause, so persistence failures are matched first.
func (a *API) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		lineErr    *billing.LineError
		stockErr   *store.StockError
		persistErr *billing.PersistenceError
	)
	switch {
	case errors.As(err, &persistErr):
		a.logger.Error("checkout persistence failure",
			zap.String("bill_id", persistErr.BillID),
			zap.String("op", persistErr.Op),
			zap.Bool("inconsistent", persistErr.Inconsistent),
			zap.Error(persistErr.Err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "internal server error",
			"code":  "persistence_failure",
		})
	case errors.Is(err, billing.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": err.Error(),
			"code":  "empty_cart",
		})
	case errors.As(err, &lineErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       err.Error(),
			"code":        "invalid_line",
			"line":        lineErr.Line,
			"medicine_id": lineErr.MedicineID,
		})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       err.Error(),
			"code":        "insufficient_stock",
			"medicine_id": stockErr.MedicineID,
			"requested":   stockErr.Requested,
			"available":   stockErr.Available,
		})
	default:
		a.fail(w, r, err)
	}
}

func (a *API) handleListBills(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 100)
	bills, err := a.service.ListBills(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bills": bills})
}

func (a *API) handleGetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := a.service.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.service.Analytics(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := a.service.ListStaff(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": staff})
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := a.service.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.ProfileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	profile, err := a.service.UpdateProfile(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (a *API) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckInRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := a.service.CheckIn(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attendance": record})
}

func (a *API) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckOutRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := a.service.CheckOut(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attendance": record})
}

func (a *API) handleAttendanceRecords(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.AttendanceRecords(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *API) handleAttendanceReport(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.AttendanceReport(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
