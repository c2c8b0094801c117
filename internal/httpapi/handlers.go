package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"dukapos/internal/domain"
	"dukapos/internal/report"
	"dukapos/internal/report/export"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor, err := a.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, err)
		return
	}
	resp, err := a.auth.Issue(actor)
	if err != nil {
		a.fail(w, err)
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

	user, err := a.service.Register(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// handleRecordSale accepts either a JSON body or the checkout form fields
// (CustomerName, CustomerPhone, CartItemsJson).
func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var (
		resp domain.RecordSaleResponse
		err  error
	)
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err = a.service.RecordSaleJSON(r.Context(),
			r.PostForm.Get("CustomerName"),
			r.PostForm.Get("CustomerPhone"),
			r.PostForm.Get("CartItemsJson"),
		)
	} else {
		var req domain.RecordSaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err = a.service.RecordSale(r.Context(), req)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleSalesHistory(w http.ResponseWriter, r *http.Request) {
	history, err := a.service.ListSales(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	receipt, err := a.service.GetReceipt(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleProfitLoss(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseDate(query.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from date: %w", err))
		return
	}
	to, err := parseDate(query.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to date: %w", err))
		return
	}

	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	switch format {
	case "", "json":
		result, err := a.service.ProfitLoss(r.Context(), from, to)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "csv":
		doc, err := a.service.ExportProfitLossCSV(r.Context(), from, to)
		if err != nil {
			a.fail(w, err)
			return
		}
		a.writeDocument(w, doc)
	case "pdf":
		doc, err := a.service.ExportProfitLossPDF(r.Context(), from, to)
		if err != nil {
			a.fail(w, err)
			return
		}
		a.writeDocument(w, doc)
	default:
		writeError(w, http.StatusBadRequest, errors.New("format must be json, csv or pdf"))
	}
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.service.ListRoles(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req domain.RoleChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.service.AssignRole(r.Context(), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	user, err := a.service.RemoveRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) writeDocument(w http.ResponseWriter, doc export.Document) {
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Data); err != nil {
		a.logger.Warn("write export failed", zap.String("filename", doc.Filename), zap.Error(err))
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, errors.New("invalid id"))
		return 0, false
	}
	return id, true
}

// parseDate reads a yyyy-mm-dd query value; empty means unset.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(report.DateLayout, raw)
}
