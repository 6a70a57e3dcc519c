/**
 * @description
 * HTTP handlers for the settlement service. Handlers parse the request, call the
 * ledger, settler or checkout use case and write the JSON response. Failures are
 * written as {"error": <kind>, "message": ...} where kind is the domain taxonomy tag.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain: use cases and the error taxonomy.
 */

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/app"
	"github.com/rapidfund/settlement-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// FeedServer upgrades a request into a campaign feed subscription.
type FeedServer interface {
	Serve(w http.ResponseWriter, r *http.Request, campaignID uuid.UUID)
}

// Deps are the collaborators the handlers call. Checkout and Feed may be nil, in
// which case their endpoints answer 503.
type Deps struct {
	Ledger   *app.Ledger
	Settler  *app.Settler
	Checkout *app.Checkout
	Oracle   app.PriceOracle
	Limiter  app.RateLimiter
	Feed     FeedServer

	// DonationLimitPerMinute bounds crypto proof submissions per user or client IP.
	DonationLimitPerMinute int
}

// Handlers holds the use cases the HTTP layer delegates to.
type Handlers struct {
	ledger        *app.Ledger
	settler       *app.Settler
	checkout      *app.Checkout
	oracle        app.PriceOracle
	limiter       app.RateLimiter
	feed          FeedServer
	donationLimit int
}

func NewHandlers(deps Deps) *Handlers {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = app.NewMemoryRateLimiter()
	}
	return &Handlers{
		ledger:        deps.Ledger,
		settler:       deps.Settler,
		checkout:      deps.Checkout,
		oracle:        deps.Oracle,
		limiter:       limiter,
		feed:          deps.Feed,
		donationLimit: deps.DonationLimitPerMinute,
	}
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error     domain.ErrorKind `json:"error"`
	Message   string           `json:"message"`
	Refetch   bool             `json:"refetch,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
}

// statusForKind maps the error taxonomy onto HTTP statuses.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidAmount, domain.KindUnsupportedAsset, domain.KindInvalidDestination,
		domain.KindValidation, domain.KindUnverifiedSettlement, domain.KindPaymentNotCompleted:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindExceedsAvailableFunds, domain.KindAlreadyResolved, domain.KindUserRejected,
		domain.KindDuplicateSettlement, domain.KindInsufficientFunds, domain.KindNoAccounts,
		domain.KindSessionNotConnected:
		return http.StatusConflict
	case domain.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindNetworkError:
		return http.StatusBadGateway
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeDomainError(w http.ResponseWriter, endpoint string, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	resp := errorResponse{
		Error:     kind,
		Message:   err.Error(),
		Refetch:   kind == domain.KindExceedsAvailableFunds || kind == domain.KindAlreadyResolved,
		Retryable: domain.Retryable(err),
	}
	if status == http.StatusInternalServerError {
		log.Printf("level=error component=api endpoint=%s msg=\"request failed\" err=%v", endpoint, err)
		resp.Message = "Internal server error"
	} else {
		log.Printf("level=warn component=api endpoint=%s outcome=reject kind=%s err=%v", endpoint, kind, err)
	}
	writeJSON(w, status, resp)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidRequest)
	}
	return nil
}

func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, domain.KindUnauthorized, "Authentication required")
		return uuid.Nil, false
	}
	return userID, true
}

func optionalUser(r *http.Request) *uuid.UUID {
	if userID, ok := UserIDFromContext(r.Context()); ok {
		return &userID
	}
	return nil
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}

func (h *Handlers) listOptions(w http.ResponseWriter, r *http.Request) (domain.ListOptions, bool) {
	q := r.URL.Query()
	limit, err := parseOptionalPositiveInt(q.Get("limit"), 20)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "Invalid limit")
		return domain.ListOptions{}, false
	}
	offset, err := parseOptionalPositiveInt(q.Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "Invalid offset")
		return domain.ListOptions{}, false
	}
	return domain.ListOptions{Limit: limit, Offset: offset, Status: strings.ToLower(strings.TrimSpace(q.Get("status")))}.Normalize(), true
}

// clientIP identifies unauthenticated callers for rate limiting. RealIP middleware
// has already rewritten RemoteAddr when a proxy header is present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// amountField accepts an amount as a JSON string or number and keeps its exact text.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountField(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a string or number")
	}
	*a = amountField(n.String())
	return nil
}

// CreateCampaignHandler creates a campaign owned by the caller.
func (h *Handlers) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req domain.CreateCampaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, "create_campaign", err)
		return
	}
	campaign, err := h.ledger.CreateCampaign(r.Context(), ownerID, req)
	if err != nil {
		h.writeDomainError(w, "create_campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

// GetCampaignHandler returns a campaign with its current aggregates.
func (h *Handlers) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	campaign, err := h.ledger.GetCampaign(r.Context(), campaignID)
	if err != nil {
		h.writeDomainError(w, "get_campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

type assetResponse struct {
	domain.Asset
	Price       string `json:"price"`
	PriceSource string `json:"price_source"`
}

// ListAssetsHandler returns the supported assets with their current unit price.
func (h *Handlers) ListAssetsHandler(w http.ResponseWriter, r *http.Request) {
	all := h.ledger.Assets().All()
	out := make([]assetResponse, 0, len(all))
	for _, asset := range all {
		resp := assetResponse{Asset: asset}
		if h.oracle != nil {
			quote := h.oracle.Quote(r.Context(), asset.Symbol)
			resp.Price = quote.Price.String()
			resp.PriceSource = string(quote.Source)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": out})
}

// CampaignFeedHandler subscribes a websocket to a campaign's donation hints.
func (h *Handlers) CampaignFeedHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	if h.feed == nil {
		h.writeError(w, http.StatusServiceUnavailable, domain.KindProviderUnavailable, "Realtime feed is not enabled")
		return
	}
	if _, err := h.ledger.GetCampaign(r.Context(), campaignID); err != nil {
		h.writeDomainError(w, "campaign_feed", err)
		return
	}
	h.feed.Serve(w, r, campaignID)
}
