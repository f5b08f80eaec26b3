package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/platform/auth"
	"github.com/groupdine/api/internal/platform/httpx"
	"github.com/groupdine/api/internal/platform/observability"
	"github.com/groupdine/api/internal/platform/requestctx"
	"github.com/groupdine/api/internal/services"
)

const maxTeamCartBodySize = 16 * 1024

// TeamCartHandlers exposes the member and host commands on team carts.
type TeamCartHandlers struct {
	authn       *auth.Authenticator
	carts       services.TeamCartService
	middlewares []func(http.Handler) http.Handler
}

// NewTeamCartHandlers constructs handlers enforcing Firebase authentication before invoking the team cart service.
// The extra middlewares run after authentication, so they can key on the caller identity.
func NewTeamCartHandlers(authn *auth.Authenticator, carts services.TeamCartService, mw ...func(http.Handler) http.Handler) *TeamCartHandlers {
	return &TeamCartHandlers{
		authn:       authn,
		carts:       carts,
		middlewares: mw,
	}
}

// Routes wires the /team-carts endpoints onto the provided router.
func (h *TeamCartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleUser, auth.RoleStaff, auth.RoleAdmin))
	}
	for _, mw := range h.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	id := "/{" + observability.CartIDParam + "}"
	r.Post("/", h.createTeamCart)
	r.Get(id, h.getTeamCart)
	r.Post(id+"/members", h.joinTeamCart)
	r.Post(id+"/items", h.addItem)
	r.Patch(id+"/items/{itemID}", h.updateItem)
	r.Delete(id+"/items/{itemID}", h.removeItem)
	r.Post(id+":lock", h.lockTeamCart)
	r.Put(id+"/tip", h.applyTip)
	r.Put(id+"/coupon", h.applyCoupon)
	r.Delete(id+"/coupon", h.removeCoupon)
	r.Post(id+":finalize", h.finalizePricing)
	r.Post(id+"/payments:cod", h.commitCashOnDelivery)
	r.Post(id+"/payments:online", h.initiateOnlinePayment)
	r.Post(id+":convert", h.convertToOrder)
}

type createTeamCartRequest struct {
	RestaurantID string `json:"restaurant_id"`
	Currency     string `json:"currency"`
	HostName     string `json:"host_name"`
}

type joinTeamCartRequest struct {
	ShareToken string `json:"share_token"`
	Name       string `json:"name"`
}

type customizationRequest struct {
	GroupID  string `json:"group_id"`
	ChoiceID string `json:"choice_id"`
}

type addItemRequest struct {
	MenuItemID     string                 `json:"menu_item_id"`
	Quantity       int                    `json:"quantity"`
	Customizations []customizationRequest `json:"customizations"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type applyTipRequest struct {
	Amount string `json:"amount"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type deliveryAddressRequest struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

type convertTeamCartRequest struct {
	DeliveryAddress     deliveryAddressRequest `json:"delivery_address"`
	SpecialInstructions string                 `json:"special_instructions"`
}

func (h *TeamCartHandlers) createTeamCart(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req createTeamCartRequest
	if !decodeTeamCartBody(ctx, w, r, &req) {
		return
	}
	cart, err := h.carts.CreateTeamCart(ctx, services.CreateTeamCartCommand{
		UserID:       identity.UID,
		HostName:     memberName(ctx, req.HostName, identity),
		RestaurantID: strings.TrimSpace(req.RestaurantID),
		Currency:     strings.TrimSpace(req.Currency),
	})
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeTeamCart(w, http.StatusCreated, cart, identity.UID)
}

func (h *TeamCartHandlers) getTeamCart(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetTeamCart(ctx, cartIDParam(r), identity.UID)
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeTeamCart(w, http.StatusOK, cart, identity.UID)
}

func (h *TeamCartHandlers) joinTeamCart(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req joinTeamCartRequest
	if !decodeTeamCartBody(ctx, w, r, &req) {
		return
	}
	cart, err := h.carts.JoinTeamCart(ctx, services.JoinTeamCartCommand{
		CartID:     cartIDParam(r),
		UserID:     identity.UID,
		Name:       memberName(ctx, req.Name, identity),
		ShareToken: strings.TrimSpace(req.ShareToken),
	})
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeTeamCart(w, http.StatusOK, cart, identity.UID)
}

func (h *TeamCartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !decodeTeamCartBody(ctx, w, r, &req) {
		return
	}
	selections := make([]services.CustomizationSelection, 0, len(req.Customizations))
	for _, c := range req.Customizations {
		selections = append(selections, services.CustomizationSelection{
			GroupID:  strings.TrimSpace(c.GroupID),
			ChoiceID: strings.TrimSpace(c.ChoiceID),
		})
	}
	cart, err := h.carts.AddItem(ctx, services.AddTeamCartItemCommand{
		CartID:         cartIDParam(r),
		UserID:         identity.UID,
		MenuItemID:     strings.TrimSpace(req.MenuItemID),
		Quantity:       req.Quantity,
		Customizations: selections,
	})
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeTeamCart(w, http.StatusOK, cart, identity.UID)
}

func (h *TeamCartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if !decodeTeamCartBody(ctx, w, r, &req) {
		return
	}
	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateTeamCartItemCommand{
		CartID:   cartIDParam(r),
		UserID:   identity.UID,
		ItemID:   strings.TrimSpace(chi.URLParam(r, "itemID")),
		Quantity: req.Quantity,
	})
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeTeamCart(w, http.StatusOK, cart, identity.UID)
}

func (h *TeamCartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(ctx, services.RemoveTeamCartItemCommand{
		CartID: cartIDParam(r),
		UserID: identity.UID,
		ItemID: strings.TrimSpace(chi.URLParam(r, "itemID")),
	})
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeTeamCart(w, http.StatusOK, cart, identity.UID)
}

func (h *TeamCartHandlers) lockTeamCart(w http.ResponseWriter, r *http.Request) {
	h.cartCommand(w, r, services.TeamCartService.LockTeamCart)
}

func (h *TeamCartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	h.cartCommand(w, r, services.TeamCartService.RemoveCoupon)
}

func (h *TeamCartHandlers) finalizePricing(w http.ResponseWriter, r *http.Request) {
	h.cartCommand(w, r, services.TeamCartService.FinalizePricing)
}

func (h *TeamCartHandlers) commitCashOnDelivery(w http.ResponseWriter, r *http.Request) {
	h.cartCommand(w, r, services.TeamCartService.CommitToCashOnDelivery)
}

// cartCommand runs a body-less command addressed by cart and caller.
func (h *TeamCartHandlers) cartCommand(w http.ResponseWriter, r *http.Request, run func(services.TeamCartService, context.Context, string, string) (services.TeamCart, error)) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := run(h.carts, ctx, cartIDParam(r), identity.UID)
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeTeamCart(w, http.StatusOK, cart, identity.UID)
}

func (h *TeamCartHandlers) applyTip(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req applyTipRequest
	if !decodeTeamCartBody(ctx, w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a decimal string", http.StatusBadRequest))
		return
	}
	cart, err := h.carts.ApplyTip(ctx, services.ApplyTipCommand{
		CartID: cartIDParam(r),
		UserID: identity.UID,
		Amount: amount,
	})
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeTeamCart(w, http.StatusOK, cart, identity.UID)
}

func (h *TeamCartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req applyCouponRequest
	if !decodeTeamCartBody(ctx, w, r, &req) {
		return
	}
	cart, err := h.carts.ApplyCoupon(ctx, services.ApplyCouponCommand{
		CartID: cartIDParam(r),
		UserID: identity.UID,
		Code:   strings.TrimSpace(req.Code),
	})
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeTeamCart(w, http.StatusOK, cart, identity.UID)
}

func (h *TeamCartHandlers) initiateOnlinePayment(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	session, err := h.carts.InitiateOnlinePayment(ctx, cartIDParam(r), identity.UID)
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusCreated, onlinePaymentResponse{
		CartID:       session.CartID,
		PaymentID:    session.PaymentID,
		Provider:     session.Provider,
		IntentID:     session.IntentID,
		ClientSecret: session.ClientSecret,
		Amount:       newMoneyPayload(session.Amount),
		QuoteVersion: session.QuoteVersion,
		Attempt:      session.Attempt,
	})
}

func (h *TeamCartHandlers) convertToOrder(w http.ResponseWriter, r *http.Request) {
	ctx, identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req convertTeamCartRequest
	if !decodeTeamCartBody(ctx, w, r, &req) {
		return
	}
	order, err := h.carts.ConvertToOrder(ctx, services.ConvertTeamCartCommand{
		CartID: cartIDParam(r),
		UserID: identity.UID,
		DeliveryAddress: services.DeliveryAddress{
			Street:  strings.TrimSpace(req.DeliveryAddress.Street),
			City:    strings.TrimSpace(req.DeliveryAddress.City),
			State:   strings.TrimSpace(req.DeliveryAddress.State),
			ZipCode: strings.TrimSpace(req.DeliveryAddress.ZipCode),
			Country: strings.TrimSpace(req.DeliveryAddress.Country),
		},
		SpecialInstructions: strings.TrimSpace(req.SpecialInstructions),
	})
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: newOrderPayload(order)})
}

// begin checks service availability and the authenticated caller shared by every endpoint.
func (h *TeamCartHandlers) begin(w http.ResponseWriter, r *http.Request) (context.Context, *auth.Identity, bool) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("team_cart_service_unavailable", "team cart service is unavailable", http.StatusServiceUnavailable))
		return ctx, nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return ctx, nil, false
	}
	return ctx, identity, true
}

// memberName prefers the name typed by the caller; the identity lookup only runs without one.
func memberName(ctx context.Context, requested string, identity *auth.Identity) string {
	if name := strings.TrimSpace(requested); name != "" {
		return name
	}
	return identity.MemberName(ctx)
}

func cartIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, observability.CartIDParam))
}

func decodeTeamCartBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := readBody(w, r, maxTeamCartBodySize)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

// writeTeamCartError maps service failures to HTTP responses. The domain code, when present, is
// surfaced as "code" so clients can branch on the precise rule that failed.
func writeTeamCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var details map[string]any
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		details = map[string]any{"code": string(domainErr.Code)}
		requestctx.Annotate(ctx, "domain_code", string(domainErr.Code))
	}

	var apiErr httpx.Error
	switch {
	case errors.Is(err, services.ErrTeamCartInvalidInput) && domainErr != nil && strings.HasPrefix(string(domainErr.Code), "coupon."):
		apiErr = httpx.NewError("coupon_rejected", domainErr.Message, http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrTeamCartInvalidInput):
		apiErr = httpx.NewError("invalid_request", errorMessage(domainErr, err), http.StatusBadRequest)
	case errors.Is(err, services.ErrTeamCartForbidden):
		apiErr = httpx.NewError("forbidden", errorMessage(domainErr, err), http.StatusForbidden)
	case errors.Is(err, services.ErrTeamCartNotFound):
		apiErr = httpx.NewError("team_cart_not_found", errorMessage(domainErr, err), http.StatusNotFound)
	case errors.Is(err, services.ErrTeamCartInvalidState):
		apiErr = httpx.NewError("invalid_cart_state", errorMessage(domainErr, err), http.StatusConflict)
	case errors.Is(err, services.ErrTeamCartConflict):
		apiErr = httpx.NewError("team_cart_conflict", "team cart has been modified; refresh and retry", http.StatusConflict)
	case errors.Is(err, services.ErrTeamCartIntegrity):
		apiErr = httpx.NewError("team_cart_integrity", errorMessage(domainErr, err), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrTeamCartPaymentFailed):
		apiErr = httpx.NewError("payment_gateway_error", "payment gateway request failed", http.StatusBadGateway)
	case errors.Is(err, services.ErrTeamCartUnavailable):
		apiErr = httpx.NewError("team_cart_service_unavailable", "team cart service is unavailable", http.StatusServiceUnavailable)
	default:
		apiErr = httpx.NewError("team_cart_error", "team cart request failed", http.StatusInternalServerError)
	}
	httpx.WriteError(ctx, w, apiErr.WithDetails(details))
}

func errorMessage(domainErr *domain.Error, fallback error) string {
	if domainErr != nil && domainErr.Message != "" {
		return domainErr.Message
	}
	return fallback.Error()
}

func writeTeamCart(w http.ResponseWriter, status int, cart services.TeamCart, viewerID string) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("ETag", fmt.Sprintf("W/\"%s-%d\"", cart.ID, cart.Revision))
	writeJSONResponse(w, status, teamCartResponse{TeamCart: newTeamCartPayload(cart, viewerID)})
}

type moneyPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func newMoneyPayload(m domain.Money) moneyPayload {
	return moneyPayload{Amount: m.Amount.StringFixed(domain.CurrencyScale(m.Currency)), Currency: m.Currency}
}

type teamCartResponse struct {
	TeamCart teamCartPayload `json:"team_cart"`
}

type teamCartPayload struct {
	ID               string                  `json:"id"`
	RestaurantID     string                  `json:"restaurant_id"`
	HostUserID       string                  `json:"host_user_id"`
	ShareToken       string                  `json:"share_token,omitempty"`
	Currency         string                  `json:"currency"`
	Status           string                  `json:"status"`
	Items            []teamCartItemPayload   `json:"items"`
	Members          []teamCartMemberPayload `json:"members"`
	Payments         []memberPaymentPayload  `json:"payments"`
	MemberTotals     map[string]moneyPayload `json:"member_totals,omitempty"`
	QuoteVersion     int64                   `json:"quote_version"`
	Quote            *quotePayload           `json:"quote,omitempty"`
	QuoteStale       bool                    `json:"quote_stale"`
	AppliedCouponID  string                  `json:"applied_coupon_id,omitempty"`
	Tip              moneyPayload            `json:"tip"`
	ConvertedOrderID string                  `json:"converted_order_id,omitempty"`
	ExpiresAt        string                  `json:"expires_at"`
	CreatedAt        string                  `json:"created_at"`
	UpdatedAt        string                  `json:"updated_at"`
}

type teamCartItemPayload struct {
	ID             string                 `json:"id"`
	AddedByUserID  string                 `json:"added_by_user_id"`
	MenuItemID     string                 `json:"menu_item_id"`
	Name           string                 `json:"name"`
	Quantity       int                    `json:"quantity"`
	UnitPrice      moneyPayload           `json:"unit_price"`
	LineTotal      moneyPayload           `json:"line_total"`
	Customizations []customizationPayload `json:"customizations,omitempty"`
}

type customizationPayload struct {
	Group           string       `json:"group"`
	Choice          string       `json:"choice"`
	PriceAdjustment moneyPayload `json:"price_adjustment"`
}

type teamCartMemberPayload struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

type memberPaymentPayload struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Amount        moneyPayload `json:"amount"`
	Method        string       `json:"method"`
	Status        string       `json:"status"`
	TransactionID string       `json:"transaction_id,omitempty"`
	QuoteVersion  int64        `json:"quote_version"`
	Attempt       int          `json:"attempt"`
}

type quotePayload struct {
	Subtotal    moneyPayload `json:"subtotal"`
	Discount    moneyPayload `json:"discount"`
	DeliveryFee moneyPayload `json:"delivery_fee"`
	Tip         moneyPayload `json:"tip"`
	Tax         moneyPayload `json:"tax"`
	Total       moneyPayload `json:"total"`
	QuotedAt    string       `json:"quoted_at"`
}

// newTeamCartPayload renders a cart for viewerID. The share token is only shown to the host.
func newTeamCartPayload(cart services.TeamCart, viewerID string) teamCartPayload {
	payload := teamCartPayload{
		ID:               cart.ID,
		RestaurantID:     cart.RestaurantID,
		HostUserID:       cart.HostUserID,
		Currency:         cart.Currency,
		Status:           string(cart.Status),
		Items:            make([]teamCartItemPayload, 0, len(cart.Items)),
		Members:          make([]teamCartMemberPayload, 0, len(cart.Members)),
		Payments:         make([]memberPaymentPayload, 0, len(cart.MemberPayments)),
		QuoteVersion:     cart.QuoteVersion,
		QuoteStale:       cart.QuoteStale,
		AppliedCouponID:  cart.AppliedCouponID,
		Tip:              newMoneyPayload(cart.TipAmount),
		ConvertedOrderID: cart.ConvertedOrderID,
		ExpiresAt:        formatTime(cart.ExpiresAt),
		CreatedAt:        formatTime(cart.CreatedAt),
		UpdatedAt:        formatTime(cart.UpdatedAt),
	}
	if viewerID != "" && viewerID == cart.HostUserID {
		payload.ShareToken = cart.ShareToken
	}
	for _, item := range cart.Items {
		itemPayload := teamCartItemPayload{
			ID:            item.ID,
			AddedByUserID: item.AddedByUserID,
			MenuItemID:    item.MenuItemID,
			Name:          item.Name,
			Quantity:      item.Quantity,
			UnitPrice:     newMoneyPayload(item.UnitPrice()),
			LineTotal:     newMoneyPayload(item.LineItemTotal()),
		}
		for _, c := range item.Customizations {
			itemPayload.Customizations = append(itemPayload.Customizations, customizationPayload{
				Group:           c.GroupName,
				Choice:          c.ChoiceName,
				PriceAdjustment: newMoneyPayload(c.PriceAdjustment),
			})
		}
		payload.Items = append(payload.Items, itemPayload)
	}
	for _, m := range cart.Members {
		payload.Members = append(payload.Members, teamCartMemberPayload{
			ID:       m.ID,
			UserID:   m.UserID,
			Name:     m.Name,
			Role:     string(m.Role),
			JoinedAt: formatTime(m.JoinedAt),
		})
	}
	for _, p := range cart.MemberPayments {
		payload.Payments = append(payload.Payments, memberPaymentPayload{
			ID:            p.ID,
			UserID:        p.UserID,
			Amount:        newMoneyPayload(p.Amount),
			Method:        string(p.Method),
			Status:        string(p.Status),
			TransactionID: p.OnlineTransactionID,
			QuoteVersion:  p.QuoteVersion,
			Attempt:       p.Attempt,
		})
	}
	if len(cart.MemberTotals) > 0 {
		userIDs := make([]string, 0, len(cart.MemberTotals))
		for userID := range cart.MemberTotals {
			userIDs = append(userIDs, userID)
		}
		sort.Strings(userIDs)
		payload.MemberTotals = make(map[string]moneyPayload, len(userIDs))
		for _, userID := range userIDs {
			payload.MemberTotals[userID] = newMoneyPayload(cart.MemberTotals[userID])
		}
	}
	if q := cart.Quote; q != nil {
		payload.Quote = &quotePayload{
			Subtotal:    newMoneyPayload(q.Subtotal),
			Discount:    newMoneyPayload(q.Discount),
			DeliveryFee: newMoneyPayload(q.DeliveryFee),
			Tip:         newMoneyPayload(q.Tip),
			Tax:         newMoneyPayload(q.Tax),
			Total:       newMoneyPayload(q.Total),
			QuotedAt:    formatTime(q.QuotedAt),
		}
	}
	return payload
}

type onlinePaymentResponse struct {
	CartID       string       `json:"cart_id"`
	PaymentID    string       `json:"payment_id"`
	Provider     string       `json:"provider"`
	IntentID     string       `json:"intent_id"`
	ClientSecret string       `json:"client_secret"`
	Amount       moneyPayload `json:"amount"`
	QuoteVersion int64        `json:"quote_version"`
	Attempt      int          `json:"attempt"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderItemPayload struct {
	ID            string       `json:"id"`
	MenuItemID    string       `json:"menu_item_id"`
	Name          string       `json:"name"`
	AddedByUserID string       `json:"added_by_user_id"`
	Quantity      int          `json:"quantity"`
	UnitPrice     moneyPayload `json:"unit_price"`
	LineTotal     moneyPayload `json:"line_total"`
}

type paymentTransactionPayload struct {
	ID               string       `json:"id"`
	Method           string       `json:"method"`
	Amount           moneyPayload `json:"amount"`
	Status           string       `json:"status"`
	PaidByUserID     string       `json:"paid_by_user_id"`
	GatewayReference string       `json:"gateway_reference,omitempty"`
}

type orderPayload struct {
	ID                  string                      `json:"id"`
	CustomerID          string                      `json:"customer_id"`
	RestaurantID        string                      `json:"restaurant_id"`
	SourceTeamCartID    string                      `json:"source_team_cart_id"`
	Status              string                      `json:"status"`
	Items               []orderItemPayload          `json:"items"`
	Subtotal            moneyPayload                `json:"subtotal"`
	Discount            moneyPayload                `json:"discount"`
	DeliveryFee         moneyPayload                `json:"delivery_fee"`
	Tip                 moneyPayload                `json:"tip"`
	Tax                 moneyPayload                `json:"tax"`
	Total               moneyPayload                `json:"total"`
	AppliedCouponIDs    []string                    `json:"applied_coupon_ids,omitempty"`
	DeliveryAddress     deliveryAddressRequest      `json:"delivery_address"`
	SpecialInstructions string                      `json:"special_instructions,omitempty"`
	PaymentTransactions []paymentTransactionPayload `json:"payment_transactions"`
	PlacedAt            string                      `json:"placed_at"`
}

func newOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:               order.ID,
		CustomerID:       order.CustomerID,
		RestaurantID:     order.RestaurantID,
		SourceTeamCartID: order.SourceTeamCartID,
		Status:           string(order.Status),
		Items:            make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:         newMoneyPayload(order.Subtotal),
		Discount:         newMoneyPayload(order.Discount),
		DeliveryFee:      newMoneyPayload(order.DeliveryFee),
		Tip:              newMoneyPayload(order.Tip),
		Tax:              newMoneyPayload(order.Tax),
		Total:            newMoneyPayload(order.Total),
		AppliedCouponIDs: append([]string(nil), order.AppliedCouponIDs...),
		DeliveryAddress: deliveryAddressRequest{
			Street:  order.DeliveryAddress.Street,
			City:    order.DeliveryAddress.City,
			State:   order.DeliveryAddress.State,
			ZipCode: order.DeliveryAddress.ZipCode,
			Country: order.DeliveryAddress.Country,
		},
		SpecialInstructions: order.SpecialInstructions,
		PaymentTransactions: make([]paymentTransactionPayload, 0, len(order.PaymentTransactions)),
		PlacedAt:            formatTime(order.PlacedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:            item.ID,
			MenuItemID:    item.MenuItemID,
			Name:          item.Name,
			AddedByUserID: item.AddedByUserID,
			Quantity:      item.Quantity,
			UnitPrice:     newMoneyPayload(item.UnitPrice),
			LineTotal:     newMoneyPayload(item.LineTotal),
		})
	}
	for _, tx := range order.PaymentTransactions {
		payload.PaymentTransactions = append(payload.PaymentTransactions, paymentTransactionPayload{
			ID:               tx.ID,
			Method:           string(tx.Method),
			Amount:           newMoneyPayload(tx.Amount),
			Status:           string(tx.Status),
			PaidByUserID:     tx.PaidByUserID,
			GatewayReference: tx.GatewayReference,
		})
	}
	return payload
}
