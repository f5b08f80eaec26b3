package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/payments"
	"github.com/groupdine/api/internal/platform/textutil"
	"github.com/groupdine/api/internal/repositories"
)

var (
	errTeamCartRepositoryRequired = errors.New("team cart service: repository is required")
	errTeamCartClockRequired      = errors.New("team cart service: clock is required")
	errTeamCartFinancialRequired  = errors.New("team cart service: financial service is required")
)

const (
	defaultTeamCartTTL        = 2 * time.Hour
	defaultTeamCartMaxMembers = 20
	defaultMutationAttempts   = 3

	maxMemberNameLength          = 80
	maxSpecialInstructionsLength = 500
)

// PaymentGateway creates and cancels payment intents. payments.Manager satisfies it.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CancelRequest) (payments.PaymentDetails, error)
}

// TeamCartSettings carries the pricing and lifecycle knobs of team carts.
type TeamCartSettings struct {
	DefaultCurrency string
	TTL             time.Duration
	DeliveryFee     decimal.Decimal
	TaxRate         decimal.Decimal
	MaxMembers      int
	// PaymentProvider is the preferred gateway key; empty lets the gateway route by currency.
	PaymentProvider string
}

// TeamCartServiceDeps wires repositories, collaborators and settings for team cart commands.
type TeamCartServiceDeps struct {
	Repository     repositories.TeamCartRepository
	Coupons        repositories.CouponRepository
	CouponUsage    repositories.CouponUsageRepository
	Menu           repositories.MenuRepository
	Financial      OrderFinancialService
	Conversion     *TeamCartConversion
	Payments       PaymentGateway
	Events         TeamCartEventPublisher
	Settings       TeamCartSettings
	Clock          func() time.Time
	Logger         func(context.Context, string, map[string]any)
	IDGenerator    func() string
	TokenGenerator func() string
	// MutationAttempts bounds retries after revision conflicts. Defaults to 3.
	MutationAttempts int
}

type teamCartService struct {
	cartWriter
	coupons    repositories.CouponRepository
	usage      repositories.CouponUsageRepository
	menu       repositories.MenuRepository
	financial  OrderFinancialService
	conversion *TeamCartConversion
	payments   PaymentGateway
	settings   TeamCartSettings
	newID      func() string
	newToken   func() string
}

var _ TeamCartService = (*teamCartService)(nil)

// CreateTeamCartCommand opens a cart hosted by UserID.
type CreateTeamCartCommand struct {
	UserID       string
	HostName     string
	RestaurantID string
	Currency     string
}

// JoinTeamCartCommand adds a guest through the cart's share token.
type JoinTeamCartCommand struct {
	CartID     string
	UserID     string
	Name       string
	ShareToken string
}

// CustomizationSelection picks one catalog choice for an item.
type CustomizationSelection struct {
	GroupID  string
	ChoiceID string
}

// AddTeamCartItemCommand adds a catalog item for the calling member.
type AddTeamCartItemCommand struct {
	CartID         string
	UserID         string
	MenuItemID     string
	Quantity       int
	Customizations []CustomizationSelection
}

// UpdateTeamCartItemCommand changes the quantity of the caller's own item.
type UpdateTeamCartItemCommand struct {
	CartID   string
	UserID   string
	ItemID   string
	Quantity int
}

// RemoveTeamCartItemCommand removes an item.
type RemoveTeamCartItemCommand struct {
	CartID string
	UserID string
	ItemID string
}

// ApplyTipCommand sets the tip in the cart currency.
type ApplyTipCommand struct {
	CartID string
	UserID string
	Amount decimal.Decimal
}

// ApplyCouponCommand applies a coupon by its customer facing code.
type ApplyCouponCommand struct {
	CartID string
	UserID string
	Code   string
}

// ConvertTeamCartCommand turns a ReadyToConfirm cart into an order.
type ConvertTeamCartCommand struct {
	CartID              string
	UserID              string
	DeliveryAddress     DeliveryAddress
	SpecialInstructions string
}

// OnlinePaymentSession is returned to the client so it can confirm the intent with the gateway.
type OnlinePaymentSession struct {
	CartID       string
	UserID       string
	PaymentID    string
	Provider     string
	IntentID     string
	ClientSecret string
	Amount       Money
	QuoteVersion int64
	Attempt      int
}

// NewTeamCartService constructs the team cart command service.
func NewTeamCartService(deps TeamCartServiceDeps) (TeamCartService, error) {
	if deps.Repository == nil {
		return nil, errTeamCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errTeamCartClockRequired
	}
	if deps.Financial == nil {
		return nil, errTeamCartFinancialRequired
	}

	settings := deps.Settings
	if settings.TTL <= 0 {
		settings.TTL = defaultTeamCartTTL
	}
	if settings.MaxMembers <= 0 {
		settings.MaxMembers = defaultTeamCartMaxMembers
	}
	if strings.TrimSpace(settings.DefaultCurrency) == "" {
		settings.DefaultCurrency = domain.DefaultCurrency
	}
	if settings.TaxRate.IsNegative() || settings.DeliveryFee.IsNegative() {
		return nil, fmt.Errorf("team cart service: delivery fee and tax rate must not be negative")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	tokenGen := deps.TokenGenerator
	if tokenGen == nil {
		tokenGen = func() string { return strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String()) }
	}
	attempts := deps.MutationAttempts
	if attempts <= 0 {
		attempts = defaultMutationAttempts
	}

	conversion := deps.Conversion
	if conversion == nil {
		c, err := NewTeamCartConversion(TeamCartConversionDeps{Financial: deps.Financial, IDGenerator: idGen})
		if err != nil {
			return nil, err
		}
		conversion = c
	}

	return &teamCartService{
		cartWriter: cartWriter{
			repo:     deps.Repository,
			events:   deps.Events,
			now:      func() time.Time { return deps.Clock().UTC() },
			logger:   logger,
			attempts: attempts,
		},
		coupons:    deps.Coupons,
		usage:      deps.CouponUsage,
		menu:       deps.Menu,
		financial:  deps.Financial,
		conversion: conversion,
		payments:   deps.Payments,
		settings:   settings,
		newID:      idGen,
		newToken:   tokenGen,
	}, nil
}

func (s *teamCartService) CreateTeamCart(ctx context.Context, cmd CreateTeamCartCommand) (TeamCart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	restaurantID := strings.TrimSpace(cmd.RestaurantID)
	if userID == "" || restaurantID == "" {
		return TeamCart{}, fmt.Errorf("%w: user and restaurant are required", ErrTeamCartInvalidInput)
	}
	currency := strings.TrimSpace(cmd.Currency)
	if currency == "" {
		currency = s.settings.DefaultCurrency
	}

	now := s.now()
	cart, events, err := domain.NewTeamCart(domain.NewTeamCartParams{
		ID:           s.newID(),
		RestaurantID: restaurantID,
		HostUserID:   userID,
		HostMemberID: s.newID(),
		HostName:     textutil.PlainText(cmd.HostName, maxMemberNameLength),
		ShareToken:   s.newToken(),
		Currency:     currency,
		ExpiresAt:    now.Add(s.settings.TTL),
		Now:          now,
	})
	if err != nil {
		return TeamCart{}, translateDomainError(err)
	}

	saved, err := s.repo.Insert(ctx, cart)
	if err != nil {
		return TeamCart{}, translateRepoError(err)
	}
	s.logger(ctx, "teamcart.created", map[string]any{
		"cartId":       saved.ID,
		"restaurantId": saved.RestaurantID,
		"hostUserId":   saved.HostUserID,
		"expiresAt":    saved.ExpiresAt,
	})
	s.publish(ctx, events)
	return saved, nil
}

func (s *teamCartService) GetTeamCart(ctx context.Context, cartID string, userID string) (TeamCart, error) {
	cart, err := s.load(ctx, cartID)
	if err != nil {
		return TeamCart{}, err
	}
	if !cart.IsMember(strings.TrimSpace(userID)) {
		return TeamCart{}, translateDomainError(domain.ErrNotMember)
	}
	return cart, nil
}

func (s *teamCartService) JoinTeamCart(ctx context.Context, cmd JoinTeamCartCommand) (TeamCart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return TeamCart{}, fmt.Errorf("%w: user is required", ErrTeamCartInvalidInput)
	}
	name := textutil.PlainText(cmd.Name, maxMemberNameLength)
	token := strings.TrimSpace(cmd.ShareToken)
	memberID := s.newID()

	return s.mutate(ctx, cmd.CartID, "teamcart.member_joined", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		if cart.IsMember(userID) {
			return nil, nil
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cart.ShareToken)) != 1 {
			return nil, fmt.Errorf("%w: share token does not match", ErrTeamCartForbidden)
		}
		return cart.AddMember(memberID, userID, name, s.settings.MaxMembers, now)
	})
}

func (s *teamCartService) AddItem(ctx context.Context, cmd AddTeamCartItemCommand) (TeamCart, error) {
	if s.menu == nil {
		return TeamCart{}, fmt.Errorf("%w: menu repository not configured", ErrTeamCartUnavailable)
	}
	userID := strings.TrimSpace(cmd.UserID)
	menuItemID := strings.TrimSpace(cmd.MenuItemID)
	if userID == "" || menuItemID == "" {
		return TeamCart{}, fmt.Errorf("%w: user and menu item are required", ErrTeamCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return TeamCart{}, translateDomainError(domain.ErrInvalidQuantity)
	}

	current, err := s.load(ctx, cmd.CartID)
	if err != nil {
		return TeamCart{}, err
	}
	menuItem, err := s.menu.FindMenuItem(ctx, current.RestaurantID, menuItemID)
	if err != nil {
		if isRepoNotFound(err) {
			return TeamCart{}, fmt.Errorf("%w: menu item %s", ErrTeamCartNotFound, menuItemID)
		}
		return TeamCart{}, translateRepoError(err)
	}
	customizations, err := resolveCustomizations(menuItem, cmd.Customizations)
	if err != nil {
		return TeamCart{}, err
	}

	item, err := domain.NewCartItem(domain.NewCartItemParams{
		ID:             s.newID(),
		AddedByUserID:  userID,
		MenuItemID:     menuItem.ID,
		MenuCategoryID: menuItem.CategoryID,
		Name:           textutil.PlainText(menuItem.Name, 0),
		BasePrice:      menuItem.Price,
		Quantity:       cmd.Quantity,
		Customizations: customizations,
		AddedAt:        s.now(),
	})
	if err != nil {
		return TeamCart{}, translateDomainError(err)
	}

	return s.mutate(ctx, cmd.CartID, "teamcart.item_added", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		return cart.AddItem(item, now)
	})
}

func (s *teamCartService) UpdateItemQuantity(ctx context.Context, cmd UpdateTeamCartItemCommand) (TeamCart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	return s.mutate(ctx, cmd.CartID, "teamcart.item_quantity_updated", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		return cart.UpdateItemQuantity(userID, itemID, cmd.Quantity, now)
	})
}

func (s *teamCartService) RemoveItem(ctx context.Context, cmd RemoveTeamCartItemCommand) (TeamCart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	return s.mutate(ctx, cmd.CartID, "teamcart.item_removed", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		return cart.RemoveItem(userID, itemID, now)
	})
}

func (s *teamCartService) LockTeamCart(ctx context.Context, cartID string, userID string) (TeamCart, error) {
	uid := strings.TrimSpace(userID)
	return s.mutate(ctx, cartID, "teamcart.locked", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		return cart.Lock(uid, now)
	})
}

func (s *teamCartService) ApplyTip(ctx context.Context, cmd ApplyTipCommand) (TeamCart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	return s.mutate(ctx, cmd.CartID, "teamcart.tip_applied", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		tip, err := domain.NewMoney(cmd.Amount, cart.Currency)
		if err != nil {
			return nil, err
		}
		events, err := cart.ApplyTip(uid, tip, now)
		if err != nil || len(events) == 0 {
			return events, err
		}
		return s.requote(ctx, cart, uid, events, now)
	})
}

func (s *teamCartService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (TeamCart, error) {
	if s.coupons == nil {
		return TeamCart{}, fmt.Errorf("%w: coupon repository not configured", ErrTeamCartUnavailable)
	}
	uid := strings.TrimSpace(cmd.UserID)
	code := domain.NormalizeCouponCode(cmd.Code)
	if code == "" {
		return TeamCart{}, fmt.Errorf("%w: coupon code is required", ErrTeamCartInvalidInput)
	}

	current, err := s.load(ctx, cmd.CartID)
	if err != nil {
		return TeamCart{}, err
	}
	coupon, err := s.coupons.FindByCode(ctx, code, current.RestaurantID)
	if err != nil {
		if isRepoNotFound(err) {
			return TeamCart{}, translateDomainError(domain.ErrCouponNotApplicable.WithMessage(fmt.Sprintf("coupon %s not found", code)))
		}
		return TeamCart{}, translateRepoError(err)
	}
	if err := s.screenCoupon(ctx, current, coupon); err != nil {
		return TeamCart{}, err
	}

	return s.mutate(ctx, cmd.CartID, "teamcart.coupon_applied", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		events, err := cart.ApplyCoupon(uid, coupon.ID, now)
		if err != nil || len(events) == 0 {
			return events, err
		}
		return s.requote(ctx, cart, uid, events, now)
	})
}

func (s *teamCartService) RemoveCoupon(ctx context.Context, cartID string, userID string) (TeamCart, error) {
	uid := strings.TrimSpace(userID)
	return s.mutate(ctx, cartID, "teamcart.coupon_removed", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		events, err := cart.RemoveCoupon(uid, now)
		if err != nil || len(events) == 0 {
			return events, err
		}
		return s.requote(ctx, cart, uid, events, now)
	})
}

func (s *teamCartService) FinalizePricing(ctx context.Context, cartID string, userID string) (TeamCart, error) {
	uid := strings.TrimSpace(userID)
	return s.mutate(ctx, cartID, "teamcart.pricing_finalized", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		if cart.Status != domain.TeamCartLocked && cart.Status != domain.TeamCartFinalized {
			return cart.Finalize(uid, false, domain.Quote{}, now)
		}
		quote, err := s.quote(ctx, cart, now)
		if err != nil {
			return nil, err
		}
		return cart.Finalize(uid, false, quote, now)
	})
}

func (s *teamCartService) CommitToCashOnDelivery(ctx context.Context, cartID string, userID string) (TeamCart, error) {
	uid := strings.TrimSpace(userID)
	paymentID := s.newID()
	return s.mutate(ctx, cartID, "teamcart.member_committed_cod", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		return cart.CommitToCashOnDelivery(paymentID, uid, now)
	})
}

func (s *teamCartService) InitiateOnlinePayment(ctx context.Context, cartID string, userID string) (OnlinePaymentSession, error) {
	if s.payments == nil {
		return OnlinePaymentSession{}, fmt.Errorf("%w: payment gateway not configured", ErrTeamCartUnavailable)
	}
	uid := strings.TrimSpace(userID)
	cart, err := s.load(ctx, cartID)
	if err != nil {
		return OnlinePaymentSession{}, err
	}

	share, err := cart.MemberShare(uid)
	if err != nil {
		return OnlinePaymentSession{}, translateDomainError(err)
	}
	attempt, pendingIntent := cart.NextPaymentAttempt(uid)
	paymentID := pendingPaymentID(cart, pendingIntent)
	if paymentID == "" {
		paymentID = s.newID()
	}

	// Dry-run the recording so an intent is never created for a cart that would reject it.
	dryRun := cart.Clone()
	dryRunIntent := pendingIntent
	if dryRunIntent == "" {
		dryRunIntent = "pending"
	}
	if _, err := dryRun.RecordOnlinePaymentIntent(paymentID, uid, dryRunIntent, cart.QuoteVersion, s.now()); err != nil {
		return OnlinePaymentSession{}, translateDomainError(err)
	}

	quoteVersion := cart.QuoteVersion
	paymentCtx := payments.PaymentContext{PreferredProvider: s.settings.PaymentProvider, Currency: cart.Currency}
	intent, err := s.payments.CreatePaymentIntent(ctx, paymentCtx, payments.IntentRequest{
		Amount:      share.MinorUnits(),
		Currency:    cart.Currency,
		CustomerID:  uid,
		Description: fmt.Sprintf("Team cart %s", cart.ID),
		Metadata: payments.TeamCartMetadata{
			CartID:           cart.ID,
			MemberUserID:     uid,
			QuoteVersion:     quoteVersion,
			QuotedMinorUnits: share.MinorUnits(),
			PaymentID:        paymentID,
		}.Encode(),
		IdempotencyKey: fmt.Sprintf("teamcart:%s:%s:q%d:a%d", cart.ID, uid, quoteVersion, attempt),
	})
	if err != nil {
		s.logger(ctx, "teamcart.payment_intent_failed", map[string]any{
			"cartId": cart.ID,
			"userId": uid,
			"error":  err.Error(),
		})
		return OnlinePaymentSession{}, fmt.Errorf("%w: %v", ErrTeamCartPaymentFailed, err)
	}

	_, err = s.mutate(ctx, cart.ID, "teamcart.online_payment_initiated", func(c *TeamCart, now time.Time) ([]domain.Event, error) {
		return c.RecordOnlinePaymentIntent(paymentID, uid, intent.ID, quoteVersion, now)
	})
	if err != nil {
		if intent.ID != pendingIntent && !s.intentRecorded(ctx, cart.ID, intent.ID) {
			s.cancelIntent(ctx, paymentCtx, intent.ID, cart.ID)
		}
		if errors.Is(err, domain.ErrQuoteVersionMismatch) {
			return OnlinePaymentSession{}, fmt.Errorf("%w: %w", ErrTeamCartConflict, err)
		}
		return OnlinePaymentSession{}, err
	}

	return OnlinePaymentSession{
		CartID:       cart.ID,
		UserID:       uid,
		PaymentID:    paymentID,
		Provider:     intent.Provider,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       share,
		QuoteVersion: quoteVersion,
		Attempt:      attempt,
	}, nil
}

func (s *teamCartService) ConvertToOrder(ctx context.Context, cmd ConvertTeamCartCommand) (Order, error) {
	uid := strings.TrimSpace(cmd.UserID)
	address := DeliveryAddress{
		Street:  textutil.PlainText(cmd.DeliveryAddress.Street, 200),
		City:    textutil.PlainText(cmd.DeliveryAddress.City, 100),
		State:   textutil.PlainText(cmd.DeliveryAddress.State, 100),
		ZipCode: textutil.PlainText(cmd.DeliveryAddress.ZipCode, 20),
		Country: textutil.PlainText(cmd.DeliveryAddress.Country, 100),
	}
	instructions := textutil.PlainText(cmd.SpecialInstructions, maxSpecialInstructionsLength)

	for attempt := 0; attempt < s.attempts; attempt++ {
		cart, err := s.load(ctx, cmd.CartID)
		if err != nil {
			return Order{}, err
		}
		if !cart.IsHost(uid) {
			if !cart.IsMember(uid) {
				return Order{}, translateDomainError(domain.ErrNotMember)
			}
			return Order{}, translateDomainError(domain.ErrNotHost)
		}

		input, err := s.conversionInput(ctx, cart, address, instructions)
		if err != nil {
			return Order{}, err
		}
		result, err := s.conversion.Convert(input)
		if err != nil {
			s.logger(ctx, "teamcart.conversion_failed", map[string]any{
				"cartId":       cart.ID,
				"status":       string(cart.Status),
				"quoteVersion": cart.QuoteVersion,
				"error":        err.Error(),
			})
			return Order{}, translateDomainError(err)
		}

		if _, err := s.repo.SaveConversion(ctx, result.Cart, cart.Revision, result.Order, result.Redemption); err != nil {
			if isRepoConflict(err) {
				continue
			}
			s.logger(ctx, "teamcart.conversion_failed", map[string]any{
				"cartId": cart.ID,
				"error":  err.Error(),
			})
			return Order{}, translateRepoError(err)
		}

		s.logger(ctx, "teamcart.converted", map[string]any{
			"cartId":           cart.ID,
			"orderId":          result.Order.ID,
			"total":            result.Order.Total.String(),
			"transactions":     len(result.Order.PaymentTransactions),
			"adjustmentFactor": result.AdjustmentFactor.String(),
		})
		s.publish(ctx, result.Events)
		return result.Order, nil
	}
	return Order{}, ErrTeamCartConflict
}

func (s *teamCartService) conversionInput(ctx context.Context, cart TeamCart, address DeliveryAddress, instructions string) (ConversionInput, error) {
	input := ConversionInput{
		Cart:                cart,
		DeliveryAddress:     address,
		SpecialInstructions: instructions,
		DeliveryFee:         s.deliveryFee(cart.Currency),
		Tax:                 domain.Zero(cart.Currency),
		Now:                 s.now(),
	}
	if cart.Quote != nil {
		input.DeliveryFee = cart.Quote.DeliveryFee
		input.Tax = cart.Quote.Tax
	}
	if cart.AppliedCouponID == "" || s.coupons == nil {
		return input, nil
	}

	coupon, err := s.coupons.FindByID(ctx, cart.AppliedCouponID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "teamcart.coupon_missing", map[string]any{
				"cartId":   cart.ID,
				"couponId": cart.AppliedCouponID,
			})
			return input, nil
		}
		return ConversionInput{}, translateRepoError(err)
	}
	input.Coupon = &coupon
	if s.usage != nil {
		count, err := s.usage.CountByUser(ctx, coupon.ID, cart.HostUserID)
		if err != nil {
			return ConversionInput{}, translateRepoError(err)
		}
		input.CouponUsageCount = count
	}
	return input, nil
}

// requote re-finalises a finalized cart after a financial edit so no stale quote stays payable.
func (s *teamCartService) requote(ctx context.Context, cart *TeamCart, actor string, events []domain.Event, now time.Time) ([]domain.Event, error) {
	if cart.Status != domain.TeamCartFinalized || !cart.QuoteStale {
		return events, nil
	}
	quote, err := s.quote(ctx, cart, now)
	if err != nil {
		return nil, err
	}
	finalized, err := cart.Finalize(actor, false, quote, now)
	if err != nil {
		return nil, err
	}
	return append(events, finalized...), nil
}

// quote prices the cart: tax is TaxRate × (subtotal - discount) rounded to the currency scale.
func (s *teamCartService) quote(ctx context.Context, cart *TeamCart, now time.Time) (domain.Quote, error) {
	subtotal, err := s.financial.CalculateSubtotal(cart.Items)
	if err != nil {
		return domain.Quote{}, err
	}
	if subtotal.Currency != cart.Currency {
		return domain.Quote{}, domain.ErrCurrencyMismatch.WithMessage(fmt.Sprintf("items priced in %s, cart uses %s", subtotal.Currency, cart.Currency))
	}

	discount := domain.Zero(cart.Currency)
	if cart.AppliedCouponID != "" {
		if s.coupons == nil {
			return domain.Quote{}, fmt.Errorf("%w: coupon repository not configured", ErrTeamCartUnavailable)
		}
		coupon, err := s.coupons.FindByID(ctx, cart.AppliedCouponID)
		if err != nil {
			if isRepoNotFound(err) {
				return domain.Quote{}, domain.ErrCouponMismatch.WithMessage("applied coupon no longer exists")
			}
			return domain.Quote{}, translateRepoError(err)
		}
		if discount, err = s.financial.ValidateAndCalculateDiscount(coupon, cart.Items, subtotal, now); err != nil {
			return domain.Quote{}, err
		}
	}

	taxable, err := subtotal.Sub(discount)
	if err != nil {
		return domain.Quote{}, err
	}
	tax := taxable.ClampZero().Mul(s.settings.TaxRate).Round()
	fee := s.deliveryFee(cart.Currency)

	total, err := s.financial.CalculateFinalTotal(subtotal, discount, fee, cart.TipAmount, tax)
	if err != nil {
		return domain.Quote{}, err
	}
	total = total.Round()
	return domain.Quote{
		Subtotal:    subtotal,
		Discount:    discount,
		DeliveryFee: fee,
		Tip:         cart.TipAmount,
		Tax:         tax,
		Total:       total,
	}, nil
}

func (s *teamCartService) deliveryFee(currency string) Money {
	return Money{Amount: s.settings.DeliveryFee, Currency: currency}.Round()
}

// screenCoupon rejects coupons that cannot apply before the cart is touched. Per-user limits
// are counted against the host, who places the order.
func (s *teamCartService) screenCoupon(ctx context.Context, cart TeamCart, coupon Coupon) error {
	if coupon.RestaurantID != "" && coupon.RestaurantID != cart.RestaurantID {
		return translateDomainError(domain.ErrCouponRestaurantScoped)
	}
	if coupon.TotalLimitReached() {
		return translateDomainError(domain.ErrCouponUsageLimit)
	}
	if s.usage != nil && coupon.PerUserUsageLimit > 0 {
		count, err := s.usage.CountByUser(ctx, coupon.ID, cart.HostUserID)
		if err != nil {
			return translateRepoError(err)
		}
		if coupon.UserLimitReached(count) {
			return translateDomainError(domain.ErrCouponUsageLimit)
		}
	}
	subtotal, err := s.financial.CalculateSubtotal(cart.Items)
	if err != nil {
		return translateDomainError(err)
	}
	if _, err := s.financial.ValidateAndCalculateDiscount(coupon, cart.Items, subtotal, s.now()); err != nil {
		return translateDomainError(err)
	}
	return nil
}

func (s *teamCartService) cancelIntent(ctx context.Context, paymentCtx payments.PaymentContext, intentID, cartID string) {
	if _, err := s.payments.CancelPaymentIntent(ctx, paymentCtx, payments.CancelRequest{
		IntentID:       intentID,
		Reason:         "abandoned",
		IdempotencyKey: "cancel:" + intentID,
	}); err != nil {
		s.logger(ctx, "teamcart.payment_intent_cancel_failed", map[string]any{
			"cartId":   cartID,
			"intentId": intentID,
			"error":    err.Error(),
		})
	}
}

// intentRecorded reports whether the intent already settled a payment on the stored cart, as
// happens when the gateway webhook beats the recording write.
func (s *teamCartService) intentRecorded(ctx context.Context, cartID, intentID string) bool {
	cart, err := s.load(ctx, cartID)
	if err != nil {
		return false
	}
	return pendingPaymentID(cart, intentID) != ""
}

func pendingPaymentID(cart TeamCart, intentID string) string {
	if intentID == "" {
		return ""
	}
	for _, p := range cart.MemberPayments {
		if p.OnlineTransactionID == intentID {
			return p.ID
		}
	}
	return ""
}

// resolveCustomizations prices the selected choices from the catalog and enforces each group's
// selection bounds.
func resolveCustomizations(item domain.MenuItem, selections []CustomizationSelection) ([]domain.CartItemCustomization, error) {
	if !item.Available {
		return nil, fmt.Errorf("%w: menu item %s is unavailable", ErrTeamCartInvalidInput, item.ID)
	}
	counts := make(map[string]int, len(item.CustomizationGroups))
	seen := make(map[string]struct{}, len(selections))
	out := make([]domain.CartItemCustomization, 0, len(selections))
	for _, sel := range selections {
		groupID := strings.TrimSpace(sel.GroupID)
		choiceID := strings.TrimSpace(sel.ChoiceID)
		group, choice, ok := item.Choice(groupID, choiceID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown customization %s/%s", ErrTeamCartInvalidInput, groupID, choiceID)
		}
		key := groupID + "/" + choiceID
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: customization %s selected twice", ErrTeamCartInvalidInput, key)
		}
		seen[key] = struct{}{}
		counts[groupID]++
		out = append(out, domain.CartItemCustomization{
			GroupName:       group.Name,
			ChoiceName:      choice.Name,
			PriceAdjustment: choice.PriceAdjustment,
		})
	}
	for _, group := range item.CustomizationGroups {
		n := counts[group.ID]
		if n < group.MinSelect || (group.MaxSelect > 0 && n > group.MaxSelect) {
			return nil, fmt.Errorf("%w: group %s requires between %d and %d choices", ErrTeamCartInvalidInput, group.Name, group.MinSelect, group.MaxSelect)
		}
	}
	return out, nil
}
