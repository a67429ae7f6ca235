package controllers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/lib/responses"
	"github.com/paygate-io/paygate/lib/service"
	"github.com/shopspring/decimal"
)

// InvoiceController : Invoice controller struct
type InvoiceController struct {
	svc *service.GatewayService
}

func NewInvoiceController(svc *service.GatewayService) *InvoiceController {
	return &InvoiceController{svc: svc}
}

type CreateInvoiceRequestBody struct {
	ProjectID            int64                  `json:"project_id" validate:"required"`
	Amount               decimal.Decimal        `json:"amount" validate:"required"`
	Currency             string                 `json:"currency" validate:"required"`
	AmountUSD            decimal.Decimal        `json:"amount_usd"`
	PaymentWindowMinutes int64                  `json:"payment_window_minutes" validate:"required,gte=30,lte=1440"`
	EmailRequired        bool                   `json:"email_required"`
	TestMode             bool                   `json:"test_mode"`
	ExternalOrderID      string                 `json:"external_order_id"`
	Metadata             map[string]interface{} `json:"metadata"`
}

type InvoiceResponseBody struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	PaidAmount      string    `json:"paid_amount"`
	CreditedAmount  string    `json:"credited_amount"`
	ExpiryDate      time.Time `json:"expiry_date"`
	ExternalOrderID string    `json:"external_order_id,omitempty"`
	TxHashes        []string  `json:"tx_hashes,omitempty"`
	PaymentAddress  string    `json:"payment_address,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateInvoice godoc
// @Summary      Create an invoice
// @Description  Opens a payable request with a payment window of 30 to 1440 minutes
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        CreateInvoiceRequestBody  body      CreateInvoiceRequestBody  True  "Create Invoice"
// @Success      200                       {object}  InvoiceResponseBody
// @Failure      400                       {object}  responses.ErrorResponse
// @Failure      500                       {object}  responses.ErrorResponse
// @Router       /v2/invoices [post]
func (controller *InvoiceController) CreateInvoice(c echo.Context) error {
	var body CreateInvoiceRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load create invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid create invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.InvalidPaymentWindowError)
	}

	invoice, err := controller.svc.CreateInvoice(c.Request().Context(), service.CreateInvoiceParams{
		ProjectID:            body.ProjectID,
		Amount:               body.Amount,
		Currency:             body.Currency,
		AmountUSD:            body.AmountUSD,
		PaymentWindowMinutes: body.PaymentWindowMinutes,
		EmailRequired:        body.EmailRequired,
		TestMode:             body.TestMode,
		ExternalOrderID:      body.ExternalOrderID,
		Metadata:             body.Metadata,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, responses.ProjectNotFoundError)
		}
		c.Logger().Errorf("Failed to create invoice: %v", err)
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}

	return c.JSON(http.StatusOK, &InvoiceResponseBody{
		ID:              invoice.PublicID,
		Status:          invoice.Status,
		Amount:          invoice.Amount.String(),
		Currency:        invoice.Currency,
		PaidAmount:      invoice.PaidAmount.String(),
		CreditedAmount:  invoice.CreditedAmount.String(),
		ExpiryDate:      invoice.ExpiryDate,
		ExternalOrderID: invoice.ExternalOrderID,
		TxHashes:        invoice.TxHashes,
		CreatedAt:       invoice.CreatedAt,
	})
}

// GetInvoice godoc
// @Summary      Retrieve an invoice
// @Description  Returns the invoice in its current settlement state
// @Produce      json
// @Tags         Invoice
// @Param        id   path      string  true  "Invoice public id"
// @Success      200  {object}  InvoiceResponseBody
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id} [get]
func (controller *InvoiceController) GetInvoice(c echo.Context) error {
	ctx := c.Request().Context()

	invoice, err := controller.svc.FindInvoiceByPublicId(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, responses.InvoiceNotFoundError)
		}
		return err
	}

	wallet, err := controller.svc.AssignedWallet(ctx, invoice)
	if err != nil {
		return err
	}

	response := &InvoiceResponseBody{
		ID:              invoice.PublicID,
		Status:          invoice.Status,
		Amount:          invoice.Amount.String(),
		Currency:        invoice.Currency,
		PaidAmount:      invoice.PaidAmount.String(),
		CreditedAmount:  invoice.CreditedAmount.String(),
		ExpiryDate:      invoice.ExpiryDate,
		ExternalOrderID: invoice.ExternalOrderID,
		TxHashes:        invoice.TxHashes,
		CreatedAt:       invoice.CreatedAt,
	}
	if wallet != nil {
		response.PaymentAddress = wallet.Address
	}
	return c.JSON(http.StatusOK, response)
}

type SelectPaymentOptionRequestBody struct {
	Currency string `json:"currency" validate:"required"`
	Network  string `json:"network" validate:"required"`
}

// SelectPaymentOption godoc
// @Summary      Pick the payment currency
// @Description  Fixes the currency-network pair and returns the deposit address
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        id                              path      string                          true  "Invoice public id"
// @Param        SelectPaymentOptionRequestBody  body      SelectPaymentOptionRequestBody  True  "Payment option"
// @Success      200                             {object}  InvoiceResponseBody
// @Failure      400                             {object}  responses.ErrorResponse
// @Failure      404                             {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id}/payment-option [post]
func (controller *InvoiceController) SelectPaymentOption(c echo.Context) error {
	ctx := c.Request().Context()

	var body SelectPaymentOptionRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	invoice, err := controller.svc.FindInvoiceByPublicId(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, responses.InvoiceNotFoundError)
		}
		return err
	}

	pair, err := controller.svc.FindActiveCurrencyNetwork(ctx, body.Currency, body.Network)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusBadRequest, responses.IncorrectNetworkError)
		}
		return err
	}

	wallet, err := controller.svc.SelectPaymentOption(ctx, invoice, pair.ID)
	if err != nil {
		if errors.Is(err, service.ErrStaleState) {
			return c.JSON(http.StatusConflict, responses.ConflictError)
		}
		c.Logger().Errorf("Failed to select payment option invoice:%s %v", invoice.PublicID, err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	return c.JSON(http.StatusOK, &InvoiceResponseBody{
		ID:             invoice.PublicID,
		Status:         invoice.Status,
		Amount:         invoice.Amount.String(),
		Currency:       invoice.Currency,
		PaidAmount:     invoice.PaidAmount.String(),
		CreditedAmount: invoice.CreditedAmount.String(),
		ExpiryDate:     invoice.ExpiryDate,
		PaymentAddress: wallet.Address,
		CreatedAt:      invoice.CreatedAt,
	})
}

// CancelInvoice godoc
// @Summary      Cancel an invoice
// @Description  Cancels an invoice that has not received any payment yet
// @Produce      json
// @Tags         Invoice
// @Param        id   path      string  true  "Invoice public id"
// @Success      200  {object}  InvoiceResponseBody
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id}/cancel [post]
func (controller *InvoiceController) CancelInvoice(c echo.Context) error {
	ctx := c.Request().Context()

	invoice, err := controller.svc.FindInvoiceByPublicId(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, responses.InvoiceNotFoundError)
		}
		return err
	}

	if invoice.Status != common.InvoiceStatusCreated || invoice.PaidAmount.Sign() > 0 {
		return c.JSON(http.StatusConflict, responses.InvoiceNotCancelableError)
	}

	if err := controller.svc.CancelInvoice(ctx, invoice, common.ActorManual); err != nil {
		if errors.Is(err, service.ErrStaleState) {
			return c.JSON(http.StatusConflict, responses.ConflictError)
		}
		c.Logger().Errorf("Failed to cancel invoice:%s %v", invoice.PublicID, err)
		return c.JSON(http.StatusConflict, responses.InvoiceNotCancelableError)
	}

	return c.JSON(http.StatusOK, &InvoiceResponseBody{
		ID:        invoice.PublicID,
		Status:    invoice.Status,
		Amount:    invoice.Amount.String(),
		Currency:  invoice.Currency,
		CreatedAt: invoice.CreatedAt,
	})
}
