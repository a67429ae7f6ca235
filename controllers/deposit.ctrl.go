package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/paygate-io/paygate/lib/responses"
	"github.com/paygate-io/paygate/lib/service"
)

// DepositController : Deposit controller struct
type DepositController struct {
	svc *service.GatewayService
}

func NewDepositController(svc *service.GatewayService) *DepositController {
	return &DepositController{svc: svc}
}

type ReconcileResponseBody struct {
	Outcome   string `json:"outcome"`
	TxHash    string `json:"tx_hash"`
	InvoiceID string `json:"invoice_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// IngestDeposit godoc
// @Summary      Ingest a chain deposit
// @Description  Accepts a deposit observation from a chain watcher and reconciles it. Safe to call repeatedly with the same tx hash.
// @Accept       json
// @Produce      json
// @Tags         Deposit
// @Param        DepositObservation  body      service.DepositObservation  True  "Deposit observation"
// @Success      200                 {object}  ReconcileResponseBody
// @Failure      400                 {object}  responses.ErrorResponse
// @Failure      500                 {object}  responses.ErrorResponse
// @Router       /v2/deposits [post]
func (controller *DepositController) IngestDeposit(c echo.Context) error {
	var obs service.DepositObservation

	if err := c.Bind(&obs); err != nil {
		c.Logger().Errorf("Failed to load deposit observation: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := c.Validate(&obs); err != nil {
		c.Logger().Errorf("Invalid deposit observation: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	outcome, err := controller.svc.Reconcile(c.Request().Context(), obs)
	if err != nil {
		c.Logger().Errorf("Failed to reconcile deposit tx:%s %v", obs.TxHash, err)
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}

	response := &ReconcileResponseBody{
		Outcome: outcome.Outcome,
		TxHash:  obs.TxHash,
	}
	if outcome.Invoice != nil {
		response.InvoiceID = outcome.Invoice.PublicID
		response.Status = outcome.Invoice.Status
	}
	return c.JSON(http.StatusOK, response)
}
