package main

import (
	"github.com/labstack/echo/v4"
	"github.com/paygate-io/paygate/controllers"
	"github.com/paygate-io/paygate/lib/service"
)

func RegisterV2Endpoints(svc *service.GatewayService, e *echo.Echo, strictRateLimitMiddleware echo.MiddlewareFunc, logMw echo.MiddlewareFunc) {
	e.GET("/v2/health", controllers.NewHealthController().Check)

	invoiceCtrl := controllers.NewInvoiceController(svc)
	e.POST("/v2/invoices", invoiceCtrl.CreateInvoice, strictRateLimitMiddleware, logMw)
	e.GET("/v2/invoices/:id", invoiceCtrl.GetInvoice, logMw)
	e.POST("/v2/invoices/:id/payment-option", invoiceCtrl.SelectPaymentOption, logMw)
	e.POST("/v2/invoices/:id/cancel", invoiceCtrl.CancelInvoice, logMw)

	// chain watchers push deposit observations here unless the rabbitmq
	// consumer is the sole ingestion path
	if svc.Config.DepositConsumerType != "rabbitmq" {
		e.POST("/v2/deposits", controllers.NewDepositController(svc).IngestDeposit, logMw)
	}
}
