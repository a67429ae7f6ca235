package responses

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: 400,
}

var InvoiceNotFoundError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "invoice not found",
	HttpStatusCode: 404,
}

var InvoiceNotCancelableError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "invoice can no longer be canceled",
	HttpStatusCode: 409,
}

var InvalidPaymentWindowError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "payment window must be between 30 and 1440 minutes",
	HttpStatusCode: 400,
}

var IncorrectNetworkError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "incorrect currency network",
	HttpStatusCode: 400,
}

var ProjectNotFoundError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "project not found",
	HttpStatusCode: 404,
}

var ConflictError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "concurrent update, please retry",
	HttpStatusCode: 409,
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if hub := sentryecho.GetHubFromContext(c); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("RequestID", c.Response().Header().Get(echo.HeaderXRequestID))
			hub.CaptureException(err)
		})
	}
	if he, ok := err.(*echo.HTTPError); ok {
		c.JSON(he.Code, he.Message)
	} else {
		c.JSON(http.StatusInternalServerError, GeneralServerError)
	}
}
