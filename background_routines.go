package main

import (
	"context"
	"fmt"

	"github.com/paygate-io/paygate/lib/service"
	"github.com/paygate-io/paygate/rabbitmq"
)

func StartDepositRoutine(svc *service.GatewayService, rabbitmqClient rabbitmq.Client, backGroundCtx context.Context) (err error) {
	switch svc.Config.DepositConsumerType {
	case "rabbitmq", "both":
		if rabbitmqClient == nil {
			return fmt.Errorf("deposit consumer type %s requires a rabbitmq connection", svc.Config.DepositConsumerType)
		}
		err = rabbitmqClient.SubscribeToDeposits(backGroundCtx, svc.Reconcile)
		if err != nil && err != context.Canceled {
			return err
		}

	case "http":
		// observations arrive through the HTTP ingest endpoint only

	default:
		return fmt.Errorf("Unrecognized deposit consumer type %s", svc.Config.DepositConsumerType)
	}
	return nil
}
