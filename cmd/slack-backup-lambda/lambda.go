package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
)

// Lambda predefined runtime environment variables
// ref: https://docs.aws.amazon.com/lambda/latest/dg/configuration-envvars.html#configuration-envvars-runtime
var (
	lambdaRegion = os.Getenv("AWS_REGION")
	lambdaName   = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
)

// The function is invoked by an EventBridge schedule rule.
func lambdaHandler(ctx context.Context, event events.CloudWatchEvent) (*backupResponse, error) {
	logger := slog.Default().With("function", lambdaName, "region", lambdaRegion)
	logger.Info("scheduled invocation", "rule", event.Resources, "time", event.Time)

	res, err := handler(ctx)
	if err != nil {
		logger.Error("an error occurred", "error", err.Error(), "function", "handler")
		return res, err
	}
	return res, nil
}
