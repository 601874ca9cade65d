package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
)

// LambdaInvoker serves the router from a Lambda function. API Gateway proxy
// requests are passed through; any other payload is treated as an order
// submission invoked directly and answered in the same response shape.
type LambdaInvoker struct {
	adapter *ginadapter.GinLambda
}

func NewLambdaInvoker(r *gin.Engine) *LambdaInvoker {
	return &LambdaInvoker{adapter: ginadapter.New(r)}
}

func (l *LambdaInvoker) Invoke(ctx context.Context, payload json.RawMessage) (events.APIGatewayProxyResponse, error) {
	return l.adapter.ProxyWithContext(ctx, toProxyRequest(payload))
}

func toProxyRequest(payload json.RawMessage) events.APIGatewayProxyRequest {
	var probe struct {
		HTTPMethod string  `json:"httpMethod"`
		Body       *string `json:"body"`
	}
	_ = json.Unmarshal(payload, &probe)

	if probe.HTTPMethod != "" {
		var req events.APIGatewayProxyRequest
		if err := json.Unmarshal(payload, &req); err == nil {
			return req
		}
	}

	body := string(payload)
	if probe.Body != nil {
		body = *probe.Body
	}
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/orders",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}
