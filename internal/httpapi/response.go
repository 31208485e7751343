package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

func JSON(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(b),
	}, nil
}

func OK(v any) (events.APIGatewayV2HTTPResponse, error) {
	return JSON(http.StatusOK, v)
}

// Error writes {"error": msg} and, when err is set, its text as "detail".
func Error(status int, msg string, err error) (events.APIGatewayV2HTTPResponse, error) {
	resp := map[string]any{"error": msg}
	if err != nil {
		resp["detail"] = err.Error()
	}
	return JSON(status, resp)
}

func Method(req events.APIGatewayV2HTTPRequest) string {
	return strings.ToUpper(req.RequestContext.HTTP.Method)
}

// Query returns the first non-blank value among the given query parameter names.
func Query(req events.APIGatewayV2HTTPRequest, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(req.QueryStringParameters[n]); v != "" {
			return v
		}
	}
	return ""
}
