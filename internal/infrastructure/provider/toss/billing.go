package toss

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/domain/provider"
)

type billingKeyResponse struct {
	BillingKey      string `json:"billingKey"`
	CustomerKey     string `json:"customerKey"`
	CardCompany     string `json:"cardCompany"`
	CardNumber      string `json:"cardNumber"`
	AuthenticatedAt string `json:"authenticatedAt"`
	Card            struct {
		CardType string `json:"cardType"`
	} `json:"card"`
}

type paymentResponse struct {
	PaymentKey         string `json:"paymentKey"`
	OrderID            string `json:"orderId"`
	Status             string `json:"status"`
	TotalAmount        int64  `json:"totalAmount"`
	ApprovedAt         string `json:"approvedAt"`
	LastTransactionKey string `json:"lastTransactionKey"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IssueBillingKey issues a billing key from Toss Payments
// POST /v1/billing/authorizations/issue
func (t *TossProvider) IssueBillingKey(ctx context.Context, req *provider.IssueBillingKeyRequest) (*provider.IssueBillingKeyResponse, error) {
	t.logger.Info("TossProvider: Issuing billing key",
		zap.String("customer_key", req.CustomerKey))

	body := map[string]string{
		"authKey":     req.AuthKey,
		"customerKey": req.CustomerKey,
	}

	var resp billingKeyResponse
	if err := t.post(ctx, "/billing/authorizations/issue", body, &resp); err != nil {
		return nil, err
	}

	result := &provider.IssueBillingKeyResponse{
		BillingKey:  resp.BillingKey,
		CustomerKey: resp.CustomerKey,
		CardCompany: resp.CardCompany,
		CardNumber:  resp.CardNumber,
		CardType:    resp.Card.CardType,
	}
	if parsed, err := time.Parse(time.RFC3339, resp.AuthenticatedAt); err == nil {
		result.AuthenticatedAt = &parsed
	}

	t.logger.Info("TossProvider: Billing key issued successfully",
		zap.String("customer_key", result.CustomerKey),
		zap.String("card_company", result.CardCompany))

	return result, nil
}

// ChargeBillingKey charges a billing key
// POST /v1/billing/{billingKey}
func (t *TossProvider) ChargeBillingKey(ctx context.Context, req *provider.ChargeBillingKeyRequest) (*provider.ChargeBillingKeyResponse, error) {
	t.logger.Info("TossProvider: Charging billing key",
		zap.String("order_id", req.OrderID),
		zap.Int64("amount", req.Amount))

	body := map[string]interface{}{
		"customerKey": req.CustomerKey,
		"amount":      req.Amount,
		"orderId":     req.OrderID,
		"orderName":   req.OrderName,
	}

	var resp paymentResponse
	if err := t.post(ctx, "/billing/"+url.PathEscape(req.BillingKey), body, &resp); err != nil {
		return nil, err
	}

	result := &provider.ChargeBillingKeyResponse{
		PaymentKey:     resp.PaymentKey,
		OrderID:        resp.OrderID,
		TransactionKey: resp.LastTransactionKey,
		Status:         toPaymentStatus(resp.Status),
		Amount:         resp.TotalAmount,
	}
	if parsed, err := time.Parse(time.RFC3339, resp.ApprovedAt); err == nil {
		result.ApprovedAt = &parsed
	}

	t.logger.Info("TossProvider: Billing charge finished",
		zap.String("order_id", result.OrderID),
		zap.String("payment_key", result.PaymentKey),
		zap.String("toss_status", resp.Status))

	return result, nil
}

// post sends an authenticated JSON request and decodes a 200 response into out.
// Failures come back as *provider.ProviderError.
func (t *TossProvider) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return &provider.ProviderError{
			Code:    provider.ErrCodeMarshal,
			Message: "Failed to prepare request",
			Details: err.Error(),
		}
	}

	endpoint := fmt.Sprintf("%s/%s%s", t.baseURL, apiVersion, path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return &provider.ProviderError{
			Code:    provider.ErrCodeRequest,
			Message: "Failed to create request",
			Details: err.Error(),
		}
	}

	auth := base64.StdEncoding.EncodeToString([]byte(t.secretKey + ":"))
	httpReq.Header.Set("Authorization", "Basic "+auth)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.logger.Error("TossProvider: request failed", zap.String("path", path), zap.Error(err))
		return &provider.ProviderError{
			Code:      provider.ErrCodeAPI,
			Message:   "TossPayments API request failed",
			Details:   err.Error(),
			Transient: true,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &provider.ProviderError{
			Code:       provider.ErrCodeResponse,
			Message:    "Failed to read response",
			Details:    err.Error(),
			StatusCode: resp.StatusCode,
			Transient:  true,
		}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)

		t.logger.Error("TossProvider: API returned error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("code", errResp.Code))

		code := errResp.Code
		if code == "" {
			code = provider.ErrCodeAPI
		}
		message := errResp.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &provider.ProviderError{
			Code:       code,
			Message:    message,
			Details:    string(respBody),
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &provider.ProviderError{
			Code:       provider.ErrCodeParse,
			Message:    "Failed to parse response",
			Details:    err.Error(),
			StatusCode: resp.StatusCode,
		}
	}
	return nil
}
