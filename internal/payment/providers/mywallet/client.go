package mywallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 20

// GatewayError is a non-2xx answer from the MyWallet API. Its message is the
// operator-facing diagnostic recorded on the payment.
type GatewayError struct {
	Op         string
	StatusCode int
	Reason     string
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("MyWallet %s failed with %d %s: %s", e.Op, e.StatusCode, e.Reason, e.Body)
}

var (
	ErrNoSessionToken = errors.New("no token returned from MyWallet login")
	ErrNoPaymentToken = errors.New("MyWallet checkUser did not return a token")
)

// Client speaks the MyWallet merchant wire protocol.
type Client struct {
	http    *http.Client
	baseURL string
	tracer  trace.Tracer
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		tracer:  otel.Tracer("mywallet-client"),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CheckUserRequest prepares a payment to a recipient.
type CheckUserRequest struct {
	RecipientCell   string          `json:"recipientCell"`
	Amount          decimal.Decimal `json:"amount"`
	Reference       string          `json:"reference"`
	MywalletUser    bool            `json:"mywalletUser"`
	MywalletAccount *string         `json:"mywalletAccount"`
	Commission      int             `json:"commission"`
}

// MarshalJSON sends the amount as a JSON number, which MyWallet requires.
func (r CheckUserRequest) MarshalJSON() ([]byte, error) {
	type plain CheckUserRequest
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"amount"`
	}{plain(r), json.Number(r.Amount.String())})
}

type payMerchantRequest struct {
	Token string `json:"token"`
	OTP   string `json:"otp"`
}

type checkStatusRequest struct {
	Reference string `json:"reference"`
}

// PayResult is the outcome reported by payMerchant. Status is the raw
// remote value.
type PayResult struct {
	Status    string
	Reference string
	Messages  []string
}

// Login exchanges the merchant account credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	obj, err := c.call(ctx, "login", "", loginRequest{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	token, ok := obj.firstStr("token")
	if !ok {
		return "", ErrNoSessionToken
	}
	return token, nil
}

// CheckUser validates the recipient and returns the payment token.
func (c *Client) CheckUser(ctx context.Context, bearer string, req CheckUserRequest) (string, error) {
	obj, err := c.call(ctx, "checkUser", bearer, req)
	if err != nil {
		return "", err
	}
	data, ok := obj.nested("data")
	if !ok {
		return "", ErrNoPaymentToken
	}
	token, ok := data.str("token")
	if !ok {
		return "", ErrNoPaymentToken
	}
	return token, nil
}

// PayMerchant authorizes the prepared payment with the customer's one-time code.
func (c *Client) PayMerchant(ctx context.Context, bearer, paymentToken, otp string) (PayResult, error) {
	obj, err := c.call(ctx, "payMerchant", bearer, payMerchantRequest{Token: paymentToken, OTP: otp})
	if err != nil {
		return PayResult{}, err
	}

	var res PayResult
	if s, ok := obj.str("status"); ok {
		res.Status = s
	} else {
		code, ok := obj.integer("status_code")
		if !ok {
			code, ok = obj.integer("status")
		}
		if ok && code == http.StatusOK {
			res.Status = "success"
		} else {
			res.Status = "failed"
		}
	}
	res.Messages = obj.messages()

	if data, ok := obj.nested("data"); ok {
		if s, ok := data.str("status"); ok {
			res.Status = s
		}
		res.Messages = append(res.Messages, data.messages()...)
	}
	res.Reference, _ = obj.firstStr("reference")
	return res, nil
}

// CheckStatus returns the raw remote status of the transaction.
func (c *Client) CheckStatus(ctx context.Context, bearer, reference string) (string, error) {
	obj, err := c.call(ctx, "checkStatus", bearer, checkStatusRequest{Reference: reference})
	if err != nil {
		return "", err
	}
	status, ok := obj.firstStr("status", "state")
	if !ok {
		return "", errors.New("MyWallet checkStatus response has no status")
	}
	return status, nil
}

func (c *Client) call(ctx context.Context, op, bearer string, payload any) (object, error) {
	ctx, span := c.tracer.Start(ctx, "mywallet."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	status, reason, body, err := c.post(ctx, op, bearer, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status < 200 || status > 299 {
		gerr := &GatewayError{Op: op, StatusCode: status, Reason: reason, Body: string(body)}
		span.SetStatus(codes.Error, gerr.Error())
		return nil, gerr
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("decode MyWallet %s response: %w", op, err)
	}
	return obj, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, payload any) (int, string, []byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(buf))
	if err != nil {
		return 0, "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, "", nil, err
	}
	return resp.StatusCode, reasonPhrase(resp), body, nil
}

func reasonPhrase(resp *http.Response) string {
	if r := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); r != "" && r != resp.Status {
		return r
	}
	return http.StatusText(resp.StatusCode)
}
