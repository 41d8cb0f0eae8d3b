package domain

import "time"

const EventPaymentStatusChanged = "PaymentStatusChanged"

type PaymentStatusChanged struct {
	PaymentID         string    `json:"paymentId"`
	PaymentMethod     string    `json:"paymentMethod"`
	Status            Status    `json:"status"`
	PreviousStatus    Status    `json:"previousStatus,omitempty"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	MerchantID        string    `json:"merchantId"`
	ProviderReference string    `json:"providerReference"`
	CallbackURL       string    `json:"callbackUrl,omitempty"`
	Errors            []string  `json:"errors"`
	OccurredAt        time.Time `json:"occurredAt"`
}

func NewStatusChanged(p PaymentResponse, previous Status, now time.Time) PaymentStatusChanged {
	return PaymentStatusChanged{
		PaymentID:         p.ID,
		PaymentMethod:     p.PaymentMethod,
		Status:            p.Status,
		PreviousStatus:    previous,
		Amount:            p.Amount.StringFixed(2),
		Currency:          p.Currency,
		MerchantID:        p.MerchantID,
		ProviderReference: p.ProviderReference,
		CallbackURL:       p.CallbackURL,
		Errors:            append([]string{}, p.Errors...),
		OccurredAt:        now.UTC(),
	}
}
