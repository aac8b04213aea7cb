package model

type PaymentCallbackRequest struct {
	OrderID   int64  `json:"order_id"`
	Reference string `json:"reference"`
}

type BlacklistAddRequest struct {
	Numbers string `json:"numbers"`
	Reason  string `json:"reason"`
}

type ActiveProviderRequest struct {
	Name string `json:"name"`
}

type AutoFulfillRequest struct {
	Enabled bool `json:"enabled"`
}
