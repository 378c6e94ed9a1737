package api

// Order is an order as returned by the back end.
type Order struct {
	OrderID         int64   `json:"orderId"`
	OrderCode       string  `json:"orderCode"`
	OrderType       string  `json:"orderType"`
	Status          string  `json:"status"`
	CustomerCode    string  `json:"customerCode,omitempty"`
	DestinationID   int64   `json:"destinationId,omitempty"`
	ExchangeRate    float64 `json:"exchangeRate,omitempty"`
	FinalPriceOrder float64 `json:"finalPriceOrder,omitempty"`
	Note            string  `json:"note,omitempty"`
	CreatedAt       string  `json:"createdAt,omitempty"`
}

// Destination is a shipping destination.
type Destination struct {
	DestinationID   int64  `json:"destinationId"`
	DestinationName string `json:"destinationName"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
}

// CreateOrderRequest is the body of an order creation call.
type CreateOrderRequest struct {
	CustomerCode  string  `json:"customerCode"`
	OrderType     string  `json:"orderType"`
	DestinationID int64   `json:"destinationId"`
	ExchangeRate  float64 `json:"exchangeRate,omitempty"`
	CheckRequired bool    `json:"checkRequired"`
	Note          string  `json:"note,omitempty"`
}

// Order statuses used by the status-filtered listings.
const (
	StatusPending   = "CHO_XU_LY"
	StatusPurchased = "DA_MUA_HANG"
	StatusWarehouse = "DA_NHAP_KHO"
	StatusShipping  = "DANG_VAN_CHUYEN"
	StatusDelivered = "DA_GIAO"
	StatusCancelled = "DA_HUY"
)
