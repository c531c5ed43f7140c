package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Ad is a classified listing.
type Ad struct {
	ID     int64   `json:"id"`
	Title  string  `json:"title"`
	Price  float64 `json:"price"`
	Status string  `json:"status,omitempty"`
	UserID int64   `json:"user_id,omitempty"`
}

// Banner is a promotional banner.
type Banner struct {
	ID    int64  `json:"id"`
	Title string `json:"title,omitempty"`
	Image string `json:"image"`
	Link  string `json:"link,omitempty"`
}

// Category is a listing category; root categories have no parent.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parentId"`
}

// User is an account as shown on the dashboard.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// WalletTransaction is a wallet ledger entry.
type WalletTransaction struct {
	ID              int64           `json:"id"`
	Amount          float64         `json:"amount"`
	TransactionType json.RawMessage `json:"transactionType,omitempty"`
	Wallet          json.RawMessage `json:"wallet,omitempty"`
}

// DepositRequest is a request to top up a wallet.
type DepositRequest struct {
	ID     int64   `json:"id"`
	Amount float64 `json:"amount"`
	Status string  `json:"status"`
}

// Deposit request decisions.
const (
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ErrInvalidStatus rejects a decision other than approved or rejected.
var ErrInvalidStatus = errors.New("catalog: invalid status")

// StatusChange is the body of a deposit request decision. CustomAmount
// overrides the requested amount on approval.
type StatusChange struct {
	Status       string  `json:"status" validate:"oneof=approved rejected"`
	CustomAmount float64 `json:"customAmount,omitempty" validate:"gte=0"`
}

// RootCategories filters a category listing to top-level categories.
func RootCategories() ListParams {
	return ListParams{Extra: map[string][]string{"parentId": {"null"}}}
}

// ChildCategories filters a category listing to the children of parent.
func ChildCategories(parent int64) ListParams {
	return ListParams{Extra: map[string][]string{"parentId": {strconv.FormatInt(parent, 10)}}}
}

// Deposits is the deposit request collection plus the approval action.
type Deposits struct {
	*Collection[DepositRequest]
	validate *validator.Validate
}

// ChangeStatus approves or rejects request id. A custom amount is sent
// only with an approval.
func (d *Deposits) ChangeStatus(ctx context.Context, id int64, status string, customAmount float64) error {
	body := StatusChange{Status: status}
	if status == StatusApproved {
		body.CustomAmount = customAmount
	}
	if id <= 0 {
		return fmt.Errorf("%w: no request id", ErrInvalidStatus)
	}
	if err := d.validate.Struct(body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	_, err := d.api.Patch(ctx, fmt.Sprintf("%s/%d/change-status", d.base, id), body)
	if err != nil {
		d.log.Error().Err(err).Int64("id", id).Str("status", status).Msg("status change failed")
	}
	return err
}

// Transactions is the wallet transaction collection.
type Transactions struct {
	*Collection[WalletTransaction]
}

// Details fetches a transaction with its type and wallet embedded.
func (t *Transactions) Details(ctx context.Context, id int64) (WalletTransaction, error) {
	return t.Get(ctx, id, "transactionType", "wallet")
}

// Statistics is the admin dashboard summary. Its shape is owned by the
// server and passed through.
type Statistics map[string]json.RawMessage

// Catalog groups the dashboard collections.
type Catalog struct {
	api API

	Ads          *Collection[Ad]
	Banners      *Collection[Banner]
	Categories   *Collection[Category]
	Users        *Collection[User]
	Transactions *Transactions
	Deposits     *Deposits
}

// New builds every collection on api.
func New(api API) *Catalog {
	return &Catalog{
		api:          api,
		Ads:          NewCollection[Ad](api, "/ads"),
		Banners:      NewCollection[Banner](api, "/banners"),
		Categories:   NewCollection[Category](api, "/categories"),
		Users:        NewCollection[User](api, "/users"),
		Transactions: &Transactions{NewCollection[WalletTransaction](api, "/wallet-transactions")},
		Deposits: &Deposits{
			Collection: NewCollection[DepositRequest](api, "/wallet-deposits-requests"),
			validate:   validator.New(),
		},
	}
}

// Statistics fetches the admin dashboard summary.
func (c *Catalog) Statistics(ctx context.Context) (Statistics, error) {
	resp, err := c.api.List(ctx, "/admin/statistics/dashboard", nil)
	if err != nil {
		return nil, err
	}
	var s Statistics
	if err := resp.Decode(&s); err != nil {
		return nil, fmt.Errorf("catalog: statistics: %w", err)
	}
	return s, nil
}
