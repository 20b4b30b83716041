// Package multisigApi is a client for the REST backend that stores multisig
// accounts and pending transactions on behalf of the web tool.
package multisigApi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

const defaultRequestsPerSecond = 10

// ClientConfig holds the configuration for the backend client
type ClientConfig struct {
	BaseURL string
	Logger  *zap.Logger

	// HTTPClient defaults to a client without a timeout. Requests are bounded
	// by the caller's context.
	HTTPClient *http.Client

	// RequestsPerSecond limits outbound requests. Zero means the default.
	RequestsPerSecond float64
}

// Client talks to the multisig REST backend. It implements
// persistence.IAccountPersistence so a registry can be backed by the REST
// service, and proposal.Publisher so new proposals are mirrored there.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ persistence.IAccountPersistence = (*Client)(nil)

// NewClient creates a new backend client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, errors.ErrInvalidInput.New("config cannot be nil")
	}
	if config.Logger == nil {
		return nil, errors.ErrInvalidInput.New("logger is required")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.ErrInvalidInput.Newf("invalid backend url %q", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:     config.Logger,
	}, nil
}

type createMultisigRequest struct {
	Address    string   `json:"address"`
	PubkeyJSON string   `json:"pubkeyJSON"`
	Components []string `json:"components"`
	Prefix     string   `json:"prefix"`
}

type createMultisigResponse struct {
	Address string `json:"address"`
	Exists  bool   `json:"exists,omitempty"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type createTransactionRequest struct {
	DataJSON string `json:"dataJSON"`
	CreateBy string `json:"createBy"`
	Status   string `json:"status"`
}

type createTransactionResponse struct {
	ID string `json:"_id"`
}

// InsertAccountIfAbsent posts the account to the backend. The backend owns
// the uniqueness check; a 409 or an existence flag in the reply is reported
// as ErrAlreadyExists. The backend indexes accounts by their components, so
// members is not sent.
func (c *Client) InsertAccountIfAbsent(ctx context.Context, account *types.MultisigAccount, members []string) error {
	if account == nil || account.Address == "" {
		return errors.ErrInvalidInput.New("account with an address is required")
	}

	var resp createMultisigResponse
	status, err := c.post(ctx, "/multisig", createMultisigRequest{
		Address:    account.Address,
		PubkeyJSON: account.PubkeyJSON,
		Components: account.Components,
		Prefix:     account.Prefix,
	}, &resp)
	if status == http.StatusConflict {
		return errors.ErrAlreadyExists.Newf("multisig %s already registered", account.Address)
	}
	if err != nil {
		return err
	}
	if resp.Exists {
		return errors.ErrAlreadyExists.Newf("multisig %s already registered", account.Address)
	}
	if resp.Address != "" && resp.Address != account.Address {
		return errors.ErrMalformed.Newf("backend stored %s, expected %s", resp.Address, account.Address)
	}

	c.logger.Sugar().Debugw("Multisig stored in backend", "address", account.Address)
	return nil
}

// LoadAccount fetches an account. The backend answers null for unknown addresses.
func (c *Client) LoadAccount(ctx context.Context, address string) (*types.MultisigAccount, error) {
	var account *types.MultisigAccount
	status, err := c.post(ctx, "/multisig/"+url.PathEscape(address), addressRequest{Address: address}, &account)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccountsByMember returns the accounts whose components include member
func (c *Client) ListAccountsByMember(ctx context.Context, member string) ([]*types.MultisigAccount, error) {
	var accounts []*types.MultisigAccount
	if _, err := c.post(ctx, "/multisig/all-multisig", addressRequest{Address: member}, &accounts); err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []*types.MultisigAccount{}
	}
	persistence.SortAccounts(accounts)
	return accounts, nil
}

// CreateTransaction stores a transaction and returns the backend id
func (c *Client) CreateTransaction(ctx context.Context, dataJSON, createdBy string, status types.ProposalStatus) (string, error) {
	var resp createTransactionResponse
	if _, err := c.post(ctx, "/api/transaction/create", createTransactionRequest{
		DataJSON: dataJSON,
		CreateBy: createdBy,
		Status:   status.String(),
	}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.ErrMalformed.New("backend returned no transaction id")
	}
	return resp.ID, nil
}

// post sends body as JSON and decodes a 2xx reply into out. The status code is
// returned whenever a response arrived. Transport failures and 5xx replies are
// ErrStoreUnavailable; other non-2xx replies are ErrInvalidInput.
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, errors.Wrap(errors.ErrStoreUnavailable, err.Error())
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.Wrap(errors.ErrInvalidInput, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Sugar().Warnw("Backend request failed", "path", path, "error", err)
		return 0, errors.Wrapf(errors.ErrStoreUnavailable, "POST %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errors.Wrapf(errors.ErrStoreUnavailable, "failed to read response: %v", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		c.logger.Sugar().Warnw("Backend returned error",
			"path", path,
			"status_code", resp.StatusCode,
			"body", string(respBody),
		)
		return resp.StatusCode, errors.ErrStoreUnavailable.Newf("POST %s returned %d", path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return resp.StatusCode, errors.ErrInvalidInput.Newf("POST %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, errors.ErrMalformed.Newf("failed to decode %s response: %v", path, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("multisigApi(%s)", c.baseURL)
}
