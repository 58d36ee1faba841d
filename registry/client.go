// Package registry implements the client side of the Ingwaz discovery
// registry. A server pairs with the registry by posting a wallet-signed
// registration, receives its server id and auth secret through a
// callback, and keeps the pairing alive by watching registry health
// checks. The paired client also uploads signed session usage reports
// and smoke test results.
package registry

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/ingwaz/report"
	"github.com/aukilabs/ingwaz/smoketest"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/segmentio/encoding/json"
)

// HeaderSignature carries the hexutil-encoded Keccak256 signature of a
// request or response body.
const HeaderSignature = "X-Ingwaz-Signature"

const (
	defaultRegistrationInterval = time.Second * 15
	defaultHealthCheckTTL       = time.Minute * 2
	defaultRegistrationRetries  = 3

	registrationPollInterval = time.Millisecond * 500
)

type RegistrationStatus string

const (
	RegistrationStatusUnregistered RegistrationStatus = "unregistered"
	RegistrationStatusPending      RegistrationStatus = "pending"
	RegistrationStatusRegistered   RegistrationStatus = "registered"
)

// Client is a discovery registry client. Create it with NewClient.
type Client struct {
	serverEndpoint        string
	registryEndpoint      string
	registryWalletAddress string
	privateKey            *ecdsa.PrivateKey
	encode                func(any) ([]byte, error)
	decode                func([]byte, any) error
	transport             http.RoundTripper

	mutex           sync.RWMutex
	status          RegistrationStatus
	serverID        string
	authSecret      string
	lastHealthCheck time.Time
}

type Option func(*Client)

// WithServerEndpoint sets the public endpoint this server is reachable
// at, sent in registration payloads.
func WithServerEndpoint(v string) Option {
	return func(c *Client) {
		c.serverEndpoint = strings.TrimSuffix(v, "/")
	}
}

// WithRegistryEndpoint sets the registry base endpoint.
func WithRegistryEndpoint(v string) Option {
	return func(c *Client) {
		c.registryEndpoint = strings.TrimSuffix(v, "/")
	}
}

// WithRegistryWalletAddress sets the registry wallet address used to
// verify signed registry acks. Verification is skipped when empty.
func WithRegistryWalletAddress(v string) Option {
	return func(c *Client) {
		c.registryWalletAddress = v
	}
}

// WithPrivateKey sets the server wallet key used to sign payloads.
func WithPrivateKey(k *ecdsa.PrivateKey) Option {
	return func(c *Client) {
		c.privateKey = k
	}
}

func WithEncoder(encode func(any) ([]byte, error)) Option {
	return func(c *Client) {
		c.encode = encode
	}
}

func WithDecoder(decode func([]byte, any) error) Option {
	return func(c *Client) {
		c.decode = decode
	}
}

func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		encode:    json.Marshal,
		decode:    json.Unmarshal,
		transport: http.DefaultTransport,
		status:    RegistrationStatusUnregistered,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PairIn is the input to Pair.
type PairIn struct {
	// The public endpoint to register. Defaults to the client's server
	// endpoint.
	Endpoint string

	// The duration between registration tries.
	RegistrationInterval time.Duration

	// The elapsed time since the last registry health check that
	// triggers a new registration.
	HealthCheckTTL time.Duration

	// The number of registration tries before Pair gives up.
	RegistrationRetries int

	Version      string
	Modules      []string
	FeatureFlags []string
}

type serverRegistration struct {
	Endpoint      string   `json:"endpoint"`
	Version       string   `json:"version"`
	Modules       []string `json:"modules,omitempty"`
	FeatureFlags  []string `json:"feature_flags,omitempty"`
	WalletAddress string   `json:"wallet_address"`
}

// RegistrationConfirmation is the payload the registry posts back to
// the server's registration endpoint once a registration is accepted.
type RegistrationConfirmation struct {
	ServerID   string `json:"server_id"`
	AuthSecret string `json:"auth_secret"`
}

// Pair registers the server with the registry and keeps the pairing
// alive until the context is canceled. It re-registers when registry
// health checks lapse past the TTL.
func (c *Client) Pair(ctx context.Context, in PairIn) error {
	if in.Endpoint == "" {
		in.Endpoint = c.serverEndpoint
	}
	if in.RegistrationInterval <= 0 {
		in.RegistrationInterval = defaultRegistrationInterval
	}
	if in.HealthCheckTTL <= 0 {
		in.HealthCheckTTL = defaultHealthCheckTTL
	}
	if in.RegistrationRetries <= 0 {
		in.RegistrationRetries = defaultRegistrationRetries
	}

	if err := c.register(ctx, in); err != nil {
		return err
	}

	ticker := time.NewTicker(in.HealthCheckTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if time.Since(c.LastHealthCheck()) <= in.HealthCheckTTL {
				continue
			}

			logs.WithTag("server_id", c.ServerID()).
				WithTag("health_check_ttl", in.HealthCheckTTL).
				Info("registry health checks lapsed, re-registering")

			if err := c.register(ctx, in); err != nil {
				return err
			}
		}
	}
}

func (c *Client) register(ctx context.Context, in PairIn) error {
	var err error

	for attempt := 0; attempt < in.RegistrationRetries; attempt++ {
		if attempt != 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(in.RegistrationInterval):
			}
		}

		if err = c.sendRegistration(ctx, in); err != nil {
			logs.WithTag("attempt", attempt+1).
				WithTag("registry_endpoint", c.registryEndpoint).
				Warn(errors.New("sending registration failed").Wrap(err))
			continue
		}

		if err = c.waitForConfirmation(ctx, in.RegistrationInterval); err == nil {
			return nil
		}
	}

	return errors.New("registering with the registry failed").
		WithTag("retries", in.RegistrationRetries).
		Wrap(err)
}

func (c *Client) sendRegistration(ctx context.Context, in PairIn) error {
	c.setStatus(RegistrationStatusPending)

	body, err := c.encode(serverRegistration{
		Endpoint:      in.Endpoint,
		Version:       in.Version,
		Modules:       in.Modules,
		FeatureFlags:  in.FeatureFlags,
		WalletAddress: c.WalletAddress(),
	})
	if err != nil {
		return errors.New("encoding registration failed").Wrap(err)
	}

	return c.post(ctx, c.registryEndpoint+"/v1/servers", body, nil)
}

// waitForConfirmation polls the registration status until the registry
// confirms through HandleServerRegistration or the timeout elapses.
func (c *Client) waitForConfirmation(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(registrationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.New("registration was not confirmed").Wrap(ctx.Err())

		case <-ticker.C:
			if c.GetRegistrationStatus() == RegistrationStatusRegistered {
				return nil
			}
		}
	}
}

// HandleServerRegistration is the HTTP callback the registry posts a
// registration confirmation to.
func (c *Client) HandleServerRegistration(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var confirmation RegistrationConfirmation
	if err := c.decode(body, &confirmation); err != nil {
		logs.Warn(errors.New("decoding registration confirmation failed").Wrap(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if confirmation.ServerID == "" || confirmation.AuthSecret == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c.mutex.Lock()
	c.serverID = confirmation.ServerID
	c.authSecret = confirmation.AuthSecret
	c.status = RegistrationStatusRegistered
	c.lastHealthCheck = time.Now()
	c.mutex.Unlock()

	logs.WithTag("server_id", confirmation.ServerID).
		Info("registered with the registry")

	w.WriteHeader(http.StatusOK)
}

// HandleHealthCheck records registry health check pings. Pings older
// than the pairing TTL trigger a re-registration.
func (c *Client) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	c.mutex.Lock()
	c.lastHealthCheck = time.Now()
	c.mutex.Unlock()

	w.WriteHeader(http.StatusOK)
}

// Unpair deletes the server registration from the registry.
func (c *Client) Unpair() error {
	serverID := c.ServerID()
	if serverID == "" {
		return nil
	}

	req, err := http.NewRequest(http.MethodDelete, c.registryEndpoint+"/v1/servers/"+serverID, nil)
	if err != nil {
		return errors.New("creating unpair request failed").Wrap(err)
	}

	signature, err := c.signBody([]byte(serverID))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderSignature, signature)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return errors.New("sending unpair request failed").Wrap(err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusMultipleChoices {
		return errors.New("unpair request failed").
			WithTag("status_code", res.StatusCode)
	}

	c.mutex.Lock()
	c.serverID = ""
	c.authSecret = ""
	c.status = RegistrationStatusUnregistered
	c.mutex.Unlock()
	return nil
}

// SendSessionReport uploads a signed session usage report. The
// registry's ack is verified when a registry wallet address is
// configured.
func (c *Client) SendSessionReport(ctx context.Context, r report.SessionUsageReport) error {
	body, err := c.encode(r)
	if err != nil {
		return errors.New("encoding session report failed").Wrap(err)
	}

	return c.post(ctx, c.registryEndpoint+"/v1/session-reports", body, c.verifyAck)
}

// SendSmokeTestResult uploads a signed smoke test result.
func (c *Client) SendSmokeTestResult(ctx context.Context, res smoketest.SmokeTestResults) error {
	body, err := c.encode(res)
	if err != nil {
		return errors.New("encoding smoke test result failed").Wrap(err)
	}

	return c.post(ctx, c.registryEndpoint+"/v1/smoke-tests", body, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte, checkAck func(*http.Response) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.New("creating request failed").
			WithTag("endpoint", endpoint).
			Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	signature, err := c.signBody(body)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderSignature, signature)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return errors.New("sending request failed").
			WithTag("endpoint", endpoint).
			Wrap(err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusMultipleChoices {
		return errors.New("request failed").
			WithTag("endpoint", endpoint).
			WithTag("status_code", res.StatusCode)
	}

	if checkAck != nil {
		return checkAck(res)
	}
	return nil
}

func (c *Client) verifyAck(res *http.Response) error {
	if c.registryWalletAddress == "" {
		return nil
	}

	encodedSignature := res.Header.Get(HeaderSignature)
	if encodedSignature == "" {
		return errors.New("registry ack is not signed")
	}

	signature, err := hexutil.Decode(encodedSignature)
	if err != nil {
		return errors.New("decoding ack signature failed").Wrap(err)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.New("reading ack body failed").Wrap(err)
	}

	return report.VerifyAck(body, signature, c.registryWalletAddress)
}

func (c *Client) signBody(body []byte) (string, error) {
	if c.privateKey == nil {
		return "", errors.New("private key is not set")
	}

	signature, err := crypto.Sign(crypto.Keccak256Hash(body).Bytes(), c.privateKey)
	if err != nil {
		return "", errors.New("signing payload failed").Wrap(err)
	}
	return hexutil.Encode(signature), nil
}

func (c *Client) httpClient() *http.Client {
	return &http.Client{Transport: c.transport}
}

func (c *Client) setStatus(v RegistrationStatus) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.status = v
}

func (c *Client) GetRegistrationStatus() RegistrationStatus {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.status
}

// ServerID returns the id the registry attributed to this server. It
// makes Client a models.SessionDiscoveryService.
func (c *Client) ServerID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.serverID
}

// GetAuthSecret returns the secret user tokens are verified against.
func (c *Client) GetAuthSecret() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.authSecret
}

func (c *Client) LastHealthCheck() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.lastHealthCheck
}

// WalletAddress returns the address of the server wallet key, lowercase
// hex.
func (c *Client) WalletAddress() string {
	if c.privateKey == nil {
		return ""
	}
	return strings.ToLower(crypto.PubkeyToAddress(c.privateKey.PublicKey).Hex())
}
