// Package webhook implements the Webhook Manager: an embedded HTTP server
// that receives unsolicited third-party requests, verifies them, and
// dispatches matched events to registered handlers.
package webhook

import "sync"

// SignatureAlgorithm names the HMAC digest used to verify a webhook body.
type SignatureAlgorithm string

const (
	AlgoSHA1   SignatureAlgorithm = "sha1"
	AlgoSHA256 SignatureAlgorithm = "sha256"
	AlgoSHA512 SignatureAlgorithm = "sha512"
)

// SignatureConfig enables HMAC verification for one registration.
type SignatureConfig struct {
	Secret    string
	Header    string
	Algorithm SignatureAlgorithm
}

// Registration is one registered webhook: a literal path matched against
// inbound requests, and the api it belongs to for verification-token
// lookups.
type Registration struct {
	ID      string
	APIName string
	Path    string
	Enabled bool

	Signature *SignatureConfig
}

// Registry holds registrations, per-webhook handlers, and per-api
// verification tokens behind one mutex.
type Registry struct {
	mu sync.Mutex

	registrations map[string]*Registration
	byPath        map[string]string // path -> registration id

	handlers      map[string]map[int]Handler
	nextHandlerID int

	verificationTokens map[string]string // api -> token

	baseURL string
}

// NewRegistry constructs an empty Registry.
func NewRegistry(baseURL string) *Registry {
	return &Registry{
		registrations:      make(map[string]*Registration),
		byPath:             make(map[string]string),
		handlers:           make(map[string]map[int]Handler),
		verificationTokens: make(map[string]string),
		baseURL:            baseURL,
	}
}

// RegisterWebhook adds or replaces a registration.
func (r *Registry) RegisterWebhook(id, api, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := &Registration{ID: id, APIName: api, Path: path, Enabled: true}
	r.registrations[id] = reg
	r.byPath[path] = id
}

// UnregisterWebhook removes a registration and its handlers.
func (r *Registry) UnregisterWebhook(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[id]
	if !ok {
		return
	}
	delete(r.byPath, reg.Path)
	delete(r.registrations, id)
	delete(r.handlers, id)
}

// ConfigureSignature enables HMAC verification for webhook id.
func (r *Registry) ConfigureSignature(id, secret, header string, algo SignatureAlgorithm) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[id]
	if !ok {
		return false
	}
	reg.Signature = &SignatureConfig{Secret: secret, Header: header, Algorithm: algo}
	return true
}

// SetVerificationToken registers the challenge-response token for api.
func (r *Registry) SetVerificationToken(api, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verificationTokens[api] = token
}

func (r *Registry) verificationToken(api string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.verificationTokens[api]
	return tok, ok
}

// byRequestPath returns the enabled registration matching path, if any.
func (r *Registry) byRequestPath(path string) (*Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPath[path]
	if !ok {
		return nil, false
	}
	reg := r.registrations[id]
	if reg == nil || !reg.Enabled {
		return nil, false
	}
	cp := *reg
	return &cp, true
}

// setBaseURL updates the base URL used by GetWebhookURL, letting StartServer
// fill in the actually-bound address when Config.Port was left as 0.
func (r *Registry) setBaseURL(baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseURL = baseURL
}

// GetWebhookURL composes the public URL for webhook id from the configured
// base URL.
func (r *Registry) GetWebhookURL(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[id]
	if !ok {
		return "", false
	}
	return r.baseURL + reg.Path, true
}

// RegisterWebhookHandler fires h on every event dispatched for webhook id,
// returning a token usable with UnregisterWebhookHandler.
func (r *Registry) RegisterWebhookHandler(id string, h Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[id] == nil {
		r.handlers[id] = make(map[int]Handler)
	}
	token := r.nextHandlerID
	r.nextHandlerID++
	r.handlers[id][token] = h
	return token
}

// UnregisterWebhookHandler removes the handler previously returned by
// RegisterWebhookHandler.
func (r *Registry) UnregisterWebhookHandler(id string, token int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers[id], token)
}

// WebhookInfo is one webhook's get_webhook_info() snapshot.
type WebhookInfo struct {
	ID                       string
	Registered               bool
	APIName                  string
	Path                     string
	Enabled                  bool
	URL                      string
	HandlerCount             int
	HasSignatureVerification bool
}

// GetWebhookInfo reports id's registration, URL, handler count and whether
// signature verification is configured. Unlike GetWebhookURL, an unknown id
// is not an error: it reports Registered: false, mirroring the original
// webhook manager's get_webhook_info().
func (r *Registry) GetWebhookInfo(id string) WebhookInfo {
	r.mu.Lock()
	reg, ok := r.registrations[id]
	if !ok {
		r.mu.Unlock()
		return WebhookInfo{ID: id, Registered: false}
	}
	cp := *reg
	handlerCount := len(r.handlers[id])
	url := r.baseURL + cp.Path
	r.mu.Unlock()

	return WebhookInfo{
		ID:                       id,
		Registered:               true,
		APIName:                  cp.APIName,
		Path:                     cp.Path,
		Enabled:                  cp.Enabled,
		URL:                      url,
		HandlerCount:             handlerCount,
		HasSignatureVerification: cp.Signature != nil,
	}
}

// GetAllWebhooks reports GetWebhookInfo for every registered webhook.
func (r *Registry) GetAllWebhooks() []WebhookInfo {
	r.mu.Lock()
	ids := make([]string, 0, len(r.registrations))
	for id := range r.registrations {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	out := make([]WebhookInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.GetWebhookInfo(id))
	}
	return out
}

func (r *Registry) handlersFor(id string) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[id]
	out := make([]Handler, 0, len(hs))
	for _, h := range hs {
		out = append(out, h)
	}
	return out
}
