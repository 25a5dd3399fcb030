package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	mgr := NewManager(Config{Host: "127.0.0.1", Port: 0}, nil, nil, nil)
	require.NoError(t, mgr.StartServer())
	t.Cleanup(func() { _ = mgr.StopServer() })
	return mgr
}

func post(t *testing.T, url string, headers map[string]string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// A matching HMAC signature is accepted; an altered body byte is rejected
// with 401.
func TestManager_HMACVerification(t *testing.T) {
	mgr := testManager(t)
	mgr.RegisterWebhook("wh1", "api", "/hook")
	require.True(t, mgr.ConfigureSignature("wh1", "s", "X-Sig", AlgoSHA256))

	url, ok := mgr.GetWebhookURL("wh1")
	require.True(t, ok)

	body := []byte(`{"a":1}`)
	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	var received []Event
	var mu sync.Mutex
	mgr.RegisterWebhookHandler("wh1", HandlerFunc(func(ev Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	}))

	resp := post(t, url, map[string]string{"X-Sig": sig}, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	badSig := sig[:len(sig)-1] + "0"
	resp = post(t, url, map[string]string{"X-Sig": badSig}, body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 1)
}

func TestManager_GitHubPingHandshake(t *testing.T) {
	mgr := testManager(t)
	mgr.RegisterWebhook("wh1", "api", "/hook")
	url, _ := mgr.GetWebhookURL("wh1")

	resp := post(t, url, map[string]string{"X-GitHub-Event": "ping"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Webhook verification successful", out["message"])
}

func TestManager_HubChallengeHandshake(t *testing.T) {
	mgr := testManager(t)
	mgr.RegisterWebhook("wh1", "api", "/hook")
	mgr.SetVerificationToken("api", "tok123")
	url, _ := mgr.GetWebhookURL("wh1")

	resp, err := http.Get(url + "?hub.mode=subscribe&hub.verify_token=tok123&hub.challenge=echo-me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "echo-me", string(buf[:n]))
}

func TestManager_HubChallengeTokenMismatchFallsThrough(t *testing.T) {
	mgr := testManager(t)
	mgr.RegisterWebhook("wh1", "api", "/hook")
	mgr.SetVerificationToken("api", "tok123")
	url, _ := mgr.GetWebhookURL("wh1")

	resp, err := http.Get(url + "?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=echo-me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "success", out["status"])
}

func TestManager_VerifyQueryHandshake(t *testing.T) {
	mgr := testManager(t)
	mgr.RegisterWebhook("wh1", "api", "/hook")
	mgr.SetVerificationToken("api", "tok123")
	url, _ := mgr.GetWebhookURL("wh1")

	resp, err := http.Get(url + "?verify=tok123")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := make([]byte, 16)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "success", string(buf[:n]))
}

func TestManager_StripeEmptyBodyAck(t *testing.T) {
	mgr := testManager(t)
	mgr.RegisterWebhook("wh1", "api", "/hook")
	url, _ := mgr.GetWebhookURL("wh1")

	resp := post(t, url, map[string]string{"Stripe-Signature": "t=1,v1=abc"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// Unmatched paths are a no-op receipt: 200 without enqueuing.
func TestManager_UnmatchedPathIsNoOp(t *testing.T) {
	mgr := testManager(t)
	base := fmt.Sprintf("http://%s", mgr.ListenAddr())

	resp := post(t, base+"/nowhere", nil, []byte(`{}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestManager_UnregisterRemovesHandlers(t *testing.T) {
	mgr := testManager(t)
	mgr.RegisterWebhook("wh1", "api", "/hook")
	token := mgr.RegisterWebhookHandler("wh1", HandlerFunc(func(Event) {}))
	mgr.UnregisterWebhookHandler("wh1", token)
	mgr.UnregisterWebhook("wh1")

	_, ok := mgr.GetWebhookURL("wh1")
	assert.False(t, ok)
}

func TestManager_StartStopIdempotent(t *testing.T) {
	mgr := NewManager(Config{Host: "127.0.0.1", Port: 0}, nil, nil, nil)
	require.NoError(t, mgr.StartServer())
	require.NoError(t, mgr.StartServer())
	require.NoError(t, mgr.StopServer())
	require.NoError(t, mgr.StopServer())
}
