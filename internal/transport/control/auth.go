package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	headerClientID  = "x-client-id"
	headerTS        = "x-ts"
	headerNonce     = "x-nonce"
	headerSignature = "x-signature"

	signWindow = 5 * time.Minute
)

func canonicalString(ts, method, pathname, clientID, nonce string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + strings.TrimSpace(clientID) + "\n" + strings.TrimSpace(nonce) + "\n" + string(rawBody)
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns the headers a client must send for a signed request.
func Sign(secret, clientID, nonce, method, pathname string, body []byte, now time.Time) http.Header {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	h := http.Header{}
	h.Set(headerClientID, clientID)
	h.Set(headerTS, ts)
	h.Set(headerNonce, nonce)
	h.Set(headerSignature, signHMAC([]byte(secret), canonicalString(ts, method, pathname, clientID, nonce, body)))
	return h
}

type verifyResult struct {
	ClientID   string
	Signature  string
	HTTPStatus int
	Message    string
}

func verifyHMAC(r *http.Request, rawBody []byte, secret []byte, now time.Time) verifyResult {
	clientID := strings.TrimSpace(r.Header.Get(headerClientID))
	if clientID == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-client-id"}
	}
	tsStr := strings.TrimSpace(r.Header.Get(headerTS))
	if tsStr == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-ts"}
	}
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	if nonce == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-nonce"}
	}
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	if sig == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-signature"}
	}

	tsMS, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "bad x-ts"}
	}
	if d := now.UnixMilli() - tsMS; d > signWindow.Milliseconds() || d < -signWindow.Milliseconds() {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "x-ts outside window"}
	}

	exp := signHMAC(secret, canonicalString(tsStr, r.Method, r.URL.Path, clientID, nonce, rawBody))
	if !hmac.Equal([]byte(sig), []byte(exp)) {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "bad signature"}
	}
	return verifyResult{ClientID: clientID, Signature: sig}
}

// replayGuard remembers accepted signatures for the signing window.
type replayGuard struct {
	mu        sync.Mutex
	seen      map[string]int64
	ttl       time.Duration
	lastPrune int64
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 2 * signWindow
	}
	return &replayGuard{seen: map[string]int64{}, ttl: ttl}
}

func (g *replayGuard) allow(clientID, signature string, now time.Time) bool {
	if g == nil || signature == "" {
		return true
	}
	key := clientID + "|" + signature
	nowMS := now.UnixMilli()
	expiresAt := nowMS + g.ttl.Milliseconds()

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.seen) > 4096 || nowMS-g.lastPrune > g.ttl.Milliseconds()/2 {
		for k, exp := range g.seen {
			if exp <= nowMS {
				delete(g.seen, k)
			}
		}
		g.lastPrune = nowMS
	}
	if exp, ok := g.seen[key]; ok && exp > nowMS {
		return false
	}
	g.seen[key] = expiresAt
	if len(g.seen) > 65536 {
		g.seen = map[string]int64{key: expiresAt}
		g.lastPrune = nowMS
	}
	return true
}
