package transport

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AuthHeader carries the encoded AuthToken on the websocket upgrade request.
const AuthHeader = "X-Linkboard-Auth"

// NodeHeader names the connecting participant when no secret is configured.
const NodeHeader = "X-Linkboard-Node"

// authWindow is how far a token timestamp may drift from the hub clock.
const authWindow = 300 * time.Second

// AuthToken proves knowledge of the shared secret.
type AuthToken struct {
	NodeID    string `json:"node_id"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	HMAC      string `json:"hmac"`
}

// NewAuthToken creates a token for nodeID signed with secret.
func NewAuthToken(secret, nodeID string) (*AuthToken, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	tok := &AuthToken{
		NodeID:    nodeID,
		Nonce:     hex.EncodeToString(nonce),
		Timestamp: time.Now().Unix(),
	}
	tok.HMAC = tok.sign(secret)
	return tok, nil
}

func (t *AuthToken) sign(secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(fmt.Sprintf("%s%d%s%s", t.Nonce, t.Timestamp, t.NodeID, secret)))
	return hex.EncodeToString(h.Sum(nil))
}

// Encode returns the header form of the token.
func (t *AuthToken) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// ParseAuthToken decodes the header form of a token.
func ParseAuthToken(s string) (*AuthToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad token encoding", ErrAuthFailed)
	}
	var tok AuthToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: bad token payload", ErrAuthFailed)
	}
	return &tok, nil
}

// Verify checks the timestamp window and the HMAC.
func (t *AuthToken) Verify(secret string, now time.Time) error {
	if t.NodeID == "" {
		return fmt.Errorf("%w: token without node id", ErrAuthFailed)
	}
	ts := time.Unix(t.Timestamp, 0)
	if ts.Before(now.Add(-authWindow)) || ts.After(now.Add(authWindow)) {
		return fmt.Errorf("%w: timestamp outside acceptable window", ErrAuthFailed)
	}
	if !hmac.Equal([]byte(t.HMAC), []byte(t.sign(secret))) {
		return fmt.Errorf("%w: HMAC verification failed", ErrAuthFailed)
	}
	return nil
}

// authHeaders builds the upgrade headers for a client.
func authHeaders(secret, nodeID string) (http.Header, error) {
	h := http.Header{}
	h.Set(NodeHeader, nodeID)
	if secret == "" {
		return h, nil
	}
	tok, err := NewAuthToken(secret, nodeID)
	if err != nil {
		return nil, err
	}
	enc, err := tok.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode auth token: %w", err)
	}
	h.Set(AuthHeader, enc)
	return h, nil
}

// authenticate returns the node id of an upgrade request.
func authenticate(r *http.Request, secret string, now time.Time) (string, error) {
	if secret == "" {
		node := r.Header.Get(NodeHeader)
		if node == "" {
			node = r.URL.Query().Get("node")
		}
		if node == "" {
			node = r.RemoteAddr
		}
		return node, nil
	}

	raw := r.Header.Get(AuthHeader)
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return "", fmt.Errorf("%w: missing token", ErrAuthFailed)
	}
	tok, err := ParseAuthToken(raw)
	if err != nil {
		return "", err
	}
	if err := tok.Verify(secret, now); err != nil {
		return "", err
	}
	return tok.NodeID, nil
}
