package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

const defaultAdminAddr = "http://127.0.0.1:8090"

// operatorClient issues signed wire.OperatorCommand requests against a
// running instance's admin HTTP surface, the client side of
// internal/adminhttp's handleOperatorCommand.
type operatorClient struct {
	adminAddr string
	actorID   string
	keyID     string
	key       []byte
	http      *http.Client
}

func newOperatorClient(cmd *cobra.Command) (*operatorClient, error) {
	addr, _ := cmd.Flags().GetString("admin-addr")
	if addr == "" {
		addr = utils.EnvOrDefault("TITAN_ADMIN_ADDR", defaultAdminAddr)
	}
	actor, _ := cmd.Flags().GetString("actor")
	if actor == "" {
		actor = utils.EnvOrDefault("TITAN_ACTOR_ID", "")
	}
	if actor == "" {
		return nil, fmt.Errorf("--actor (or TITAN_ACTOR_ID) is required")
	}
	keyID, _ := cmd.Flags().GetString("key-id")

	key, err := utils.EnvFileOrEnv("TITAN_HMAC_KEY_FILE", "TITAN_HMAC_KEY")
	if err != nil {
		return nil, utils.Wrap(err, "load hmac key")
	}
	if key == "" {
		return nil, fmt.Errorf("TITAN_HMAC_KEY or TITAN_HMAC_KEY_FILE must be set to sign operator commands")
	}

	return &operatorClient{
		adminAddr: addr,
		actorID:   actor,
		keyID:     keyID,
		key:       []byte(key),
		http:      &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// send signs a command for action (and optional policy hash) and posts it
// to the admin surface, returning the resulting OperatorState.
func (c *operatorClient) send(action wire.OperatorAction, policyHash, stateHash string) (*wire.OperatorState, error) {
	cmd := wire.OperatorCommand{
		CommandID:  uuid.NewString(),
		Action:     action,
		ActorID:    c.actorID,
		Timestamp:  time.Now().UnixMilli(),
		StateHash:  stateHash,
		PolicyHash: policyHash,
	}
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(cmd.CanonicalString()))
	cmd.Signature = hex.EncodeToString(mac.Sum(nil))

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.adminAddr+"/api/operator/command", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Titan-Key-Id", c.keyID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, fmt.Errorf("operator command rejected: status %d: %v", resp.StatusCode, errBody["error"])
	}
	var state wire.OperatorState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *operatorClient) health() (map[string]any, error) {
	resp, err := c.http.Get(c.adminAddr + "/healthz")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
