package creds

import (
	"os"
	"strings"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

const (
	defaultKeyID    = "default"
	keyEnvPrefix    = "TITAN_HMAC_KEY"
	fileEnvSuffix   = "_FILE"
	keyEnvSeparator = "__"
)

// LoadKeySource builds a StaticKeySource from the process environment.
// Recognized variables:
//
//	TITAN_HMAC_KEY / TITAN_HMAC_KEY_FILE           -> key_id "default"
//	TITAN_HMAC_KEY__<ID> / TITAN_HMAC_KEY__<ID>_FILE -> key_id "<id>" (lowercased)
//
// The *_FILE form wins when both are set, so secrets mounted as files
// (never checked in) take precedence over plain environment values.
// defaultKeyFile, when non-empty, names a file read for the "default"
// key when the environment did not supply one — the config-file route
// (credentials.hmac_key_file).
func LoadKeySource(defaultKeyFile string) (StaticKeySource, error) {
	keys := make(StaticKeySource)

	if v, err := utils.EnvFileOrEnv(keyEnvPrefix+fileEnvSuffix, keyEnvPrefix); err != nil {
		return nil, err
	} else if v != "" {
		keys[defaultKeyID] = []byte(v)
	}

	for _, entry := range os.Environ() {
		name, _, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, keyEnvPrefix+keyEnvSeparator) {
			continue
		}
		id := strings.TrimPrefix(name, keyEnvPrefix+keyEnvSeparator)
		id = strings.TrimSuffix(id, fileEnvSuffix)
		if id == "" {
			continue
		}
		keyID := strings.ToLower(id)
		if _, loaded := keys[keyID]; loaded {
			continue
		}
		base := keyEnvPrefix + keyEnvSeparator + id
		v, err := utils.EnvFileOrEnv(base+fileEnvSuffix, base)
		if err != nil {
			return nil, err
		}
		if v != "" {
			keys[keyID] = []byte(v)
		}
	}

	if _, ok := keys[defaultKeyID]; !ok && defaultKeyFile != "" {
		raw, err := os.ReadFile(defaultKeyFile)
		if err != nil {
			return nil, utils.Wrap(err, "read hmac key file")
		}
		if v := strings.TrimSpace(string(raw)); v != "" {
			keys[defaultKeyID] = []byte(v)
		}
	}
	return keys, nil
}

// Sign computes the hex HMAC-SHA256 of the canonical string msg under the
// key for keyID, for producers (the operator CLI, tests) that need to
// create signatures rather than verify them.
func (s StaticKeySource) Sign(keyID, msg string) (string, bool) {
	key, ok := s[keyID]
	if !ok {
		return "", false
	}
	return sign(key, msg), true
}
