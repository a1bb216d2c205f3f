// Package token resolves the authentication credential out of the durable
// local store. Several legacy key shapes are still in the wild: a raw bearer
// string, a JSON-quoted string, and one or two levels of object wrapping.
// Resolution never panics and never guesses silently: it returns a tagged
// Result that is either Ok with the normalized token or Err with the reason.
package token

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"tradewire/internal/storage"

	"golang.org/x/crypto/blake2b"
)

// Result is the outcome of a credential resolution.
type Result struct {
	token  string
	reason string
}

// Ok wraps a successfully resolved token.
func Ok(tok string) Result {
	return Result{token: tok}
}

// Err wraps a failed resolution with its reason.
func Err(reason string) Result {
	return Result{reason: reason}
}

// Token returns the resolved token and whether resolution succeeded.
func (r Result) Token() (string, bool) {
	return r.token, r.reason == ""
}

// Reason returns the failure reason, empty on success.
func (r Result) Reason() string {
	return r.reason
}

// Resolve normalizes a stored credential value. Accepted shapes:
//
//	eyJhbGciOi...                       raw token
//	Bearer eyJhbGciOi...                raw token with scheme prefix
//	"eyJhbGciOi..."                     JSON-quoted string
//	{"token": "eyJhbGciOi..."}         wrapped object
//	{"auth": {"token": "eyJ..."}}      nested wrapped object
func Resolve(raw []byte) Result {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return Err("empty credential")
	}

	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "\"") {
		return Ok(stripBearer(s))
	}

	if strings.HasPrefix(s, "\"") {
		var unquoted string
		if err := json.Unmarshal([]byte(s), &unquoted); err != nil {
			return Err("malformed quoted credential")
		}
		if strings.TrimSpace(unquoted) == "" {
			return Err("empty credential")
		}
		return Ok(stripBearer(strings.TrimSpace(unquoted)))
	}

	var wrapped struct {
		Token string `json:"token"`
		Auth  struct {
			Token string `json:"token"`
		} `json:"auth"`
	}
	if err := json.Unmarshal([]byte(s), &wrapped); err != nil {
		return Err("malformed credential object")
	}
	switch {
	case wrapped.Token != "":
		return Ok(stripBearer(wrapped.Token))
	case wrapped.Auth.Token != "":
		return Ok(stripBearer(wrapped.Auth.Token))
	}
	return Err("credential object has no token field")
}

func stripBearer(s string) string {
	if rest, ok := strings.CutPrefix(s, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return s
}

// Digest returns the hex blake2b-256 digest of a credential. Stored records
// are keyed by digest so the raw value never becomes a storage key.
func Digest(tok string) string {
	sum := blake2b.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// Store persists and resolves credentials against the durable local store.
type Store struct {
	db *storage.BboltStorage
}

func NewStore(db *storage.BboltStorage) *Store {
	return &Store{db: db}
}

// Save normalizes and persists a credential. The raw bytes are kept so the
// original shape can be re-resolved after upgrades.
func (s *Store) Save(userID string, raw []byte) Result {
	res := Resolve(raw)
	tok, ok := res.Token()
	if !ok {
		return res
	}

	err := s.db.UpsertCredential(storage.DBCredential{
		Digest:    Digest(tok),
		UserID:    userID,
		Raw:       raw,
		UpdatedAt: time.Now().Unix(),
	})
	if err != nil {
		return Err("failed to persist credential: " + err.Error())
	}
	return res
}

// Latest resolves the most recently stored credential. A missing or corrupt
// record is an Err result, never an error or panic.
func (s *Store) Latest() Result {
	cred, err := s.db.LatestCredential()
	if err != nil {
		return Err("no stored credential")
	}
	return Resolve(cred.Raw)
}
