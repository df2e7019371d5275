package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Mini-app authentication. Telegram signs the init data it injects into the
// web app: the signing key is HMAC-SHA256("WebAppData", botToken) and the
// hash covers every field except "hash" itself, sorted, newline-joined.

var (
	ErrInitDataSignature = errors.New("init data signature mismatch")
	ErrInitDataExpired   = errors.New("init data expired")
)

// InitDataUser is the authenticated identity carried inside init data.
type InitDataUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
	PhotoURL     string `json:"photo_url"`
}

// InitData is the verified payload: the user plus the start_param the app
// was opened with, when it came through a deep link.
type InitData struct {
	User       InitDataUser
	StartParam string
}

// VerifyInitData validates the raw init data query string against the bot
// token and returns the embedded payload. maxAge bounds auth_date; zero
// disables the freshness check.
func VerifyInitData(raw, botToken string, maxAge time.Duration) (*InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing init data: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrInitDataSignature
	}
	values.Del("hash")

	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))

	want, err := hex.DecodeString(hash)
	if err != nil || !hmac.Equal(mac.Sum(nil), want) {
		return nil, ErrInitDataSignature
	}

	if maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil || time.Since(time.Unix(authDate, 0)) > maxAge {
			return nil, ErrInitDataExpired
		}
	}

	var user InitDataUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return nil, fmt.Errorf("parsing init data user: %w", err)
	}
	if user.ID == 0 {
		return nil, ErrInitDataSignature
	}
	return &InitData{
		User:       user,
		StartParam: values.Get("start_param"),
	}, nil
}
