package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

// StateCookieName es la cookie de respaldo seteada junto con el redirect de
// /oauth/start. Sólo se consulta si el lookup del state en el store falla por
// indisponibilidad: reproduce el mismo binding {clientID, redirectURI} y la
// comparación contra los valores configurados sigue ocurriendo después.
const StateCookieName = "lb_state"

var errBadStateCookie = errors.New("state cookie inválida")

type stateCookiePayload struct {
	State       string `json:"s"`
	ClientID    string `json:"c"`
	RedirectURI string `json:"r"`
	Exp         int64  `json:"e"`
}

// StateCookieSigner firma y verifica la cookie de fallback con HMAC-SHA256.
type StateCookieSigner struct{ secret []byte }

func NewStateCookieSigner(secret string) *StateCookieSigner {
	if secret == "" {
		return nil
	}
	return &StateCookieSigner{secret: []byte(secret)}
}

func (s *StateCookieSigner) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Encode produce el valor de la cookie: base64(payload).base64(hmac).
func (s *StateCookieSigner) Encode(state, clientID, redirectURI string, ttl time.Duration) (string, error) {
	p := stateCookiePayload{
		State:       state,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Exp:         time.Now().UTC().Add(ttl).Unix(),
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b) + "." + s.sign(b), nil
}

// Decode verifica firma y expiración y devuelve el binding sólo si el state
// de la cookie coincide con el presentado en el callback.
func (s *StateCookieSigner) Decode(value, presentedState string) (*core.AuthState, error) {
	i := -1
	for j := len(value) - 1; j >= 0; j-- {
		if value[j] == '.' {
			i = j
			break
		}
	}
	if i < 0 {
		return nil, errBadStateCookie
	}
	rawPayload, sig := value[:i], value[i+1:]

	b, err := base64.RawURLEncoding.DecodeString(rawPayload)
	if err != nil {
		return nil, errBadStateCookie
	}
	if !hmac.Equal([]byte(s.sign(b)), []byte(sig)) {
		return nil, errBadStateCookie
	}

	var p stateCookiePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, errBadStateCookie
	}
	if time.Now().UTC().Unix() > p.Exp {
		return nil, errBadStateCookie
	}
	if p.State == "" || p.State != presentedState {
		return nil, errBadStateCookie
	}
	return &core.AuthState{
		ClientID:    p.ClientID,
		RedirectURI: p.RedirectURI,
		ExpiresAt:   time.Unix(p.Exp, 0).UTC(),
	}, nil
}
