// Package totp verifies admin one-time codes against the shared secret.
package totp

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/breeze-rmm/gatewatch/internal/secmem"
)

// Step is the TOTP time step.
const Step = 30 * time.Second

// opts accepts only the code for the current step, the same tolerance an
// authenticator app's displayed code is good for.
var opts = totp.ValidateOpts{
	Period:    uint(Step / time.Second),
	Skew:      0,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Verifier checks candidate codes against a base32 secret.
type Verifier struct {
	secret *secmem.Secret
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(secret *secmem.Secret, options ...Option) *Verifier {
	v := &Verifier{secret: secret, now: time.Now}
	for _, o := range options {
		o(v)
	}
	return v
}

// Verify reports whether candidate is the code for the current time step.
// Surrounding whitespace is ignored; anything that is not exactly six
// digits fails.
func (v *Verifier) Verify(candidate string) bool {
	code := strings.TrimSpace(candidate)
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	ok, err := totp.ValidateCustom(code, v.secret.Reveal(), v.now().UTC(), opts)
	return err == nil && ok
}

// Code returns the code for time t. Used by tests and the CLI self-check.
func (v *Verifier) Code(t time.Time) (string, error) {
	return totp.GenerateCodeCustom(v.secret.Reveal(), t.UTC(), opts)
}

// ProvisioningURI builds the otpauth:// URI an authenticator app scans to
// enroll the existing secret.
func ProvisioningURI(secret *secmem.Secret, issuer, account string) (string, error) {
	if account == "" {
		return "", fmt.Errorf("account name is required")
	}
	if _, err := totp.GenerateCodeCustom(secret.Reveal(), time.Now(), opts); err != nil {
		return "", fmt.Errorf("invalid secret: %w", err)
	}

	q := url.Values{}
	q.Set("secret", strings.ToUpper(strings.TrimRight(secret.Reveal(), "=")))
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", "30")

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: q.Encode(),
	}

	key, err := otp.NewKeyFromURL(u.String())
	if err != nil {
		return "", fmt.Errorf("build key: %w", err)
	}
	return key.URL(), nil
}
