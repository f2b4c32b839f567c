package middleware

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/emanuelef/yt-downloader/internal/domain"
	"github.com/emanuelef/yt-downloader/pkg/safeclient"
)

const maxURLLength = 2048

// URL validation errors. All of them match domain.ErrInvalidURL.
var (
	ErrEmptyURL         = fmt.Errorf("%w: URL cannot be empty", domain.ErrInvalidURL)
	ErrURLTooLong       = fmt.Errorf("%w: URL is too long", domain.ErrInvalidURL)
	ErrMalformedURL     = fmt.Errorf("%w: malformed URL", domain.ErrInvalidURL)
	ErrSchemeNotAllowed = fmt.Errorf("%w: only http and https URLs are allowed", domain.ErrInvalidURL)
	ErrUserInfoPresent  = fmt.Errorf("%w: URLs with user credentials are not allowed", domain.ErrInvalidURL)
	ErrUnsafeCharacters = fmt.Errorf("%w: URL contains unsafe characters", domain.ErrInvalidURL)
	ErrInternalHost     = fmt.Errorf("%w: internal hosts are not allowed", domain.ErrInvalidURL)
	ErrDomainNotAllowed = fmt.Errorf("%w: domain not in allowlist", domain.ErrInvalidURL)
)

// Characters a shell would interpret. URLs reach yt-dlp as a single argv
// entry, so this only rejects obviously hostile input.
const unsafeChars = ";&|$`\\\n\r"

// Validator checks video URLs before they reach yt-dlp.
type Validator struct {
	allowed map[string]struct{}
}

// NewValidator creates a Validator. An empty domain list accepts any public
// host; otherwise a host must equal an entry or be a subdomain of one.
func NewValidator(domains []string) *Validator {
	v := &Validator{}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if v.allowed == nil {
			v.allowed = make(map[string]struct{})
		}
		v.allowed[d] = struct{}{}
	}
	return v
}

// Validate returns nil when rawURL is acceptable.
func (v *Validator) Validate(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)

	if rawURL == "" {
		return ErrEmptyURL
	}
	if len(rawURL) > maxURLLength {
		return ErrURLTooLong
	}
	if strings.ContainsAny(rawURL, unsafeChars) {
		return ErrUnsafeCharacters
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrMalformedURL
	}

	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return ErrSchemeNotAllowed
	}

	if parsed.User != nil {
		return ErrUserInfoPresent
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ErrMalformedURL
	}

	// Literal hosts only. A public name resolving to a private address
	// still passes; yt-dlp does its own resolution.
	if safeclient.IsForbiddenHost(host) {
		return ErrInternalHost
	}

	if !v.domainAllowed(host) {
		return ErrDomainNotAllowed
	}

	return nil
}

// domainAllowed matches the host and each parent domain against the list.
func (v *Validator) domainAllowed(host string) bool {
	if v.allowed == nil {
		return true
	}

	for {
		if _, ok := v.allowed[host]; ok {
			return true
		}
		_, parent, found := strings.Cut(host, ".")
		if !found || !strings.Contains(parent, ".") {
			return false
		}
		host = parent
	}
}

// NormalizeURL trims whitespace and drops the fragment.
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""

	return parsed.String()
}
