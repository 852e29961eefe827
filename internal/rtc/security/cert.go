package security

import (
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
)

// GenerateSelfSignedCertificate creates the per-listener DTLS
// identity. A single certificate is reused across connections; the
// peer verifies it via the SDP a=fingerprint line rather than a CA
// chain, so it never needs to be signed by anyone but itself.
func GenerateSelfSignedCertificate() (tls.Certificate, error) {
	return selfsign.GenerateSelfSigned()
}

// Fingerprint renders cert's leaf as the colon-separated uppercase hex
// SHA-256 digest an SDP a=fingerprint line expects.
func Fingerprint(cert tls.Certificate) string {
	sum := sha256.Sum256(cert.Certificate[0])
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
