package headers

type HeaderKey string

const (
	HeaderAuthorization           HeaderKey = "Authorization"
	HeaderContentType             HeaderKey = "Content-Type"
	HeaderQuantumAuthCanonicalB64 HeaderKey = "X-QuantumAuth-Canonical-B64"
	HeaderQuantumAuthAppID        HeaderKey = "X-QuantumAuth-App-ID"
	HeaderQuantumAuthUserID       HeaderKey = "X-QuantumAuth-User-ID"
	HeaderQuantumAuthDeviceID     HeaderKey = "X-QuantumAuth-Device-ID"
	HeaderQuantumAuthNonce        HeaderKey = "X-QuantumAuth-Nonce"
	HeaderQuantumAuthChallengeID  HeaderKey = "X-QuantumAuth-Challenge-ID"
	HeaderQuantumAuthEncrypted    HeaderKey = "X-QuantumAuth-Encrypted"
	HeaderQuantumAuthBackendKey   HeaderKey = "X-QuantumAuth-Backend-Key"
	HeaderQASignature             HeaderKey = "X-QA-Signature"

	// Authorization scheme
	HeaderQuantumAuth = "QuantumAuth"

	// QuantumAuthPrefix is the lower-cased prefix shared by every X-QuantumAuth-* header.
	QuantumAuthPrefix = "x-quantumauth-"

	ContentTypeJSON = "application/json"
)

func (k HeaderKey) String() string {
	return string(k)
}
