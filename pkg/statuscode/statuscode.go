// Package statuscode implements the OPC UA 32-bit status code registry.
//
// A status code's top bit distinguishes Bad (unrecoverable at the
// producer level) from Good/Uncertain. Every layer of the secure channel
// and session core reports failures as one of these codes so that they
// can cross the wire unchanged, per the error-kind table in the core's
// error handling design.
package statuscode

// Code is a 32-bit OPC UA status/result code.
type Code uint32

// Severity masks, from the high two bits of a Code.
const (
	severityMask  Code = 0xC0000000
	severityGood  Code = 0x00000000
	severityUncertain Code = 0x40000000
	severityBad   Code = 0x80000000
)

// IsGood returns true if the code carries no error or warning.
func (c Code) IsGood() bool { return c&severityMask == severityGood }

// IsUncertain returns true if the code is a warning, not a hard failure.
func (c Code) IsUncertain() bool { return c&severityMask == severityUncertain }

// IsBad returns true if the code is unrecoverable at the producer level.
func (c Code) IsBad() bool { return c&severityMask == severityBad }

// Well-known status codes used by the secure channel / session core.
// Numeric values follow the OPC UA status code registry.
const (
	Good Code = 0x00000000

	BadDecodingError             Code = 0x80060000
	BadEncodingError             Code = 0x80070000
	BadEncodingLimitsExceeded    Code = 0x80080000
	BadUnknownResponse           Code = 0x80090000
	BadRequestTooLarge           Code = 0x80B80000
	BadResponseTooLarge          Code = 0x80B90000
	BadTcpServerTooBusy          Code = 0x807B0000
	BadTcpMessageTypeInvalid     Code = 0x807C0000
	BadTcpSecureChannelUnknown   Code = 0x807D0000
	BadTcpMessageTooLarge        Code = 0x807E0000
	BadTcpNotEnoughResources     Code = 0x807F0000
	BadTcpInternalError          Code = 0x80800000
	BadTcpEndpointUrlInvalid     Code = 0x80810000
	BadSecurityChecksFailed      Code = 0x80130000
	BadRequestInterrupted        Code = 0x80840000
	BadRequestTimeout            Code = 0x80850000
	BadSecureChannelIdInvalid    Code = 0x80860000
	BadInvalidTimestamp          Code = 0x80870000
	BadNonceInvalid              Code = 0x80880000
	BadSessionIdInvalid          Code = 0x80890000
	BadSessionClosed             Code = 0x808A0000
	BadSessionNotActivated       Code = 0x808B0000
	BadSubscriptionIdInvalid     Code = 0x808C0000
	BadRequestHeaderInvalid      Code = 0x808D0000
	BadTimestampsToReturnInvalid Code = 0x808E0000
	BadRequestCancelledByClient  Code = 0x808F0000
	BadSecureChannelClosed       Code = 0x80310000
	BadSecureChannelTokenUnknown Code = 0x80320000
	BadCertificateInvalid        Code = 0x80140000
	BadCertificateHostNameInvalid Code = 0x81150000
	BadCertificateUriInvalid     Code = 0x81160000
	BadCertificateUseNotAllowed  Code = 0x81170000
	BadCertificateIssuerUseNotAllowed Code = 0x81180000
	BadCertificateUntrusted      Code = 0x81190000
	BadCertificateRevocationUnknown Code = 0x811A0000
	BadCertificateRevoked        Code = 0x811C0000
	BadCertificateChainIncomplete Code = 0x810D0000
	BadIdentityTokenInvalid      Code = 0x80200000
	BadIdentityTokenRejected     Code = 0x80210000
	BadUserAccessDenied          Code = 0x801F0000
	BadConnectionClosed          Code = 0x80AE0000
	BadConnectionRejected        Code = 0x80AF0000
	BadInvalidState              Code = 0x80330000
	BadOutOfRange                Code = 0x803D0000
	BadNotSupported              Code = 0x803E0000
	BadResourceUnavailable       Code = 0x803F0000
	BadCommunicationError        Code = 0x80400000
	BadTimeout                   Code = 0x80410000
	BadNotImplemented            Code = 0x80420000
	BadMaxConnectionsReached      Code = 0x80ED0000
	BadConfigurationError        Code = 0x80B60000
)

var names = map[Code]string{
	Good:                           "Good",
	BadDecodingError:               "BadDecodingError",
	BadEncodingError:               "BadEncodingError",
	BadEncodingLimitsExceeded:      "BadEncodingLimitsExceeded",
	BadUnknownResponse:             "BadUnknownResponse",
	BadRequestTooLarge:             "BadRequestTooLarge",
	BadResponseTooLarge:            "BadResponseTooLarge",
	BadTcpServerTooBusy:            "BadTcpServerTooBusy",
	BadTcpMessageTypeInvalid:       "BadTcpMessageTypeInvalid",
	BadTcpSecureChannelUnknown:     "BadTcpSecureChannelUnknown",
	BadTcpMessageTooLarge:          "BadTcpMessageTooLarge",
	BadTcpNotEnoughResources:       "BadTcpNotEnoughResources",
	BadTcpInternalError:            "BadTcpInternalError",
	BadTcpEndpointUrlInvalid:       "BadTcpEndpointUrlInvalid",
	BadSecurityChecksFailed:        "BadSecurityChecksFailed",
	BadRequestInterrupted:          "BadRequestInterrupted",
	BadRequestTimeout:              "BadRequestTimeout",
	BadSecureChannelIdInvalid:      "BadSecureChannelIdInvalid",
	BadInvalidTimestamp:            "BadInvalidTimestamp",
	BadNonceInvalid:                "BadNonceInvalid",
	BadSessionIdInvalid:            "BadSessionIdInvalid",
	BadSessionClosed:               "BadSessionClosed",
	BadSessionNotActivated:         "BadSessionNotActivated",
	BadSubscriptionIdInvalid:       "BadSubscriptionIdInvalid",
	BadRequestHeaderInvalid:        "BadRequestHeaderInvalid",
	BadTimestampsToReturnInvalid:   "BadTimestampsToReturnInvalid",
	BadRequestCancelledByClient:    "BadRequestCancelledByClient",
	BadSecureChannelClosed:         "BadSecureChannelClosed",
	BadSecureChannelTokenUnknown:   "BadSecureChannelTokenUnknown",
	BadCertificateInvalid:          "BadCertificateInvalid",
	BadCertificateHostNameInvalid:  "BadCertificateHostNameInvalid",
	BadCertificateUriInvalid:       "BadCertificateUriInvalid",
	BadCertificateUseNotAllowed:    "BadCertificateUseNotAllowed",
	BadCertificateIssuerUseNotAllowed: "BadCertificateIssuerUseNotAllowed",
	BadCertificateUntrusted:        "BadCertificateUntrusted",
	BadCertificateRevocationUnknown: "BadCertificateRevocationUnknown",
	BadCertificateRevoked:          "BadCertificateRevoked",
	BadCertificateChainIncomplete:  "BadCertificateChainIncomplete",
	BadIdentityTokenInvalid:        "BadIdentityTokenInvalid",
	BadIdentityTokenRejected:       "BadIdentityTokenRejected",
	BadUserAccessDenied:            "BadUserAccessDenied",
	BadConnectionClosed:            "BadConnectionClosed",
	BadConnectionRejected:          "BadConnectionRejected",
	BadInvalidState:                "BadInvalidState",
	BadOutOfRange:                  "BadOutOfRange",
	BadNotSupported:                "BadNotSupported",
	BadResourceUnavailable:         "BadResourceUnavailable",
	BadCommunicationError:          "BadCommunicationError",
	BadTimeout:                     "BadTimeout",
	BadNotImplemented:              "BadNotImplemented",
	BadMaxConnectionsReached:       "BadMaxConnectionsReached",
	BadConfigurationError:          "BadConfigurationError",
}

// String returns the registry name for the code, or a hex fallback.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	if c.IsBad() {
		return "Bad_0x" + hex32(uint32(c))
	}
	if c.IsUncertain() {
		return "Uncertain_0x" + hex32(uint32(c))
	}
	return "Good_0x" + hex32(uint32(c))
}

const hexDigits = "0123456789ABCDEF"

func hex32(v uint32) string {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = hexDigits[v&0xF]
		v >>= 4
	}
	return string(buf)
}

// Error adapts a Code to the error interface so it can be returned or
// wrapped directly where a plain error is expected.
type Error struct {
	Code   Code
	Reason string
}

// New creates a status-coded error. Reason is an optional human-readable
// detail; it never changes the wire code returned by StatusCode().
func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Reason
}

// StatusCode implements the CodedError contract used across the core.
func (e *Error) StatusCode() Code { return e.Code }
