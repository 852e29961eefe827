package errors

import "net/http"

// RTC-specific error codes, used by internal/rtc/... for the media
// session core. HTTPStatus is mostly informational here since these
// errors surface over a UDP/RTP path rather than HTTP, but it keeps
// AppError's shape uniform when a handler does bubble one up.
const (
	ErrCodeSdpExchange    ErrorCode = "RTC_SDP_EXCHANGE"
	ErrCodeStun           ErrorCode = "RTC_STUN"
	ErrCodeRtp            ErrorCode = "RTC_RTP"
	ErrCodeRtcp           ErrorCode = "RTC_RTCP"
	ErrCodeRtcpCheck      ErrorCode = "RTC_RTCP_CHECK"
	ErrCodeSrtpProtect    ErrorCode = "RTC_SRTP_PROTECT"
	ErrCodeSrtpUnprotect  ErrorCode = "RTC_SRTP_UNPROTECT"
	ErrCodeStreamDesc     ErrorCode = "RTC_STREAM_DESC"
	ErrCodeNoPlayer       ErrorCode = "RTC_NO_PLAYER"
)

func NewSdpExchangeError(message string) *AppError {
	return NewAppError(ErrCodeSdpExchange, message, http.StatusBadRequest)
}

func NewStunError(message string) *AppError {
	return NewAppError(ErrCodeStun, message, http.StatusBadRequest)
}

func WrapStunError(err error, message string) *AppError {
	return WrapError(err, ErrCodeStun, message, http.StatusBadRequest)
}

func NewRtpError(message string) *AppError {
	return NewAppError(ErrCodeRtp, message, http.StatusInternalServerError)
}

func WrapRtpError(err error, message string) *AppError {
	return WrapError(err, ErrCodeRtp, message, http.StatusInternalServerError)
}

func WrapRtcpError(err error, message string) *AppError {
	return WrapError(err, ErrCodeRtcp, message, http.StatusInternalServerError)
}

func NewRtcpCheckError(message string) *AppError {
	return NewAppError(ErrCodeRtcpCheck, message, http.StatusInternalServerError)
}

func WrapSrtpProtectError(err error) *AppError {
	return WrapError(err, ErrCodeSrtpProtect, "srtp protect failed", http.StatusInternalServerError)
}

func WrapSrtpUnprotectError(err error) *AppError {
	return WrapError(err, ErrCodeSrtpUnprotect, "srtp unprotect failed", http.StatusInternalServerError)
}

func NewStreamDescError(message string) *AppError {
	return NewAppError(ErrCodeStreamDesc, message, http.StatusNotFound)
}

func NewNoPlayerError() *AppError {
	return NewAppError(ErrCodeNoPlayer, "no active player for track", http.StatusNotFound)
}
