package notification

// Reason is a machine-readable failure code reported by a provider. The set is
// closed: anything not listed here is normalised to ReasonUnknown.
type Reason string

const ReasonUnknown Reason = "UNKNOWN"

// APNS reasons.
const (
	ReasonBadDeviceToken              Reason = "BadDeviceToken"
	ReasonBadCollapseID               Reason = "BadCollapseId"
	ReasonBadExpirationDate           Reason = "BadExpirationDate"
	ReasonBadMessageID                Reason = "BadMessageId"
	ReasonBadPriority                 Reason = "BadPriority"
	ReasonBadTopic                    Reason = "BadTopic"
	ReasonDeviceTokenNotForTopic      Reason = "DeviceTokenNotForTopic"
	ReasonDuplicateHeaders            Reason = "DuplicateHeaders"
	ReasonIdleTimeout                 Reason = "IdleTimeout"
	ReasonMissingDeviceToken          Reason = "MissingDeviceToken"
	ReasonMissingTopic                Reason = "MissingTopic"
	ReasonPayloadEmpty                Reason = "PayloadEmpty"
	ReasonTopicDisallowed             Reason = "TopicDisallowed"
	ReasonBadCertificate              Reason = "BadCertificate"
	ReasonBadCertificateEnvironment   Reason = "BadCertificateEnvironment"
	ReasonExpiredProviderToken        Reason = "ExpiredProviderToken"
	ReasonForbidden                   Reason = "Forbidden"
	ReasonInvalidProviderToken        Reason = "InvalidProviderToken"
	ReasonMissingProviderToken        Reason = "MissingProviderToken"
	ReasonBadPath                     Reason = "BadPath"
	ReasonMethodNotAllowed            Reason = "MethodNotAllowed"
	ReasonUnregistered                Reason = "Unregistered"
	ReasonPayloadTooLarge             Reason = "PayloadTooLarge"
	ReasonTooManyProviderTokenUpdates Reason = "TooManyProviderTokenUpdates"
	ReasonTooManyRequests             Reason = "TooManyRequests"
	ReasonServiceUnavailable          Reason = "ServiceUnavailable"
	ReasonShutdown                    Reason = "Shutdown"
)

// FCM reasons.
const (
	ReasonNotRegistered             Reason = "NotRegistered"
	ReasonMissingRegistration       Reason = "MissingRegistration"
	ReasonInvalidRegistration       Reason = "InvalidRegistration"
	ReasonInvalidPackageName        Reason = "InvalidPackageName"
	ReasonMismatchSenderID          Reason = "MismatchSenderId"
	ReasonInvalidParameters         Reason = "InvalidParameters"
	ReasonMessageTooBig             Reason = "MessageTooBig"
	ReasonInvalidDataKey            Reason = "InvalidDataKey"
	ReasonInvalidTTL                Reason = "InvalidTtl"
	ReasonUnavailable               Reason = "Unavailable"
	ReasonDeviceMessageRateExceeded Reason = "DeviceMessageRateExceeded"
	ReasonTopicsMessageRateExceeded Reason = "TopicsMessageRateExceeded"
	ReasonInvalidApnsCredential     Reason = "InvalidApnsCredential"
)

// Shared by FCM and APNS.
const ReasonInternalServerError Reason = "InternalServerError"

var knownReasons = map[Reason]struct{}{
	ReasonBadDeviceToken: {}, ReasonBadCollapseID: {}, ReasonBadExpirationDate: {},
	ReasonBadMessageID: {}, ReasonBadPriority: {}, ReasonBadTopic: {},
	ReasonDeviceTokenNotForTopic: {}, ReasonDuplicateHeaders: {}, ReasonIdleTimeout: {},
	ReasonMissingDeviceToken: {}, ReasonMissingTopic: {}, ReasonPayloadEmpty: {},
	ReasonTopicDisallowed: {}, ReasonBadCertificate: {}, ReasonBadCertificateEnvironment: {},
	ReasonExpiredProviderToken: {}, ReasonForbidden: {}, ReasonInvalidProviderToken: {},
	ReasonMissingProviderToken: {}, ReasonBadPath: {}, ReasonMethodNotAllowed: {},
	ReasonUnregistered: {}, ReasonPayloadTooLarge: {}, ReasonTooManyProviderTokenUpdates: {},
	ReasonTooManyRequests: {}, ReasonServiceUnavailable: {}, ReasonShutdown: {},

	ReasonNotRegistered: {}, ReasonMissingRegistration: {}, ReasonInvalidRegistration: {},
	ReasonInvalidPackageName: {}, ReasonMismatchSenderID: {}, ReasonInvalidParameters: {},
	ReasonMessageTooBig: {}, ReasonInvalidDataKey: {}, ReasonInvalidTTL: {},
	ReasonUnavailable: {}, ReasonDeviceMessageRateExceeded: {},
	ReasonTopicsMessageRateExceeded: {}, ReasonInvalidApnsCredential: {},

	ReasonInternalServerError: {},
}

// IsKnownReason reports whether s is part of the taxonomy.
func IsKnownReason(s string) bool {
	_, ok := knownReasons[Reason(s)]
	return ok
}

// ParseReason normalises a raw provider string. Unknown strings become ReasonUnknown.
func ParseReason(s string) Reason {
	if IsKnownReason(s) {
		return Reason(s)
	}
	return ReasonUnknown
}

// IsInvalidDeviceToken reports whether the device token should be dropped.
func (r Reason) IsInvalidDeviceToken() bool {
	switch r {
	case ReasonBadDeviceToken, ReasonDeviceTokenNotForTopic, ReasonUnregistered,
		ReasonNotRegistered, ReasonInvalidRegistration:
		return true
	}
	return false
}

// IsRateLimited reports whether the provider throttled the request.
func (r Reason) IsRateLimited() bool {
	switch r {
	case ReasonDeviceMessageRateExceeded, ReasonTopicsMessageRateExceeded,
		ReasonTooManyProviderTokenUpdates, ReasonTooManyRequests:
		return true
	}
	return false
}

// IsTransient reports whether the provider itself was temporarily unable to deliver.
func (r Reason) IsTransient() bool {
	switch r {
	case ReasonServiceUnavailable, ReasonUnavailable, ReasonInternalServerError,
		ReasonShutdown, ReasonIdleTimeout:
		return true
	}
	return false
}
